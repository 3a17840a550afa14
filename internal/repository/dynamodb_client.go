package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"line-chat-agent/internal/domain"
)

const (
	keyPrefix   = "chat/"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// ErrConflict is returned by Save when the stored conversation changed since it
// was loaded.
var ErrConflict = errors.New("repository: conversation was modified concurrently")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client wraps a DynamoDB table holding one item per user.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// historyKey returns the partition key for a user's conversation.
func historyKey(userID string) string {
	return keyPrefix + userID
}

func (c *Client) key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: historyKey(userID)},
	}
}

// Load returns the stored conversation for userID. A missing item is an empty
// conversation at version 0.
func (c *Client) Load(ctx context.Context, userID string) (domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Conversation{}, errors.New("repository: Load: user id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{UserID: userID}, nil
	}

	records, err := recordsAttr(out.Item, "messages")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load decode messages: %w", err)
	}
	version, err := intAttr(out.Item, "version")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Load decode version: %w", err)
	}
	return domain.Conversation{UserID: userID, Records: records, Version: version}, nil
}

// Save overwrites the user's conversation, provided nobody saved since conv was
// loaded. A lost race returns an error wrapping ErrConflict.
func (c *Client) Save(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.UserID) == "" {
		return errors.New("repository: Save: user id is required")
	}
	if err := validateRecords(conv.Records); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.conversationItem(conv),
	}
	// A loaded version must still be present: a delete in between is a conflict.
	if conv.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("version = :expected")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(conv.Version, 10)},
		}
	}
	_, err := c.api.PutItem(ctx, in)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("repository: Save: %w", ErrConflict)
		}
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// Delete removes the user's conversation. Deleting an absent item succeeds.
func (c *Client) Delete(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: Delete: user id is required")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(userID),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (c *Client) conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	now := c.now().UTC()
	messages := make([]types.AttributeValue, 0, len(conv.Records))
	for _, r := range conv.Records {
		messages = append(messages, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role":    &types.AttributeValueMemberS{Value: string(r.Role)},
			"content": &types.AttributeValueMemberS{Value: r.Content},
		}})
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: historyKey(conv.UserID)},
		"messages":  &types.AttributeValueMemberL{Value: messages},
		"version":   &types.AttributeValueMemberN{Value: strconv.FormatInt(conv.Version+1, 10)},
		"updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttlDuration).Unix(), 10)},
	}
}

func validateRecords(records []domain.Record) error {
	for i, r := range records {
		if !r.Role.Valid() {
			return fmt.Errorf("record %d has unknown role %q", i, r.Role)
		}
	}
	return nil
}

func recordsAttr(item map[string]types.AttributeValue, key string) ([]domain.Record, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	records := make([]domain.Record, 0, len(list.Value))
	for i, elem := range list.Value {
		m, ok := elem.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: %s[%d] is not a map", key, i)
		}
		role, err := strAttr(m.Value, "role")
		if err != nil {
			return nil, err
		}
		content, err := strAttr(m.Value, "content")
		if err != nil {
			return nil, err
		}
		records = append(records, domain.Record{Role: domain.Role(role), Content: content})
	}
	return records, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
