package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

const (
	// maxTextRunes is the platform limit for a single text message.
	maxTextRunes = 5000

	defaultReplyTimeout = 10 * time.Second
)

// replyAPI is the subset of *messaging_api.MessagingApiAPI used by Replier.
type replyAPI interface {
	ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
}

// Replier sends one text reply per reply token.
type Replier struct {
	api replyAPI
}

func NewReplier(api replyAPI) (*Replier, error) {
	if api == nil {
		return nil, errors.New("line: reply api must not be nil")
	}
	return &Replier{api: api}, nil
}

type ReplierOption func(*replierConfig)

type replierConfig struct {
	endpoint   string
	httpClient *http.Client
}

// WithReplyEndpoint points the Messaging API client at another base URL.
func WithReplyEndpoint(endpoint string) ReplierOption {
	return func(c *replierConfig) {
		c.endpoint = strings.TrimSpace(endpoint)
	}
}

func WithReplyHTTPClient(httpClient *http.Client) ReplierOption {
	return func(c *replierConfig) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewReplierFromToken builds a Replier backed by the Messaging API. Requests
// are bounded by a 10s client timeout unless WithReplyHTTPClient says otherwise.
func NewReplierFromToken(channelAccessToken string, opts ...ReplierOption) (*Replier, error) {
	channelAccessToken = strings.TrimSpace(channelAccessToken)
	if channelAccessToken == "" {
		return nil, errors.New("line: channel access token must not be empty")
	}
	cfg := replierConfig{httpClient: &http.Client{Timeout: defaultReplyTimeout}}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiOpts := []messaging_api.MessagingApiAPIOption{messaging_api.WithHTTPClient(cfg.httpClient)}
	if cfg.endpoint != "" {
		apiOpts = append(apiOpts, messaging_api.WithEndpoint(cfg.endpoint))
	}
	bot, err := messaging_api.NewMessagingApiAPI(channelAccessToken, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("line: create messaging api client: %w", err)
	}
	return NewReplier(bot)
}

func (r *Replier) Reply(ctx context.Context, replyToken, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}
	if strings.TrimSpace(replyToken) == "" {
		return errors.New("line: reply token is required")
	}
	_, err := r.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: truncateRunes(text, maxTextRunes)},
		},
	})
	if err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
