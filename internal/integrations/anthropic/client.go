package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"line-chat-agent/internal/domain"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultMaxTokens = 1024
)

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d", e.StatusCode)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client completes conversations with the Messages API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTokens  int64

	sdk sdk.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = int64(n)
		}
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxTokens:  defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	c.sdk = sdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(base+"/"),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)
	return c, nil
}

// Complete sends the records to the Messages API. System records are joined
// into the system prompt; the remaining records keep their order.
func (c *Client) Complete(ctx context.Context, model string, records []domain.Record) (string, error) {
	if model == "" {
		return "", errors.New("anthropic: model must not be empty")
	}

	system, messages := splitSystem(records)
	if len(messages) == 0 {
		return "", errors.New("anthropic: at least one user message is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", &HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(sdk.TextBlock); ok {
			out.WriteString(b.Text)
		}
	}
	if out.Len() == 0 {
		return "", errors.New("anthropic: no text content in response")
	}
	return out.String(), nil
}

func splitSystem(records []domain.Record) (string, []sdk.MessageParam) {
	var (
		system []string
		msgs   []sdk.MessageParam
	)
	for _, r := range records {
		switch r.Role {
		case domain.RoleSystem:
			system = append(system, r.Content)
		case domain.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(r.Content)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(r.Content)))
		}
	}
	return strings.Join(system, "\n"), msgs
}
