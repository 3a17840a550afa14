package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"line-chat-agent/internal/domain"
	"line-chat-agent/internal/repository"
)

const (
	// ClearCommand wipes the sender's stored history.
	ClearCommand = "!清空"

	defaultMaxRecords        = 20
	defaultCompletionTimeout = 20 * time.Second

	// minMaxRecords keeps room for one full user/assistant turn.
	minMaxRecords = 2
)

type Completer interface {
	Complete(ctx context.Context, model string, records []domain.Record) (string, error)
}

type HistoryStore interface {
	Load(ctx context.Context, userID string) (domain.Conversation, error)
	Save(ctx context.Context, conv domain.Conversation) error
	Delete(ctx context.Context, userID string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatService runs one conversational turn per inbound message.
type ChatService struct {
	llm               Completer
	store             HistoryStore
	weather           WeatherLookup
	model             string
	maxRecords        int
	completionTimeout time.Duration
}

type Inbound struct {
	UserID string
	Text   string
	IsText bool
}

type Output struct {
	Reply   string
	Cleared bool
}

type ServiceOption func(*ChatService)

// WithWeather enables forecast lookups for weather questions.
func WithWeather(w WeatherLookup) ServiceOption {
	return func(s *ChatService) {
		s.weather = w
	}
}

func NewChatService(llm Completer, store HistoryStore, model string, maxRecords int, completionTimeout time.Duration, opts ...ServiceOption) (*ChatService, error) {
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	if maxRecords < minMaxRecords {
		maxRecords = minMaxRecords
	}
	if completionTimeout <= 0 {
		completionTimeout = defaultCompletionTimeout
	}
	s := &ChatService{
		llm:               llm,
		store:             store,
		model:             model,
		maxRecords:        maxRecords,
		completionTimeout: completionTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Converse handles one message. On success the returned Output holds the text
// to reply with; on failure the *Error is mapped to user text by ReplyText.
// History is persisted only when the whole turn succeeded.
func (s *ChatService) Converse(ctx context.Context, in Inbound) (Output, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return Output{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if !in.IsText {
		return Output{}, newError(ErrorNonTextInput, "non_text_message", nil)
	}

	text := strings.TrimSpace(in.Text)
	if text == ClearCommand {
		if err := s.store.Delete(ctx, userID); err != nil {
			return Output{}, newError(ErrorStoreWrite, "history_delete_error", err)
		}
		return Output{Reply: ClearedReply, Cleared: true}, nil
	}
	if text == "" {
		return Output{}, newError(ErrorInvalidInput, "empty_text", nil)
	}

	conv, err := s.store.Load(ctx, userID)
	if err != nil {
		return Output{}, newError(ErrorStoreRead, "history_read_error", err)
	}
	conv.UserID = userID

	content := s.augmentWithWeather(ctx, userID, text)
	conv = conv.Append(domain.Record{Role: domain.RoleUser, Content: content}).Window(s.maxRecords)

	raw, err := s.complete(ctx, buildPromptMessages(conv.Records))
	if err != nil {
		return Output{}, err
	}
	answer := sanitizeAnswer(raw)
	if answer == "" {
		return Output{}, newError(ErrorCompletion, "completion_empty", nil)
	}

	conv = conv.Append(domain.Record{Role: domain.RoleAssistant, Content: answer}).Window(s.maxRecords)
	if err := s.store.Save(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return Output{}, newError(ErrorStoreWrite, "store_conflict", err)
		}
		return Output{}, newError(ErrorStoreWrite, "history_write_error", err)
	}
	return Output{Reply: answer}, nil
}

func (s *ChatService) complete(ctx context.Context, messages []domain.Record) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.completionTimeout)
	defer cancel()

	raw, err := s.llm.Complete(cctx, s.model, messages)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return "", newError(ErrorCompletion, "completion_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return "", newError(ErrorCompletion, "completion_rate_limited", err)
	}
	return "", newError(ErrorCompletion, "completion_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
