package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"line-chat-agent/internal/integrations/line"
	"line-chat-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	errorInvalidSignature = "INVALID_SIGNATURE"
)

type Conversation interface {
	Converse(ctx context.Context, in usecase.Inbound) (usecase.Output, error)
}

type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

type Handler struct {
	svc           Conversation
	replier       Replier
	channelSecret string
}

type errorResponse struct {
	Error string `json:"error"`
}

// result is the transport-neutral outcome of one webhook delivery.
type result struct {
	status      int
	contentType string
	body        string
}

func NewHandler(svc Conversation, replier Replier, channelSecret string) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: conversation service must not be nil")
	}
	if replier == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	if strings.TrimSpace(channelSecret) == "" {
		return nil, errors.New("handler: channel secret must not be empty")
	}
	return &Handler{svc: svc, replier: replier, channelSecret: channelSecret}, nil
}

// Handle is the Lambda entry point for API Gateway deliveries.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.Default().With("correlation_id", correlationID)

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			logger.WarnContext(ctx, "invalid base64 body", "err", err)
			return errorResult(http.StatusBadRequest, string(usecase.ErrorInvalidInput)).apiGateway(correlationID), nil
		}
		body = decoded
	}

	res := h.process(ctx, logger, body, headerValue(req.Headers, line.SignatureHeader))
	return res.apiGateway(correlationID), nil
}

// process verifies a delivery, runs the first message event through the chat
// service and sends exactly one reply for it.
func (h *Handler) process(ctx context.Context, logger *slog.Logger, body []byte, signature string) result {
	evts, err := line.ParseRequest(ctx, h.channelSecret, body, signature)
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			logger.WarnContext(ctx, "rejected webhook with invalid signature")
			return errorResult(http.StatusBadRequest, errorInvalidSignature)
		}
		logger.WarnContext(ctx, "undecodable webhook body", "err", err)
		return errorResult(http.StatusBadRequest, string(usecase.ErrorInvalidInput))
	}

	msg, ok := line.FirstMessage(evts)
	if !ok {
		logger.InfoContext(ctx, "no message event to handle", "events", len(evts))
		return okResult()
	}
	logger = logger.With("user_id", msg.UserID)

	replyText := h.converse(ctx, logger, msg)
	if err := h.replier.Reply(ctx, msg.ReplyToken, replyText); err != nil {
		logger.ErrorContext(ctx, "reply failed", "err", err)
	}
	return okResult()
}

func (h *Handler) converse(ctx context.Context, logger *slog.Logger, msg line.Message) string {
	out, err := h.svc.Converse(ctx, usecase.Inbound{UserID: msg.UserID, Text: msg.Text, IsText: msg.IsText})
	if err == nil {
		if out.Cleared {
			logger.InfoContext(ctx, "history cleared")
		}
		return out.Reply
	}

	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		level := slog.LevelError
		if ucErr.Code == usecase.ErrorNonTextInput || ucErr.Code == usecase.ErrorInvalidInput {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "conversation failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		logger.ErrorContext(ctx, "conversation failed", "code", usecase.ErrorInternal, "err", err)
	}
	return usecase.ReplyText(err)
}

func (r result) apiGateway(correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: r.status,
		Headers: map[string]string{
			"Content-Type":    r.contentType,
			correlationHeader: correlationID,
		},
		Body: r.body,
	}
}

func okResult() result {
	return result{status: http.StatusOK, contentType: "text/plain; charset=utf-8", body: "OK"}
}

func errorResult(status int, code string) result {
	b, err := json.Marshal(errorResponse{Error: code})
	if err != nil {
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return result{status: status, contentType: "application/json", body: string(b)}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
