package line

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body.
const SignatureHeader = "X-Line-Signature"

// ErrInvalidSignature is returned when the body does not match its signature.
var ErrInvalidSignature = errors.New("line: invalid signature")

// Message is the part of a message event the chat flow cares about.
type Message struct {
	ReplyToken string
	UserID     string
	Text       string
	IsText     bool
}

// ParseRequest verifies the signature of a webhook delivery and decodes its
// events.
func ParseRequest(ctx context.Context, channelSecret string, body []byte, signature string) ([]webhook.EventInterface, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/callback", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("line: build request: %w", err)
	}
	req.Header.Set(SignatureHeader, signature)

	cb, err := webhook.ParseRequest(channelSecret, req)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("line: decode webhook: %w", err)
	}
	return cb.Events, nil
}

// FirstMessage extracts the first event of a delivery when it is a message
// event. Later events are ignored.
func FirstMessage(events []webhook.EventInterface) (Message, bool) {
	if len(events) == 0 {
		return Message{}, false
	}
	e, ok := events[0].(webhook.MessageEvent)
	if !ok {
		return Message{}, false
	}

	msg := Message{ReplyToken: e.ReplyToken, UserID: sourceUserID(e.Source)}
	if text, ok := e.Message.(webhook.TextMessageContent); ok {
		msg.Text = text.Text
		msg.IsText = true
	}
	return msg, true
}

func sourceUserID(src webhook.SourceInterface) string {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	}
	return ""
}
