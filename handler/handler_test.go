package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"line-chat-agent/internal/domain"
	"line-chat-agent/internal/usecase"
)

const testSecret = "test-channel-secret"

type stubConversation struct {
	out   usecase.Output
	err   error
	in    usecase.Inbound
	calls int
}

func (s *stubConversation) Converse(_ context.Context, in usecase.Inbound) (usecase.Output, error) {
	s.calls++
	s.in = in
	return s.out, s.err
}

type sentReply struct {
	token string
	text  string
}

type recordingReplier struct {
	sent []sentReply
	err  error
}

func (r *recordingReplier) Reply(_ context.Context, replyToken, text string) error {
	r.sent = append(r.sent, sentReply{token: replyToken, text: text})
	return r.err
}

type memoryStore struct {
	convs map[string]domain.Conversation
}

func (m *memoryStore) Load(_ context.Context, userID string) (domain.Conversation, error) {
	if conv, ok := m.convs[userID]; ok {
		return conv, nil
	}
	return domain.Conversation{UserID: userID}, nil
}

func (m *memoryStore) Save(_ context.Context, conv domain.Conversation) error {
	conv.Version++
	m.convs[conv.UserID] = conv
	return nil
}

func (m *memoryStore) Delete(_ context.Context, userID string) error {
	delete(m.convs, userID)
	return nil
}

type fixedLLM struct {
	answer string
	err    error
}

func (f fixedLLM) Complete(context.Context, string, []domain.Record) (string, error) {
	return f.answer, f.err
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func textDelivery(userID, replyToken, text string) string {
	return fmt.Sprintf(`{
		"destination": "Ubot",
		"events": [{
			"type": "message",
			"mode": "active",
			"timestamp": 1700000000000,
			"webhookEventId": "01HEVT",
			"deliveryContext": {"isRedelivery": false},
			"replyToken": %q,
			"source": {"type": "user", "userId": %q},
			"message": {"type": "text", "id": "100", "quoteToken": "q1", "text": %q}
		}]
	}`, replyToken, userID, text)
}

const stickerDelivery = `{
	"destination": "Ubot",
	"events": [{
		"type": "message",
		"mode": "active",
		"timestamp": 1700000000000,
		"webhookEventId": "01HEVS",
		"deliveryContext": {"isRedelivery": false},
		"replyToken": "reply-s",
		"source": {"type": "user", "userId": "U1"},
		"message": {"type": "sticker", "id": "102", "quoteToken": "q3", "packageId": "1", "stickerId": "1", "stickerResourceType": "STATIC"}
	}]
}`

const verifyDelivery = `{"destination":"Ubot","events":[]}`

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/callback",
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"x-line-signature": sign(body),
		},
		Body: body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, svc Conversation, replier Replier) *Handler {
	t.Helper()
	h, err := NewHandler(svc, replier, testSecret)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &recordingReplier{}, testSecret)
	require.Error(t, err)

	_, err = NewHandler(&stubConversation{}, nil, testSecret)
	require.Error(t, err)

	_, err = NewHandler(&stubConversation{}, &recordingReplier{}, " ")
	require.Error(t, err)
}

func TestHandle_FirstMessageScenario(t *testing.T) {
	store := &memoryStore{convs: map[string]domain.Conversation{}}
	svc, err := usecase.NewChatService(fixedLLM{answer: "你好！有什麼我可以幫忙的嗎？"}, store, "gpt-3.5-turbo", 20, time.Second)
	require.NoError(t, err)
	replier := &recordingReplier{}
	h := newTestHandler(t, svc, replier)

	resp, err := h.Handle(context.Background(), makeEvent(textDelivery("U1", "reply-1", "你好")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", resp.Body)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, []sentReply{{token: "reply-1", text: "你好！有什麼我可以幫忙的嗎？"}}, replier.sent)
	require.Equal(t, []domain.Record{
		{Role: domain.RoleUser, Content: "你好"},
		{Role: domain.RoleAssistant, Content: "你好！有什麼我可以幫忙的嗎？"},
	}, store.convs["U1"].Records)
}

func TestHandle_ClearScenario(t *testing.T) {
	store := &memoryStore{convs: map[string]domain.Conversation{
		"U2": {UserID: "U2", Records: []domain.Record{
			{Role: domain.RoleUser, Content: "記住我喜歡貓"},
			{Role: domain.RoleAssistant, Content: "好的，我記住了！"},
		}, Version: 1},
	}}
	svc, err := usecase.NewChatService(fixedLLM{answer: "unused"}, store, "gpt-3.5-turbo", 20, time.Second)
	require.NoError(t, err)
	replier := &recordingReplier{}
	h := newTestHandler(t, svc, replier)

	resp, err := h.Handle(context.Background(), makeEvent(textDelivery("U2", "reply-2", "!清空")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []sentReply{{token: "reply-2", text: "對話歷史紀錄已經清空！"}}, replier.sent)
	require.NotContains(t, store.convs, "U2")
}

func TestHandle_CompletionFailureRepliesWithApology(t *testing.T) {
	store := &memoryStore{convs: map[string]domain.Conversation{}}
	svc, err := usecase.NewChatService(fixedLLM{err: errors.New("connection refused")}, store, "gpt-3.5-turbo", 20, time.Second)
	require.NoError(t, err)
	replier := &recordingReplier{}
	h := newTestHandler(t, svc, replier)

	resp, err := h.Handle(context.Background(), makeEvent(textDelivery("U1", "reply-1", "你好")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []sentReply{{token: "reply-1", text: usecase.ApologyReply}}, replier.sent)
	require.Empty(t, store.convs)
}

func TestHandle_NonTextMessage(t *testing.T) {
	uc := &stubConversation{err: &usecase.Error{Code: usecase.ErrorNonTextInput, Reason: "non_text_message"}}
	replier := &recordingReplier{}
	h := newTestHandler(t, uc, replier)

	resp, err := h.Handle(context.Background(), makeEvent(stickerDelivery))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.Inbound{UserID: "U1"}, uc.in)
	require.Equal(t, []sentReply{{token: "reply-s", text: usecase.NonTextReply}}, replier.sent)
}

func TestHandle_InvalidSignature(t *testing.T) {
	uc := &stubConversation{}
	replier := &recordingReplier{}
	h := newTestHandler(t, uc, replier)

	event := makeEvent(textDelivery("U1", "reply-1", "你好"))
	event.Headers["x-line-signature"] = sign("something else")
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_SIGNATURE", parseBody[errorResponse](t, resp.Body).Error)
	require.Zero(t, uc.calls)
	require.Empty(t, replier.sent)

	delete(event.Headers, "x-line-signature")
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, uc.calls)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubConversation{}
	h := newTestHandler(t, uc, &recordingReplier{})

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, string(usecase.ErrorInvalidInput), parseBody[errorResponse](t, resp.Body).Error)
	require.Zero(t, uc.calls)

	event := makeEvent(verifyDelivery)
	event.IsBase64Encoded = true
	event.Body = "%%%"
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_Base64Body(t *testing.T) {
	uc := &stubConversation{out: usecase.Output{Reply: "ok"}}
	replier := &recordingReplier{}
	h := newTestHandler(t, uc, replier)

	body := textDelivery("U1", "reply-1", "你好")
	event := makeEvent(body)
	event.IsBase64Encoded = true
	event.Body = base64.StdEncoding.EncodeToString([]byte(body))

	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.Inbound{UserID: "U1", Text: "你好", IsText: true}, uc.in)
	require.Len(t, replier.sent, 1)
}

func TestHandle_VerificationDeliveryNoReply(t *testing.T) {
	uc := &stubConversation{}
	replier := &recordingReplier{}
	h := newTestHandler(t, uc, replier)

	resp, err := h.Handle(context.Background(), makeEvent(verifyDelivery))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", resp.Body)
	require.Zero(t, uc.calls)
	require.Empty(t, replier.sent)
}

func TestHandle_ReplyFailureIsSwallowed(t *testing.T) {
	uc := &stubConversation{out: usecase.Output{Reply: "hi"}}
	replier := &recordingReplier{err: errors.New("line: reply: 400 Invalid reply token")}
	h := newTestHandler(t, uc, replier)

	resp, err := h.Handle(context.Background(), makeEvent(textDelivery("U1", "reply-1", "你好")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, replier.sent, 1)
}

func TestHandle_MapsUseCaseErrorsToReplies(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		reply string
	}{
		{name: "store read", err: &usecase.Error{Code: usecase.ErrorStoreRead, Reason: "history_read_error"}, reply: usecase.StoreReadReply},
		{name: "completion", err: &usecase.Error{Code: usecase.ErrorCompletion, Reason: "completion_timeout"}, reply: usecase.ApologyReply},
		{name: "store write", err: &usecase.Error{Code: usecase.ErrorStoreWrite, Reason: "store_conflict"}, reply: usecase.ApologyReply},
		{name: "unexpected", err: errors.New("boom"), reply: usecase.ApologyReply},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			replier := &recordingReplier{}
			h := newTestHandler(t, &stubConversation{err: tc.err}, replier)

			resp, err := h.Handle(context.Background(), makeEvent(textDelivery("U1", "reply-1", "你好")))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, []sentReply{{token: "reply-1", text: tc.reply}}, replier.sent)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubConversation{out: usecase.Output{Reply: "ok"}}, &recordingReplier{})

	event := makeEvent(verifyDelivery)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestServeHTTP(t *testing.T) {
	uc := &stubConversation{out: usecase.Output{Reply: "嗨"}}
	replier := &recordingReplier{}
	srv := httptest.NewServer(newTestHandler(t, uc, replier).Routes())
	defer srv.Close()

	body := textDelivery("U1", "reply-1", "你好")
	for _, path := range []string{"/callback", "/linebot"} {
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("X-Line-Signature", sign(body))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))
	}
	require.Len(t, replier.sent, 2)

	resp, err := http.Get(srv.URL + "/callback")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/callback", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Line-Signature", "bogus")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Len(t, replier.sent, 2)
}
