package line

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/stretchr/testify/require"
)

type fakeReplyAPI struct {
	reqs []*messaging_api.ReplyMessageRequest
	err  error
}

func (f *fakeReplyAPI) ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &messaging_api.ReplyMessageResponse{}, nil
}

func TestReplier_Reply(t *testing.T) {
	api := &fakeReplyAPI{}
	r, err := NewReplier(api)
	require.NoError(t, err)

	require.NoError(t, r.Reply(context.Background(), "reply-1", "對話歷史紀錄已經清空！"))
	require.Len(t, api.reqs, 1)
	require.Equal(t, "reply-1", api.reqs[0].ReplyToken)
	require.Len(t, api.reqs[0].Messages, 1)
	msg, ok := api.reqs[0].Messages[0].(messaging_api.TextMessage)
	require.True(t, ok)
	require.Equal(t, "對話歷史紀錄已經清空！", msg.Text)
}

func TestReplier_TruncatesLongText(t *testing.T) {
	api := &fakeReplyAPI{}
	r, err := NewReplier(api)
	require.NoError(t, err)

	require.NoError(t, r.Reply(context.Background(), "reply-1", strings.Repeat("字", maxTextRunes+10)))
	msg := api.reqs[0].Messages[0].(messaging_api.TextMessage)
	require.Len(t, []rune(msg.Text), maxTextRunes)
}

func TestReplier_Errors(t *testing.T) {
	api := &fakeReplyAPI{err: errors.New("Invalid reply token")}
	r, err := NewReplier(api)
	require.NoError(t, err)

	err = r.Reply(context.Background(), "reply-1", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid reply token")

	err = r.Reply(context.Background(), " ", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "reply token")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, r.Reply(ctx, "reply-1", "hi"))
	require.Len(t, api.reqs, 1)
}

func TestNewReplier_Validation(t *testing.T) {
	_, err := NewReplier(nil)
	require.Error(t, err)

	_, err = NewReplierFromToken(" ")
	require.Error(t, err)
}

func TestNewReplierFromToken_SendsToEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sentMessages":[]}`))
	}))
	defer srv.Close()

	r, err := NewReplierFromToken("token-1", WithReplyEndpoint(srv.URL))
	require.NoError(t, err)
	require.NoError(t, r.Reply(context.Background(), "reply-1", "你好"))
	require.Equal(t, "/v2/bot/message/reply", gotPath)
	require.Equal(t, "Bearer token-1", gotAuth)
}

func TestNewReplierFromToken_StalledAPITimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	r, err := NewReplierFromToken("token-1",
		WithReplyEndpoint(srv.URL),
		WithReplyHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
	)
	require.NoError(t, err)

	start := time.Now()
	err = r.Reply(context.Background(), "reply-1", "你好")
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestNewReplierFromToken_DefaultClientHasTimeout(t *testing.T) {
	cfg := replierConfig{httpClient: &http.Client{Timeout: defaultReplyTimeout}}
	WithReplyHTTPClient(nil)(&cfg)
	require.Equal(t, defaultReplyTimeout, cfg.httpClient.Timeout)
}
