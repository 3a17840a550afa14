package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"line-chat-agent/internal/integrations/line"
	"line-chat-agent/internal/usecase"
)

// maxBodyBytes bounds a single webhook delivery.
const maxBodyBytes = 1 << 20

// Routes serves the webhook on /callback and /linebot.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/callback", h)
	mux.Handle("/linebot", h)
	return mux
}

// ServeHTTP runs the same flow as Handle for a plain HTTP server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set(correlationHeader, correlationID)
	logger := slog.Default().With("correlation_id", correlationID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResult(w, errorResult(http.StatusMethodNotAllowed, string(usecase.ErrorInvalidInput)))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.WarnContext(r.Context(), "failed to read webhook body", "err", err)
		writeResult(w, errorResult(http.StatusBadRequest, string(usecase.ErrorInvalidInput)))
		return
	}

	writeResult(w, h.process(r.Context(), logger, body, r.Header.Get(line.SignatureHeader)))
}

func writeResult(w http.ResponseWriter, res result) {
	w.Header().Set("Content-Type", res.contentType)
	w.WriteHeader(res.status)
	_, _ = io.WriteString(w, res.body)
}
