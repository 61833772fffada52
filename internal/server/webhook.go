package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/dispatch"
	"github.com/teemow/receptionist/internal/instrumentation"
	"github.com/teemow/receptionist/internal/logging"
)

// WebhookTokenHeader carries the shared secret of the voice platform.
const WebhookTokenHeader = "x-retell-webhook-token"

// MaxBodyBytes limits webhook request bodies.
const MaxBodyBytes = 1 << 20

// Normalizer turns a raw payload into a canonical call.
type Normalizer interface {
	Normalize(body []byte) (dispatch.Call, error)
}

// Invoker runs a canonical call.
type Invoker interface {
	Invoke(ctx context.Context, call dispatch.Call) (any, error)
}

// WebhookHandler serves POST /retell/tools.
type WebhookHandler struct {
	normalizer Normalizer
	invoker    Invoker
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. metrics may be nil.
func NewWebhookHandler(normalizer Normalizer, invoker Invoker, metrics *instrumentation.Metrics, logger *slog.Logger) *WebhookHandler {
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		normalizer: normalizer,
		invoker:    invoker,
		metrics:    metrics,
		logger:     logging.WithService(logger, "webhook"),
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, apperr.Normalization("request body too large", err))
			return
		}
		writeError(w, apperr.Normalization("failed to read request body", err))
		return
	}

	call, err := h.normalizer.Normalize(body)
	if err != nil {
		code := apperr.CodeOf(err)
		h.metrics.RecordNormalizationFailure(r.Context(), string(code))
		h.logger.Info("payload rejected", slog.String("code", string(code)), logging.Err(err))
		writeError(w, err)
		return
	}

	result, err := h.invoker.Invoke(r.Context(), call)
	if err != nil {
		if apperr.From(err).Code == apperr.CodeInternal {
			h.logger.Error("tool call failed", logging.Tool(call.Tool.String()), logging.CallID(call.CallID), logging.Err(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RequireToken rejects requests without the shared secret. An empty token
// disables the check.
func RequireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(WebhookTokenHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, apperr.Unauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	writeJSON(w, e.Code.HTTPStatus(), apperr.ToBody(e))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
