package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/instrumentation"
	"github.com/teemow/receptionist/internal/logging"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Instrument records request metrics, logs each request and turns panics
// into internal errors.
func Instrument(next http.Handler, metrics *instrumentation.Metrics, logger *slog.Logger) http.Handler {
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				logger.Error("panic in handler",
					slog.String("path", r.URL.Path),
					slog.Any("panic", p))
				if !rec.wroteHeader {
					writeError(rec, apperr.Internal(nil))
				}
			}

			duration := time.Since(start)
			metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, duration)

			level := slog.LevelDebug
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				logging.Status(http.StatusText(rec.status)),
				slog.Int("code", rec.status),
				slog.Duration("duration", duration))
		}()

		next.ServeHTTP(rec, r)
	})
}
