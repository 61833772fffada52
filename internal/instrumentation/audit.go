package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/receptionist/internal/logging"
)

// ToolInvocation captures one tool call for audit logging.
//
// Caller holds the raw phone number and is PII. LogAttrs only ever emits its
// hash; LogAuditAttrs emits it verbatim.
type ToolInvocation struct {
	Tool   string
	CallID string
	Caller string

	HoldID        string
	AppointmentID string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	// Code is the apperr code of a failed invocation.
	Code  string
	Error string

	TraceID string
	SpanID  string
}

// NewToolInvocation creates a new ToolInvocation with timing started.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithCall sets the call id and caller phone.
func (ti *ToolInvocation) WithCall(callID, caller string) *ToolInvocation {
	ti.CallID = callID
	ti.Caller = caller
	return ti
}

// WithHold sets the hold the invocation acted on.
func (ti *ToolInvocation) WithHold(holdID string) *ToolInvocation {
	ti.HoldID = holdID
	return ti
}

// WithAppointment sets the resulting appointment id.
func (ti *ToolInvocation) WithAppointment(appointmentID string) *ToolInvocation {
	ti.AppointmentID = appointmentID
	return ti
}

// WithSpanContext extracts trace context from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ti.TraceID = span.SpanContext().TraceID().String()
		ti.SpanID = span.SpanContext().SpanID().String()
	}
	return ti
}

// Complete marks the invocation as completed and calculates duration.
func (ti *ToolInvocation) Complete(err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = err == nil
	if err != nil {
		ti.Code = ErrorStatus(err)
		ti.Error = err.Error()
	}
	return ti
}

// Status returns "success" or the failure code.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	if ti.Code != "" {
		return ti.Code
	}
	return StatusError
}

// CallerHash returns the anonymized caller, or "" when unknown.
func (ti *ToolInvocation) CallerHash() string {
	if ti.Caller == "" {
		return ""
	}
	return logging.AnonymizeCaller(ti.Caller)
}

// LogAttrs returns slog attributes safe for operational logs.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.Duration("duration", ti.Duration),
		slog.String("status", ti.Status()),
	}
	if hash := ti.CallerHash(); hash != "" {
		attrs = append(attrs, slog.String("caller_hash", hash))
	}
	return ti.appendOptional(attrs)
}

// LogAuditAttrs returns slog attributes including the raw caller phone.
func (ti *ToolInvocation) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.Duration("duration", ti.Duration),
		slog.String("status", ti.Status()),
	}
	if ti.Caller != "" {
		attrs = append(attrs, slog.String("caller", ti.Caller))
	}
	attrs = ti.appendOptional(attrs)
	if ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	return attrs
}

func (ti *ToolInvocation) appendOptional(attrs []slog.Attr) []slog.Attr {
	if ti.CallID != "" {
		attrs = append(attrs, slog.String("call_id", ti.CallID))
	}
	if ti.HoldID != "" {
		attrs = append(attrs, slog.String("hold_id", ti.HoldID))
	}
	if ti.AppointmentID != "" {
		attrs = append(attrs, slog.String("appointment_id", ti.AppointmentID))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	return attrs
}

// AuditLogger writes one structured record per tool invocation.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an enabled AuditLogger that hashes callers.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("component", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation logs ti at info on success and warn on failure.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = ti.LogAuditAttrs()
	} else {
		attrs = ti.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ti.Success {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_failed", args...)
	}
}
