package tools

import (
	"context"
	"time"

	"github.com/teemow/receptionist/internal/appointments"
	"github.com/teemow/receptionist/internal/dispatch"
	"github.com/teemow/receptionist/internal/instrumentation"
)

// Dispatcher runs a normalized call.
type Dispatcher interface {
	Dispatch(ctx context.Context, call dispatch.Call) (any, error)
}

// Invoker wraps a Dispatcher with a tool span, invocation metrics and an
// audit record. metrics and audit may be nil.
type Invoker struct {
	dispatcher Dispatcher
	metrics    *instrumentation.Metrics
	audit      *instrumentation.AuditLogger
}

// NewInvoker creates an Invoker.
func NewInvoker(dispatcher Dispatcher, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger) *Invoker {
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	return &Invoker{dispatcher: dispatcher, metrics: metrics, audit: audit}
}

// Invoke dispatches call and records its outcome.
func (i *Invoker) Invoke(ctx context.Context, call dispatch.Call) (any, error) {
	holdID := stringArg(call.Arguments, "hold_id")
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithCallID(call.CallID).
		WithHold(holdID, stringArg(call.Arguments, "slot_id")).
		Build()
	ctx, span := instrumentation.StartToolSpan(ctx, call.Tool.String(), attrs...)

	start := time.Now()
	invocation := instrumentation.NewToolInvocation(call.Tool.String()).
		WithCall(call.CallID, stringArg(call.Arguments, "caller_phone")).
		WithHold(holdID).
		WithSpanContext(ctx)

	result, err := i.dispatcher.Dispatch(ctx, call)
	duration := time.Since(start)

	if id := appointmentID(result); id != "" {
		invocation.WithAppointment(id)
	}
	invocation.Complete(err)

	i.metrics.RecordToolInvocationWithCaller(ctx, call.Tool.String(), invocation.Status(), invocation.CallerHash(), duration)
	i.audit.LogToolInvocation(invocation)
	instrumentation.EndSpan(span, err)

	return result, err
}

func appointmentID(result any) string {
	switch r := result.(type) {
	case appointments.ConfirmResult:
		return r.AppointmentID
	case appointments.CancelResult:
		return r.AppointmentID
	case appointments.ManageResult:
		return r.PreviousAppointmentID
	}
	return ""
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
