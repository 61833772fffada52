package tools

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/appointments"
	"github.com/teemow/receptionist/internal/dispatch"
	"github.com/teemow/receptionist/internal/instrumentation"
)

type fakeDispatcher struct {
	result any
	err    error
	calls  []dispatch.Call
}

func (f *fakeDispatcher) Dispatch(_ context.Context, call dispatch.Call) (any, error) {
	f.calls = append(f.calls, call)
	return f.result, f.err
}

func newProvider(t *testing.T) *instrumentation.Provider {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: instrumentation.ExporterPrometheus,
		TracingExporter: instrumentation.ExporterNone,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

func scrape(t *testing.T, p *instrumentation.Provider) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func newAudit(buf *bytes.Buffer) *instrumentation.AuditLogger {
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	return instrumentation.NewAuditLogger(logger)
}

func TestInvoker_Success(t *testing.T) {
	provider := newProvider(t)
	var buf bytes.Buffer
	d := &fakeDispatcher{result: appointments.ConfirmResult{AppointmentID: "evt_1", Status: appointments.StatusConfirmed}}
	inv := NewInvoker(d, provider.Metrics(), newAudit(&buf))

	call := dispatch.Call{
		Tool:      dispatch.ToolConfirmBooking,
		Arguments: map[string]any{"hold_id": "h1", "slot_id": "slot_1", "caller_phone": "+12015550123"},
		CallID:    "call_1",
	}
	result, err := inv.Invoke(context.Background(), call)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if r, ok := result.(appointments.ConfirmResult); !ok || r.AppointmentID != "evt_1" {
		t.Errorf("unexpected result %#v", result)
	}
	if len(d.calls) != 1 || d.calls[0].CallID != "call_1" {
		t.Errorf("expected the call to be forwarded, got %#v", d.calls)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"tool_executed"`, `"tool":"confirm_booking"`, `"hold_id":"h1"`, `"appointment_id":"evt_1"`, `"call_id":"call_1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit record missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "2015550123") {
		t.Error("audit record must not contain the raw phone number")
	}

	metrics := scrape(t, provider)
	if !strings.Contains(metrics, `tool="confirm_booking"`) || !strings.Contains(metrics, `status="success"`) {
		t.Errorf("expected a successful confirm_booking invocation, got:\n%s", metrics)
	}
}

func TestInvoker_Error(t *testing.T) {
	provider := newProvider(t)
	var buf bytes.Buffer
	d := &fakeDispatcher{err: apperr.HoldExpired("h1")}
	inv := NewInvoker(d, provider.Metrics(), newAudit(&buf))

	_, err := inv.Invoke(context.Background(), dispatch.Call{
		Tool:      dispatch.ToolConfirmBooking,
		Arguments: map[string]any{"hold_id": "h1", "slot_id": "slot_1"},
	})
	if apperr.CodeOf(err) != apperr.CodeHoldExpired {
		t.Fatalf("expected hold_expired, got %v", err)
	}
	if !strings.Contains(buf.String(), `"msg":"tool_failed"`) {
		t.Errorf("expected tool_failed audit record, got:\n%s", buf.String())
	}
	if !strings.Contains(scrape(t, provider), `status="hold_expired"`) {
		t.Error("expected the error code as status label")
	}
}

func TestInvoker_NoInstrumentation(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.TransferResult{Status: "transferring"}}
	inv := NewInvoker(d, nil, nil)

	result, err := inv.Invoke(context.Background(), dispatch.Call{Tool: dispatch.ToolRouteLive, Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != (dispatch.TransferResult{Status: "transferring"}) {
		t.Errorf("unexpected result %#v", result)
	}
}

func TestAppointmentID(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   string
	}{
		{"confirm", appointments.ConfirmResult{AppointmentID: "evt_1"}, "evt_1"},
		{"cancel", appointments.CancelResult{AppointmentID: "evt_2"}, "evt_2"},
		{"reschedule", appointments.ManageResult{PreviousAppointmentID: "evt_3"}, "evt_3"},
		{"other", dispatch.TransferResult{}, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := appointmentID(tt.result); got != tt.want {
				t.Errorf("appointmentID() = %q, want %q", got, tt.want)
			}
		})
	}
}
