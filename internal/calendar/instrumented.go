package calendar

import (
	"context"
	"time"

	"github.com/teemow/receptionist/internal/instrumentation"
)

// OperationRecorder receives the outcome of each gateway call.
type OperationRecorder interface {
	RecordCalendarOperation(ctx context.Context, operation, status string, duration time.Duration)
}

type instrumentedGateway struct {
	next     Gateway
	recorder OperationRecorder
}

// Instrument wraps gw so that every call is traced and recorded. A nil
// recorder only traces.
func Instrument(gw Gateway, recorder OperationRecorder) Gateway {
	return &instrumentedGateway{next: gw, recorder: recorder}
}

func (g *instrumentedGateway) observe(ctx context.Context, op string, fn func(ctx context.Context) error) {
	start := time.Now()
	ctx, span := instrumentation.StartCalendarSpan(ctx, op)
	err := fn(ctx)
	instrumentation.EndSpan(span, err)
	if g.recorder != nil {
		g.recorder.RecordCalendarOperation(ctx, op, instrumentation.ErrorStatus(err), time.Since(start))
	}
}

func (g *instrumentedGateway) FindSlots(ctx context.Context, c Criteria) (slots []Slot, err error) {
	g.observe(ctx, instrumentation.OperationFindSlots, func(ctx context.Context) error {
		slots, err = g.next.FindSlots(ctx, c)
		return err
	})
	return slots, err
}

func (g *instrumentedGateway) PlaceHold(ctx context.Context, slot Slot, details HoldDetails) (ref HoldRef, err error) {
	g.observe(ctx, instrumentation.OperationPlaceHold, func(ctx context.Context) error {
		ref, err = g.next.PlaceHold(ctx, slot, details)
		return err
	})
	return ref, err
}

func (g *instrumentedGateway) Confirm(ctx context.Context, ref HoldRef) (id string, err error) {
	g.observe(ctx, instrumentation.OperationConfirm, func(ctx context.Context) error {
		id, err = g.next.Confirm(ctx, ref)
		return err
	})
	return id, err
}

func (g *instrumentedGateway) Cancel(ctx context.Context, appointmentID string) (err error) {
	g.observe(ctx, instrumentation.OperationCancel, func(ctx context.Context) error {
		err = g.next.Cancel(ctx, appointmentID)
		return err
	})
	return err
}

func (g *instrumentedGateway) Release(ctx context.Context, ref HoldRef) (err error) {
	g.observe(ctx, instrumentation.OperationRelease, func(ctx context.Context) error {
		err = g.next.Release(ctx, ref)
		return err
	})
	return err
}
