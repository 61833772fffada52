package appointments_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/appointments"
	"github.com/teemow/receptionist/internal/calendar"
	"github.com/teemow/receptionist/internal/clock"
	"github.com/teemow/receptionist/internal/crm"
	"github.com/teemow/receptionist/internal/holds"
)

// Monday morning, before opening.
var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fakePatients struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakePatients) UpsertPatient(_ context.Context, name, dob, phone string) (crm.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return crm.Patient{ID: "p1", Name: name, DOB: dob, Phone: phone}, f.err
}

type fixture struct {
	orch     *appointments.Orchestrator
	store    *holds.Store
	gateway  *calendar.MemoryGateway
	clock    *clock.Manual
	patients *fakePatients
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	store := holds.NewStore(holds.NewMemoryBackend(), holds.WithClock(clk))
	gw := calendar.NewMemoryGateway(calendar.DefaultSlotRules(time.UTC))
	patients := &fakePatients{}
	orch := appointments.New(store, gw, patients, appointments.Config{TimeZone: time.UTC}, nil)
	return &fixture{orch: orch, store: store, gateway: gw, clock: clk, patients: patients}
}

func (f *fixture) book(t *testing.T) appointments.ManageResult {
	t.Helper()
	res, err := f.orch.Manage(context.Background(), appointments.ManageRequest{
		Action: appointments.ActionBook,
		Caller: holds.CallerContext{Name: "Jane Doe", Phone: "+15551234567", Reason: "checkup"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Options)
	return res
}

func TestManageBook(t *testing.T) {
	f := newFixture(t)
	res := f.book(t)

	assert.Equal(t, appointments.StatusPendingConfirmation, res.Status)
	assert.Equal(t, 180, res.ExpiresInSec)
	assert.NotEmpty(t, res.GroupID)
	require.Len(t, res.Options, 3)
	assert.Equal(t, res.Options[0].HoldID, res.HoldID)
	assert.Equal(t, "Mon Oct 19, 09:00 AM", res.Options[0].Display)

	wantStarts := []time.Time{
		t0.Add(time.Hour),
		t0.Add(90 * time.Minute),
		t0.Add(2 * time.Hour),
	}
	for i, opt := range res.Options {
		assert.Equal(t, wantStarts[i], opt.Start)
		assert.Equal(t, calendar.SlotID(wantStarts[i], time.UTC), opt.SlotID)

		h, err := f.store.Get(context.Background(), opt.HoldID)
		require.NoError(t, err)
		assert.Equal(t, holds.StatePending, h.State)
		assert.Equal(t, res.GroupID, h.GroupID)
		assert.NotEmpty(t, h.EventID)
		assert.Equal(t, "Jane Doe", h.Caller.Name)
	}
	assert.Equal(t, 3, f.gateway.Calls("place_hold"))
}

func TestManageNoAvailability(t *testing.T) {
	f := newFixture(t)
	f.gateway.AddBusy(calendar.TimeRange{Start: t0, End: t0.AddDate(0, 0, 8)})

	res, err := f.orch.Manage(context.Background(), appointments.ManageRequest{
		Action: appointments.ActionBook,
		Caller: holds.CallerContext{Name: "Jane Doe"},
	})
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusNoAvailability, res.Status)
	assert.NotNil(t, res.Options)
	assert.Empty(t, res.Options)
	assert.Equal(t, 0, f.gateway.Calls("place_hold"))
}

func TestManageGatewayErrors(t *testing.T) {
	t.Run("find slots failure is transient", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.FindSlotsErr = func() error { return errors.New("connection reset") }

		_, err := f.orch.Manage(context.Background(), appointments.ManageRequest{Action: appointments.ActionBook})
		require.Error(t, err)
		assert.Equal(t, apperr.CodeGatewayTransient, apperr.CodeOf(err))
	})

	t.Run("failed placement skips the slot", func(t *testing.T) {
		f := newFixture(t)
		n := 0
		f.gateway.PlaceHoldErr = func(calendar.Slot) error {
			n++
			if n == 2 {
				return errors.New("slot taken")
			}
			return nil
		}

		res, err := f.orch.Manage(context.Background(), appointments.ManageRequest{Action: appointments.ActionBook})
		require.NoError(t, err)
		assert.Equal(t, appointments.StatusPendingConfirmation, res.Status)
		require.Len(t, res.Options, 2)
		assert.Equal(t, t0.Add(time.Hour), res.Options[0].Start)
		assert.Equal(t, t0.Add(2*time.Hour), res.Options[1].Start)
		assert.Equal(t, 3, f.gateway.Calls("place_hold"))
		assert.Len(t, f.gateway.Events(), 2)
		assert.Equal(t, 0, f.gateway.Calls("release"))
	})

	t.Run("every placement failing is transient", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.PlaceHoldErr = func(calendar.Slot) error { return errors.New("rate limited") }

		_, err := f.orch.Manage(context.Background(), appointments.ManageRequest{Action: appointments.ActionBook})
		require.Error(t, err)
		assert.Equal(t, apperr.CodeGatewayTransient, apperr.CodeOf(err))
		assert.Empty(t, f.gateway.Events())
	})

	t.Run("canceled context stops placement", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		n := 0
		f.gateway.PlaceHoldErr = func(calendar.Slot) error {
			n++
			if n == 2 {
				cancel()
				return context.Canceled
			}
			return nil
		}

		_, err := f.orch.Manage(ctx, appointments.ManageRequest{Action: appointments.ActionBook})
		require.Error(t, err)
		assert.Equal(t, 2, f.gateway.Calls("place_hold"))
		assert.Empty(t, f.gateway.Events())
	})
}

func TestManageCompensatesRejectedInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Claimed locally but unknown to the calendar.
	nine := t0.Add(time.Hour)
	_, err := f.store.Create(ctx, holds.NewHold{
		ID:        "other",
		SlotID:    calendar.SlotID(nine, time.UTC),
		SlotStart: nine,
		SlotEnd:   nine.Add(30 * time.Minute),
	})
	require.NoError(t, err)

	res, err := f.orch.Manage(ctx, appointments.ManageRequest{
		Action: appointments.ActionBook,
		Caller: holds.CallerContext{Name: "Jane Doe"},
	})
	require.NoError(t, err)
	require.Len(t, res.Options, 2)
	for _, opt := range res.Options {
		assert.NotEqual(t, calendar.SlotID(nine, time.UTC), opt.SlotID)
	}
	assert.Equal(t, 1, f.gateway.Calls("release"))
	assert.Len(t, f.gateway.Events(), 2)
}

func TestManageReschedule(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Manage(context.Background(), appointments.ManageRequest{Action: appointments.ActionReschedule})
	assert.ErrorIs(t, err, apperr.ErrMissingArgument)

	res, err := f.orch.Manage(context.Background(), appointments.ManageRequest{
		Action:        appointments.ActionReschedule,
		AppointmentID: "evt_old",
		Caller:        holds.CallerContext{Name: "Jane Doe"},
	})
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusReschedulePending, res.Status)
	assert.Equal(t, "evt_old", res.PreviousAppointmentID)
	for _, opt := range res.Options {
		h, err := f.store.Get(context.Background(), opt.HoldID)
		require.NoError(t, err)
		assert.Equal(t, "evt_old", h.PreviousAppointmentID)
	}
}

func TestConfirm(t *testing.T) {
	t.Run("first confirmation books and releases siblings", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		res := f.book(t)
		first := res.Options[0]

		out, err := f.orch.Confirm(ctx, appointments.ConfirmRequest{
			HoldID: first.HoldID,
			SlotID: first.SlotID,
			Caller: holds.CallerContext{DOB: "1980-01-01"},
		})
		require.NoError(t, err)
		assert.Equal(t, appointments.StatusConfirmed, out.Status)
		assert.NotEmpty(t, out.AppointmentID)
		assert.False(t, out.Replayed)
		assert.Empty(t, out.Warnings)

		h, err := f.store.Get(ctx, first.HoldID)
		require.NoError(t, err)
		assert.Equal(t, holds.StateConfirmed, h.State)
		assert.Equal(t, "1980-01-01", h.Caller.DOB)
		assert.Equal(t, "Jane Doe", h.Caller.Name)

		for _, opt := range res.Options[1:] {
			sibling, err := f.store.Get(ctx, opt.HoldID)
			require.NoError(t, err)
			assert.Equal(t, holds.StateReleased, sibling.State)
		}
		assert.Equal(t, []string{out.AppointmentID}, f.gateway.Events())
		assert.Equal(t, []string{"Jane Doe"}, f.patients.names)
	})

	t.Run("mismatched slot after sibling confirmed", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		res := f.book(t)
		s1, s2 := res.Options[0], res.Options[1]

		out, err := f.orch.Confirm(ctx, appointments.ConfirmRequest{HoldID: s1.HoldID, SlotID: s1.SlotID})
		require.NoError(t, err)
		require.NotEmpty(t, out.AppointmentID)

		_, err = f.orch.Confirm(ctx, appointments.ConfirmRequest{HoldID: s2.HoldID, SlotID: s1.SlotID})
		assert.ErrorIs(t, err, apperr.ErrSlotMismatch)
		assert.Equal(t, 1, f.gateway.Calls("confirm"))
	})

	t.Run("replay returns recorded appointment", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		opt := f.book(t).Options[0]
		req := appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID}

		first, err := f.orch.Confirm(ctx, req)
		require.NoError(t, err)
		second, err := f.orch.Confirm(ctx, req)
		require.NoError(t, err)

		assert.True(t, second.Replayed)
		assert.Equal(t, first.AppointmentID, second.AppointmentID)
		assert.Equal(t, 1, f.gateway.Calls("confirm"))
		assert.Len(t, f.patients.names, 1)
	})

	t.Run("concurrent duplicates confirm once", func(t *testing.T) {
		f := newFixture(t)
		opt := f.book(t).Options[0]
		req := appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID}

		const n = 8
		ids := make([]string, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := f.orch.Confirm(context.Background(), req)
				ids[i], errs[i] = out.AppointmentID, err
			}()
		}
		wg.Wait()

		for i := range n {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		assert.NotEmpty(t, ids[0])
		assert.Equal(t, 1, f.gateway.Calls("confirm"))
	})

	t.Run("expired without sweep", func(t *testing.T) {
		f := newFixture(t)
		opt := f.book(t).Options[0]
		f.clock.Advance(181 * time.Second)

		_, err := f.orch.Confirm(context.Background(), appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
		assert.ErrorIs(t, err, apperr.ErrHoldExpired)
		assert.Equal(t, apperr.CategoryTerminal, apperr.From(err).Category())
		assert.Equal(t, 0, f.gateway.Calls("confirm"))
		assert.Equal(t, 1, f.gateway.Calls("release"))

		h, err := f.store.Get(context.Background(), opt.HoldID)
		require.NoError(t, err)
		assert.Equal(t, holds.StateExpired, h.State)
	})

	t.Run("lapsed upstream hold expires locally", func(t *testing.T) {
		f := newFixture(t)
		opt := f.book(t).Options[0]
		h, err := f.store.Get(context.Background(), opt.HoldID)
		require.NoError(t, err)
		f.gateway.Expire(h.EventID)

		_, err = f.orch.Confirm(context.Background(), appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
		assert.ErrorIs(t, err, apperr.ErrHoldExpired)

		h, err = f.store.Get(context.Background(), opt.HoldID)
		require.NoError(t, err)
		assert.Equal(t, holds.StateExpired, h.State)
	})

	t.Run("gateway failure keeps hold pending", func(t *testing.T) {
		f := newFixture(t)
		opt := f.book(t).Options[0]
		req := appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID}

		f.gateway.ConfirmErr = func(calendar.HoldRef) error { return errors.New("503 backend error") }
		_, err := f.orch.Confirm(context.Background(), req)
		assert.ErrorIs(t, err, apperr.ErrGatewayTransient)

		h, err := f.store.Get(context.Background(), opt.HoldID)
		require.NoError(t, err)
		assert.Equal(t, holds.StatePending, h.State)

		f.gateway.ConfirmErr = nil
		out, err := f.orch.Confirm(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, out.Replayed)
		assert.Equal(t, 2, f.gateway.Calls("confirm"))
	})

	t.Run("unknown hold", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.Confirm(context.Background(), appointments.ConfirmRequest{HoldID: "nope", SlotID: "slot_x"})
		assert.ErrorIs(t, err, apperr.ErrHoldNotFound)
	})

	t.Run("crm failure is not fatal", func(t *testing.T) {
		f := newFixture(t)
		f.patients.err = errors.New("crm down")
		opt := f.book(t).Options[0]

		out, err := f.orch.Confirm(context.Background(), appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
		require.NoError(t, err)
		assert.Equal(t, appointments.StatusConfirmed, out.Status)
	})
}

func TestRescheduleCompletion(t *testing.T) {
	bookAndConfirm := func(t *testing.T, f *fixture) string {
		t.Helper()
		opt := f.book(t).Options[0]
		out, err := f.orch.Confirm(context.Background(), appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
		require.NoError(t, err)
		return out.AppointmentID
	}

	reschedule := func(t *testing.T, f *fixture, old string) appointments.Option {
		t.Helper()
		res, err := f.orch.Manage(context.Background(), appointments.ManageRequest{
			Action:        appointments.ActionReschedule,
			AppointmentID: old,
			Caller:        holds.CallerContext{Name: "Jane Doe"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, res.Options)
		return res.Options[0]
	}

	t.Run("old appointment canceled after new one confirmed", func(t *testing.T) {
		f := newFixture(t)
		old := bookAndConfirm(t, f)
		opt := reschedule(t, f, old)

		out, err := f.orch.Confirm(context.Background(), appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
		require.NoError(t, err)
		assert.Empty(t, out.Warnings)
		assert.NotEqual(t, old, out.AppointmentID)
		assert.Equal(t, []string{out.AppointmentID}, f.gateway.Events())

		// The old 09:00 slot can be held again.
		again := f.book(t)
		assert.Equal(t, t0.Add(time.Hour), again.Options[0].Start)
	})

	t.Run("failed cancel is a warning", func(t *testing.T) {
		f := newFixture(t)
		old := bookAndConfirm(t, f)
		opt := reschedule(t, f, old)
		f.gateway.CancelErr = func(string) error { return errors.New("calendar unavailable") }

		out, err := f.orch.Confirm(context.Background(), appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
		require.NoError(t, err)
		assert.Equal(t, appointments.StatusConfirmed, out.Status)
		require.Len(t, out.Warnings, 1)
		assert.Equal(t, apperr.CodeGatewayInconsistent, out.Warnings[0].Code)
		assert.Equal(t, old, out.Warnings[0].AppointmentID)
		assert.Contains(t, f.gateway.Events(), old)
		assert.Contains(t, f.gateway.Events(), out.AppointmentID)
	})

	t.Run("previous appointment from request", func(t *testing.T) {
		f := newFixture(t)
		old := bookAndConfirm(t, f)
		opt := f.book(t).Options[0]

		_, err := f.orch.Confirm(context.Background(), appointments.ConfirmRequest{
			HoldID:                opt.HoldID,
			SlotID:                opt.SlotID,
			PreviousAppointmentID: old,
		})
		require.NoError(t, err)
		assert.NotContains(t, f.gateway.Events(), old)
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opt := f.book(t).Options[0]
	confirmed, err := f.orch.Confirm(ctx, appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
	require.NoError(t, err)

	out, err := f.orch.Cancel(ctx, confirmed.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, appointments.CancelResult{AppointmentID: confirmed.AppointmentID, Status: "canceled"}, out)

	_, err = f.orch.Cancel(ctx, confirmed.AppointmentID)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.orch.Cancel(ctx, " ")
	assert.ErrorIs(t, err, apperr.ErrMissingArgument)

	f.gateway.CancelErr = func(string) error { return errors.New("timeout") }
	_, err = f.orch.Cancel(ctx, "evt_9")
	assert.ErrorIs(t, err, apperr.ErrGatewayTransient)
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opt := f.book(t).Options[0]
	confirmed, err := f.orch.Confirm(ctx, appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
	require.NoError(t, err)

	_, err = f.orch.Cancel(ctx, confirmed.AppointmentID)
	require.NoError(t, err)

	h, err := f.store.Get(ctx, opt.HoldID)
	require.NoError(t, err)
	assert.Equal(t, holds.StateCancelled, h.State)

	again := f.book(t)
	assert.Equal(t, opt.SlotID, again.Options[0].SlotID)
	assert.Equal(t, opt.Start, again.Options[0].Start)

	// A retried confirmation of the cancelled hold does not book again.
	_, err = f.orch.Confirm(ctx, appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
	assert.ErrorIs(t, err, apperr.ErrHoldAlreadyConsumed)
	assert.Equal(t, 1, f.gateway.Calls("confirm"))
}

type deadlineGateway struct {
	*calendar.MemoryGateway
	deadline time.Time
	ok       bool
}

func (g *deadlineGateway) Confirm(ctx context.Context, ref calendar.HoldRef) (string, error) {
	g.deadline, g.ok = ctx.Deadline()
	return g.MemoryGateway.Confirm(ctx, ref)
}

func TestConfirmBoundsGatewayCall(t *testing.T) {
	clk := clock.NewManual(t0)
	store := holds.NewStore(holds.NewMemoryBackend(), holds.WithClock(clk))
	gw := &deadlineGateway{MemoryGateway: calendar.NewMemoryGateway(calendar.DefaultSlotRules(time.UTC))}
	orch := appointments.New(store, gw, nil, appointments.Config{TimeZone: time.UTC, GatewayTimeout: 5 * time.Second}, nil)
	ctx := context.Background()

	res, err := orch.Manage(ctx, appointments.ManageRequest{Action: appointments.ActionBook})
	require.NoError(t, err)
	opt := res.Options[0]

	before := time.Now()
	_, err = orch.Confirm(ctx, appointments.ConfirmRequest{HoldID: opt.HoldID, SlotID: opt.SlotID})
	require.NoError(t, err)
	require.True(t, gw.ok)
	assert.WithinDuration(t, before.Add(5*time.Second), gw.deadline, time.Second)
}

func TestReleaseExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t)
	f.clock.Advance(4 * time.Minute)

	sweeper := holds.NewSweeper(f.store, time.Minute, f.orch.ReleaseExpired, nil)
	assert.Equal(t, 3, sweeper.SweepOnce(ctx))
	assert.Empty(t, f.gateway.Events())
	assert.Equal(t, 3, f.gateway.Calls("release"))
}
