// Package holdstest provides a conformance suite for holds.Backend
// implementations.
package holdstest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/holds"
)

// Factory returns a fresh backend for one subtest.
type Factory func(t *testing.T) holds.Backend

var base = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

// NewHold returns a pending hold on a unique slot, created at base.
func NewHold(ttl time.Duration) holds.Hold {
	id := uuid.NewString()
	return holds.Hold{
		ID:        id,
		SlotID:    "slot_" + id,
		GroupID:   "group_" + id,
		EventID:   "evt_" + id,
		SlotStart: base.Add(time.Hour),
		SlotEnd:   base.Add(90 * time.Minute),
		CreatedAt: base,
		ExpiresAt: base.Add(ttl),
		UpdatedAt: base,
		State:     holds.StatePending,
		Caller:    holds.CallerContext{Name: "Jane Doe", Phone: "+15551234567"},
	}
}

// Run exercises every Backend guarantee against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	ttl := holds.DefaultTTL

	t.Run("InsertAndGet", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		h := NewHold(ttl)

		require.NoError(t, b.Insert(ctx, h, base))

		got, err := b.Get(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, h.ID, got.ID)
		assert.Equal(t, h.SlotID, got.SlotID)
		assert.Equal(t, h.GroupID, got.GroupID)
		assert.Equal(t, h.EventID, got.EventID)
		assert.Equal(t, holds.StatePending, got.State)
		assert.True(t, h.ExpiresAt.Equal(got.ExpiresAt))
		assert.True(t, h.SlotStart.Equal(got.SlotStart))
		assert.Equal(t, h.Caller, got.Caller)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, apperr.ErrHoldNotFound)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		h := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, h, base))

		dup := h
		dup.SlotID = "slot_" + uuid.NewString()
		assert.ErrorIs(t, b.Insert(ctx, dup, base), holds.ErrDuplicateHold)
	})

	t.Run("SlotHeldWhilePending", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		first := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, first, base))

		second := NewHold(ttl)
		second.SlotID = first.SlotID
		err := b.Insert(ctx, second, base.Add(ttl))
		assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	})

	t.Run("SlotFreeAfterExpiryTime", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		first := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, first, base))

		later := base.Add(ttl + time.Second)
		second := NewHold(ttl)
		second.SlotID = first.SlotID
		second.CreatedAt = later
		second.ExpiresAt = later.Add(ttl)
		require.NoError(t, b.Insert(ctx, second, later))

		// The superseded hold stays pending until swept.
		expired, err := b.ExpirePending(ctx, later)
		require.NoError(t, err)
		assert.Contains(t, ids(expired), first.ID)
		assert.NotContains(t, ids(expired), second.ID)
	})

	t.Run("SlotFreeAfterRelease", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		first := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, first, base))

		_, err := b.Update(ctx, first.ID, func(cur holds.Hold) (*holds.Hold, error) {
			cur.State = holds.StateReleased
			return &cur, nil
		})
		require.NoError(t, err)

		second := NewHold(ttl)
		second.SlotID = first.SlotID
		assert.NoError(t, b.Insert(ctx, second, base.Add(time.Second)))
	})

	t.Run("ConfirmedHoldKeepsSlot", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		first := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, first, base))

		_, err := b.Update(ctx, first.ID, func(cur holds.Hold) (*holds.Hold, error) {
			cur.State = holds.StateConfirmed
			cur.AppointmentID = "appt-1"
			return &cur, nil
		})
		require.NoError(t, err)

		second := NewHold(ttl)
		second.SlotID = first.SlotID
		err = b.Insert(ctx, second, base.Add(24*time.Hour))
		assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	})

	t.Run("FindByAppointment", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		h := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, h, base))

		appt := "appt-" + h.ID
		_, err := b.FindByAppointment(ctx, appt)
		assert.ErrorIs(t, err, apperr.ErrHoldNotFound)

		_, err = b.Update(ctx, h.ID, func(cur holds.Hold) (*holds.Hold, error) {
			cur.State = holds.StateConfirmed
			cur.AppointmentID = appt
			return &cur, nil
		})
		require.NoError(t, err)

		got, err := b.FindByAppointment(ctx, appt)
		require.NoError(t, err)
		assert.Equal(t, h.ID, got.ID)
		assert.Equal(t, holds.StateConfirmed, got.State)
	})

	t.Run("CancelledHoldFreesSlot", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		first := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, first, base))

		for _, state := range []holds.State{holds.StateConfirmed, holds.StateCancelled} {
			_, err := b.Update(ctx, first.ID, func(cur holds.Hold) (*holds.Hold, error) {
				cur.State = state
				cur.AppointmentID = "appt-" + first.ID
				return &cur, nil
			})
			require.NoError(t, err)
		}

		second := NewHold(ttl)
		second.SlotID = first.SlotID
		assert.NoError(t, b.Insert(ctx, second, base.Add(time.Second)))
	})

	t.Run("ConcurrentInsertSameSlot", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		slot := "slot_" + uuid.NewString()

		const n = 16
		var wg sync.WaitGroup
		var ok, conflicts atomic.Int32
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h := NewHold(ttl)
				h.SlotID = slot
				err := b.Insert(ctx, h, base)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, apperr.ErrSlotUnavailable):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected insert error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, ok.Load())
		assert.EqualValues(t, n-1, conflicts.Load())
	})

	t.Run("UpdatePersistsEvenWithError", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		h := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, h, base))

		boom := errors.New("boom")
		got, err := b.Update(ctx, h.ID, func(cur holds.Hold) (*holds.Hold, error) {
			cur.State = holds.StateExpired
			return &cur, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, holds.StateExpired, got.State)

		stored, err := b.Get(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, holds.StateExpired, stored.State)
	})

	t.Run("UpdateWithoutChange", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		h := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, h, base))

		boom := errors.New("boom")
		got, err := b.Update(ctx, h.ID, func(cur holds.Hold) (*holds.Hold, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, holds.StatePending, got.State)
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Update(context.Background(), uuid.NewString(), func(cur holds.Hold) (*holds.Hold, error) {
			t.Error("mutation must not run for an unknown hold")
			return nil, nil
		})
		assert.ErrorIs(t, err, apperr.ErrHoldNotFound)
	})

	t.Run("UpdateSerializes", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		h := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, h, base))

		const n = 8
		var calls atomic.Int32
		var wg sync.WaitGroup
		results := make([]holds.Hold, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got, err := b.Update(ctx, h.ID, func(cur holds.Hold) (*holds.Hold, error) {
					if cur.State != holds.StatePending {
						return nil, nil
					}
					calls.Add(1)
					time.Sleep(10 * time.Millisecond)
					cur.State = holds.StateConfirmed
					cur.AppointmentID = "appt-" + h.ID
					return &cur, nil
				})
				if err != nil {
					t.Errorf("update %d: %v", i, err)
				}
				results[i] = got
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, calls.Load())
		for _, r := range results {
			assert.Equal(t, "appt-"+h.ID, r.AppointmentID)
		}
	})

	t.Run("InflightHoldBlocksSlotAndSweep", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		h := NewHold(ttl)
		require.NoError(t, b.Insert(ctx, h, base))

		entered := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = b.Update(ctx, h.ID, func(cur holds.Hold) (*holds.Hold, error) {
				close(entered)
				<-release
				return nil, nil
			})
		}()
		<-entered

		late := base.Add(ttl + time.Minute)
		other := NewHold(ttl)
		other.SlotID = h.SlotID
		assert.ErrorIs(t, b.Insert(ctx, other, late), apperr.ErrSlotUnavailable)

		expired, err := b.ExpirePending(ctx, late)
		require.NoError(t, err)
		assert.NotContains(t, ids(expired), h.ID)

		close(release)
		<-done
	})

	t.Run("ExpirePending", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		stale := NewHold(ttl)
		fresh := NewHold(ttl)
		fresh.CreatedAt = base.Add(time.Minute)
		fresh.ExpiresAt = fresh.CreatedAt.Add(ttl)
		require.NoError(t, b.Insert(ctx, stale, base))
		require.NoError(t, b.Insert(ctx, fresh, base.Add(time.Minute)))

		// Exactly at expiry the hold is still valid.
		expired, err := b.ExpirePending(ctx, stale.ExpiresAt)
		require.NoError(t, err)
		assert.NotContains(t, ids(expired), stale.ID)

		expired, err = b.ExpirePending(ctx, stale.ExpiresAt.Add(time.Second))
		require.NoError(t, err)
		assert.Contains(t, ids(expired), stale.ID)
		assert.NotContains(t, ids(expired), fresh.ID)

		got, err := b.Get(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, holds.StateExpired, got.State)

		again, err := b.ExpirePending(ctx, stale.ExpiresAt.Add(time.Second))
		require.NoError(t, err)
		assert.NotContains(t, ids(again), stale.ID)
	})

	t.Run("ListGroup", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		a := NewHold(ttl)
		c := NewHold(ttl)
		c.GroupID = a.GroupID
		other := NewHold(ttl)
		for _, h := range []holds.Hold{a, c, other} {
			require.NoError(t, b.Insert(ctx, h, base))
		}

		group, err := b.ListGroup(ctx, a.GroupID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.ID, c.ID}, ids(group))
	})
}

func ids(hs []holds.Hold) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.ID)
	}
	return out
}
