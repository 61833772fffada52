package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/receptionist/internal/apperr"
)

func TestMemoryGateway(t *testing.T) {
	ctx := context.Background()
	rules := DefaultSlotRules(time.UTC)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	window := Criteria{Start: day, End: day.Add(24 * time.Hour), Limit: 3}

	t.Run("placed holds are busy", func(t *testing.T) {
		gw := NewMemoryGateway(rules)
		slots, err := gw.FindSlots(ctx, window)
		require.NoError(t, err)
		require.Len(t, slots, 3)

		_, err = gw.PlaceHold(ctx, slots[0], HoldDetails{Summary: "Hold"})
		require.NoError(t, err)

		again, err := gw.FindSlots(ctx, window)
		require.NoError(t, err)
		assert.Equal(t, slots[1].ID, again[0].ID)
	})

	t.Run("confirm and cancel", func(t *testing.T) {
		gw := NewMemoryGateway(rules)
		slots, _ := gw.FindSlots(ctx, window)
		ref, err := gw.PlaceHold(ctx, slots[0], HoldDetails{})
		require.NoError(t, err)
		assert.NotEmpty(t, ref.HoldID)

		apptID, err := gw.Confirm(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, ref.EventID, apptID)

		// Release never removes a confirmed appointment.
		require.NoError(t, gw.Release(ctx, ref))
		assert.Equal(t, []string{apptID}, gw.Events())

		require.NoError(t, gw.Cancel(ctx, apptID))
		assert.Empty(t, gw.Events())
		assert.ErrorIs(t, gw.Cancel(ctx, apptID), ErrNotFound)
	})

	t.Run("lapsed hold", func(t *testing.T) {
		gw := NewMemoryGateway(rules)
		slots, _ := gw.FindSlots(ctx, window)
		ref, _ := gw.PlaceHold(ctx, slots[0], HoldDetails{})
		gw.Expire(ref.EventID)

		_, err := gw.Confirm(ctx, ref)
		assert.ErrorIs(t, err, apperr.ErrHoldExpired)
		assert.NoError(t, gw.Release(ctx, ref))
	})

	t.Run("error hooks", func(t *testing.T) {
		gw := NewMemoryGateway(rules)
		boom := errors.New("boom")
		gw.FindSlotsErr = func() error { return boom }

		_, err := gw.FindSlots(ctx, window)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, gw.Calls("find_slots"))
	})

	t.Run("busy ranges", func(t *testing.T) {
		gw := NewMemoryGateway(rules)
		gw.AddBusy(TimeRange{Start: day.Add(9 * time.Hour), End: day.Add(12 * time.Hour)})
		slots, err := gw.FindSlots(ctx, window)
		require.NoError(t, err)
		require.NotEmpty(t, slots)
		assert.Equal(t, 12, slots[0].Start.Hour())
	})
}
