// Package holds owns the lifecycle of slot holds: short-lived reservations
// that are either confirmed into an appointment exactly once, released, or
// left to expire.
//
// All state transitions go through Store. Persistence is delegated to a
// Backend, which must provide two guarantees:
//
//   - Insert is an atomic check-and-insert: it fails with apperr.ErrSlotUnavailable
//     when the slot already has an active hold.
//   - Update serializes mutations of the same hold, and a hold being mutated
//     counts as active for Insert and is skipped by ExpirePending.
//
// A confirmed hold claims its slot until its appointment is cancelled.
// A pending hold past its expiry no longer claims its slot, but it stays
// pending in storage until ExpirePending records the transition, so that the
// sweeper sees it and can release the upstream event.
//
// The in-memory backend lives in this package; durable backends live under
// internal/storage.
package holds

import "time"

// DefaultTTL is how long a pending hold reserves its slot.
const DefaultTTL = 180 * time.Second

// State is the lifecycle state of a hold.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateExpired   State = "expired"
	StateReleased  State = "released"
	// StateCancelled is a confirmed hold whose appointment was cancelled.
	StateCancelled State = "cancelled"
)

// TerminalRetention is how long the in-memory and Redis backends keep holds
// that no longer claim a slot (expired, released or cancelled).
const TerminalRetention = 24 * time.Hour

// Terminal reports whether s is a final outcome of the pending state.
// Only a confirmed hold moves on, to cancelled.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateExpired || s == StateReleased || s == StateCancelled
}

// Retired reports whether a hold in state s no longer claims its slot and
// can be pruned after TerminalRetention.
func (s State) Retired() bool {
	return s == StateExpired || s == StateReleased || s == StateCancelled
}

// CallerContext is what we know about the caller. Fields fill in
// progressively between search and confirmation.
type CallerContext struct {
	Name   string `json:"name,omitempty"`
	Phone  string `json:"phone,omitempty"`
	DOB    string `json:"dob,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Merge returns c with empty fields filled from other.
func (c CallerContext) Merge(other CallerContext) CallerContext {
	if c.Name == "" {
		c.Name = other.Name
	}
	if c.Phone == "" {
		c.Phone = other.Phone
	}
	if c.DOB == "" {
		c.DOB = other.DOB
	}
	if c.Reason == "" {
		c.Reason = other.Reason
	}
	return c
}

// Hold is a time-bounded reservation of a calendar slot.
type Hold struct {
	ID      string `json:"id"`
	SlotID  string `json:"slot_id"`
	GroupID string `json:"group_id,omitempty"`
	// EventID is the tentative upstream event backing the hold.
	EventID string `json:"event_id,omitempty"`
	// PreviousAppointmentID is set for reschedules and cancelled once this
	// hold is confirmed.
	PreviousAppointmentID string `json:"previous_appointment_id,omitempty"`

	SlotStart time.Time `json:"slot_start"`
	SlotEnd   time.Time `json:"slot_end"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`

	State         State         `json:"state"`
	AppointmentID string        `json:"appointment_id,omitempty"`
	Caller        CallerContext `json:"caller"`
}

// PastExpiry reports whether now is strictly after the hold's expiry.
func (h Hold) PastExpiry(now time.Time) bool {
	return now.After(h.ExpiresAt)
}

// Active reports whether the hold still claims its slot at now.
func (h Hold) Active(now time.Time) bool {
	switch h.State {
	case StateConfirmed:
		return true
	case StatePending:
		return !h.PastExpiry(now)
	default:
		return false
	}
}

// EffectiveState is the state as observed at now: a pending hold past its
// expiry reads as expired even before the sweeper records it.
func (h Hold) EffectiveState(now time.Time) State {
	if h.State == StatePending && h.PastExpiry(now) {
		return StateExpired
	}
	return h.State
}

// ExpiresIn returns the remaining reservation time, never negative.
func (h Hold) ExpiresIn(now time.Time) time.Duration {
	d := h.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
