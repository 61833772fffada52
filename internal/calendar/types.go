package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/receptionist/internal/apperr"
)

// Slot is a bookable time window.
type Slot struct {
	ID       string
	Start    time.Time
	End      time.Time
	Resource string
	Display  string
}

// Criteria narrows a slot search.
type Criteria struct {
	Start time.Time
	End   time.Time
	// Provider selects a provider's calendar when the gateway has several.
	Provider string
	Limit    int
}

// HoldDetails describes the tentative event placed for a hold.
type HoldDetails struct {
	// HoldID is generated by the gateway when empty.
	HoldID      string
	Summary     string
	Description string
}

// HoldRef identifies a hold upstream.
type HoldRef struct {
	HoldID  string
	EventID string
	SlotID  string
}

// TimeRange represents a time range
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// FreeBusyInfo represents availability information for a calendar
type FreeBusyInfo struct {
	Calendar string
	Busy     []TimeRange
	Errors   []string
}

// Gateway is the calendar as seen by appointment workflows. Calls are not
// retried internally.
type Gateway interface {
	FindSlots(ctx context.Context, c Criteria) ([]Slot, error)
	PlaceHold(ctx context.Context, slot Slot, details HoldDetails) (HoldRef, error)
	// Confirm turns the hold into an appointment and returns its id. It fails
	// with ErrHoldLapsed when the tentative event no longer exists.
	Confirm(ctx context.Context, ref HoldRef) (string, error)
	// Cancel removes an appointment. It fails with ErrNotFound for unknown ids.
	Cancel(ctx context.Context, appointmentID string) error
	// Release removes a tentative hold. Missing holds are not an error.
	Release(ctx context.Context, ref HoldRef) error
}

var (
	// ErrHoldLapsed matches apperr.ErrHoldExpired.
	ErrHoldLapsed = apperr.New(apperr.CodeHoldExpired, "tentative event no longer exists")
	// ErrNotFound is returned for unknown appointments.
	ErrNotFound = errors.New("calendar event not found")
)
