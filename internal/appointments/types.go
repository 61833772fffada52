package appointments

import (
	"time"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/holds"
)

// Action is what manage_appointment was asked to do.
type Action string

const (
	ActionBook       Action = "book"
	ActionReschedule Action = "reschedule"
	ActionCancel     Action = "cancel"
)

// Response statuses.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusReschedulePending   = "reschedule_pending"
	StatusNoAvailability      = "no_availability"
	StatusConfirmed           = "confirmed"
	StatusCanceled            = "canceled"
)

// ManageRequest is a validated book or reschedule request.
type ManageRequest struct {
	Action    Action
	Caller    holds.CallerContext
	DateRange string
	Provider  string
	Location  string
	// AppointmentID is the appointment being rescheduled or cancelled.
	AppointmentID string
}

// Option is one held slot offered to the caller.
type Option struct {
	SlotID  string    `json:"slot_id"`
	HoldID  string    `json:"hold_id"`
	Display string    `json:"display"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// ManageResult lists the held options. Options is empty, never null, when
// nothing was available.
type ManageResult struct {
	Options               []Option `json:"options"`
	HoldID                string   `json:"hold_id,omitempty"`
	GroupID               string   `json:"group_id,omitempty"`
	ExpiresInSec          int      `json:"expires_in_sec,omitempty"`
	PreviousAppointmentID string   `json:"previous_appointment_id,omitempty"`
	Status                string   `json:"status"`
}

// ConfirmRequest is a validated confirm_booking request.
type ConfirmRequest struct {
	HoldID                string
	SlotID                string
	Caller                holds.CallerContext
	PreviousAppointmentID string
}

// Warning is a non-fatal problem found after the booking succeeded.
type Warning struct {
	Code          apperr.Code `json:"code"`
	Message       string      `json:"message"`
	AppointmentID string      `json:"appointment_id,omitempty"`
}

// ConfirmResult is returned for first and replayed confirmations alike.
type ConfirmResult struct {
	AppointmentID string    `json:"appointment_id"`
	HoldID        string    `json:"hold_id"`
	SlotID        string    `json:"slot_id"`
	Status        string    `json:"status"`
	Replayed      bool      `json:"replayed,omitempty"`
	Warnings      []Warning `json:"warnings,omitempty"`
}

// CancelResult acknowledges a cancellation.
type CancelResult struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}
