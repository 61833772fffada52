package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/calendar"
	"github.com/teemow/receptionist/internal/crm"
	"github.com/teemow/receptionist/internal/holds"
	"github.com/teemow/receptionist/internal/logging"
)

// DefaultOptionsLimit is how many slots are held per search.
const DefaultOptionsLimit = 3

// DefaultGatewayTimeout bounds the upstream confirmation. It stays below the
// Redis hold lock TTL.
const DefaultGatewayTimeout = 20 * time.Second

// PatientUpserter records the caller after a confirmed booking.
type PatientUpserter interface {
	UpsertPatient(ctx context.Context, name, dob, phone string) (crm.Patient, error)
}

// Config tunes the orchestrator.
type Config struct {
	// TimeZone is the practice time zone used to read date preferences.
	TimeZone     *time.Location
	OptionsLimit int
	SearchWindow time.Duration
	// GatewayTimeout bounds each booking call made while a hold is locked.
	GatewayTimeout time.Duration
}

// Orchestrator runs book, reschedule, confirm and cancel.
type Orchestrator struct {
	store    *holds.Store
	gateway  calendar.Gateway
	patients PatientUpserter
	cfg      Config
	logger   *slog.Logger
}

// New creates an Orchestrator. patients may be nil.
func New(store *holds.Store, gateway calendar.Gateway, patients PatientUpserter, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.TimeZone == nil {
		cfg.TimeZone = time.UTC
	}
	if cfg.OptionsLimit <= 0 {
		cfg.OptionsLimit = DefaultOptionsLimit
	}
	if cfg.SearchWindow <= 0 {
		cfg.SearchWindow = DefaultSearchWindow
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		gateway:  gateway,
		patients: patients,
		cfg:      cfg,
		logger:   logging.WithService(logger, "appointments"),
	}
}

// Manage searches for slots and holds up to OptionsLimit of them. Finding
// nothing is a result with status no_availability, not an error.
func (o *Orchestrator) Manage(ctx context.Context, req ManageRequest) (ManageResult, error) {
	logger := logging.WithOperation(o.logger, "appointments.manage").With(slog.String("action", string(req.Action)))

	status := StatusPendingConfirmation
	var previous string
	switch req.Action {
	case ActionBook, "":
	case ActionReschedule:
		if req.AppointmentID == "" {
			return ManageResult{}, apperr.MissingArgument("appointment_id")
		}
		status = StatusReschedulePending
		previous = req.AppointmentID
	default:
		return ManageResult{}, apperr.InvalidArgument("action_type", fmt.Sprintf("action %q cannot place holds", req.Action))
	}

	start, end := ParseDateRange(req.DateRange, o.store.Now(), o.cfg.TimeZone, o.cfg.SearchWindow)
	slots, err := o.gateway.FindSlots(ctx, calendar.Criteria{
		Start:    start,
		End:      end,
		Provider: req.Provider,
		Limit:    o.cfg.OptionsLimit,
	})
	if err != nil {
		return ManageResult{}, gatewayError("find_slots", err)
	}
	if len(slots) > o.cfg.OptionsLimit {
		slots = slots[:o.cfg.OptionsLimit]
	}

	groupID := "group_" + uuid.NewString()
	details := calendar.HoldDetails{
		Summary:     holdSummary(req.Caller),
		Description: holdDescription(req.Caller, req.Provider, req.Location),
	}

	var created []holds.Hold
	var placeErr error
	for _, slot := range slots {
		ref, err := o.gateway.PlaceHold(ctx, slot, details)
		if err != nil {
			if ctx.Err() != nil {
				o.releaseAll(ctx, created)
				return ManageResult{}, gatewayError("place_hold", err)
			}
			logger.Warn("skipping slot after failed upstream hold", logging.SlotID(slot.ID), logging.Err(err))
			placeErr = err
			continue
		}

		h, err := o.store.Create(ctx, holds.NewHold{
			ID:                    ref.HoldID,
			SlotID:                slot.ID,
			GroupID:               groupID,
			EventID:               ref.EventID,
			PreviousAppointmentID: previous,
			SlotStart:             slot.Start,
			SlotEnd:               slot.End,
			Caller:                req.Caller,
		})
		if err != nil {
			o.compensate(ctx, ref, err)
			if errors.Is(err, apperr.ErrSlotUnavailable) {
				continue
			}
			o.releaseAll(ctx, created)
			return ManageResult{}, apperr.From(err)
		}
		created = append(created, h)
	}

	if len(created) == 0 && placeErr != nil {
		return ManageResult{}, gatewayError("place_hold", placeErr)
	}
	if len(created) == 0 {
		logger.Info("no availability", slog.Time("from", start), slog.Time("to", end))
		return ManageResult{Options: []Option{}, PreviousAppointmentID: previous, Status: StatusNoAvailability}, nil
	}

	options := make([]Option, 0, len(created))
	for _, h := range created {
		options = append(options, Option{
			SlotID:  h.SlotID,
			HoldID:  h.ID,
			Display: h.SlotStart.In(o.cfg.TimeZone).Format(calendar.DisplayLayout),
			Start:   h.SlotStart,
			End:     h.SlotEnd,
		})
	}

	logger.Info("holds placed", logging.GroupID(groupID), slog.Int("count", len(created)))
	return ManageResult{
		Options:               options,
		HoldID:                created[0].ID,
		GroupID:               groupID,
		ExpiresInSec:          int(o.store.TTL() / time.Second),
		PreviousAppointmentID: previous,
		Status:                status,
	}, nil
}

// Confirm books the held slot. Retried confirmations of a confirmed hold
// return the recorded appointment id without calling the gateway again.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	logger := logging.WithOperation(o.logger, "appointments.confirm").With(logging.HoldID(req.HoldID))

	res, err := o.store.Confirm(ctx, holds.ConfirmRequest{
		HoldID: req.HoldID,
		SlotID: req.SlotID,
		Caller: req.Caller,
	}, o.book)
	if err != nil {
		if errors.Is(err, apperr.ErrHoldExpired) && res.Hold.State == holds.StateExpired {
			o.releaseUpstream(ctx, res.Hold)
		}
		logger.Info("confirmation rejected", logging.Err(err))
		return ConfirmResult{}, apperr.From(err)
	}

	h := res.Hold
	out := ConfirmResult{
		AppointmentID: h.AppointmentID,
		HoldID:        h.ID,
		SlotID:        h.SlotID,
		Status:        StatusConfirmed,
		Replayed:      res.Replayed,
	}
	if res.Replayed {
		return out, nil
	}

	o.releaseSiblings(ctx, h)

	previous := req.PreviousAppointmentID
	if previous == "" {
		previous = h.PreviousAppointmentID
	}
	if previous != "" && previous != h.AppointmentID {
		if w := o.cancelPrevious(ctx, previous); w != nil {
			out.Warnings = append(out.Warnings, *w)
		}
	}

	o.recordPatient(ctx, h.Caller)
	return out, nil
}

// Cancel cancels an appointment upstream and frees the slot of the hold it
// was booked from.
func (o *Orchestrator) Cancel(ctx context.Context, appointmentID string) (CancelResult, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return CancelResult{}, apperr.MissingArgument("appointment_id")
	}
	if err := o.gateway.Cancel(ctx, appointmentID); err != nil {
		if errors.Is(err, calendar.ErrNotFound) {
			o.freeSlot(ctx, appointmentID)
			return CancelResult{}, apperr.InvalidArgument("appointment_id", "appointment "+appointmentID+" does not exist")
		}
		return CancelResult{}, gatewayError("cancel", err)
	}
	o.freeSlot(ctx, appointmentID)
	o.logger.Info("appointment canceled", logging.Operation("appointments.cancel"), logging.AppointmentID(appointmentID))
	return CancelResult{AppointmentID: appointmentID, Status: StatusCanceled}, nil
}

// ReleaseExpired removes the upstream tentative events of expired holds. It
// matches holds.ExpiredFunc.
func (o *Orchestrator) ReleaseExpired(ctx context.Context, expired []holds.Hold) {
	for _, h := range expired {
		o.releaseUpstream(ctx, h)
	}
}

// book runs under the hold's lock.
func (o *Orchestrator) book(ctx context.Context, h holds.Hold) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	defer cancel()

	id, err := o.gateway.Confirm(ctx, holdRef(h))
	if err != nil {
		if errors.Is(err, apperr.ErrHoldExpired) {
			return "", err
		}
		return "", gatewayError("confirm", err)
	}
	return id, nil
}

func (o *Orchestrator) releaseSiblings(ctx context.Context, confirmed holds.Hold) {
	group, err := o.store.Group(ctx, confirmed.GroupID)
	if err != nil {
		o.logger.Warn("failed to list sibling holds", logging.GroupID(confirmed.GroupID), logging.Err(err))
		return
	}
	for _, h := range group {
		if h.ID == confirmed.ID {
			continue
		}
		_, released, err := o.store.Release(ctx, h.ID)
		if err != nil {
			o.logger.Warn("failed to release sibling hold", logging.HoldID(h.ID), logging.Err(err))
			continue
		}
		if !released {
			continue
		}
		o.releaseUpstream(ctx, h)
	}
}

func (o *Orchestrator) cancelPrevious(ctx context.Context, appointmentID string) *Warning {
	err := o.gateway.Cancel(ctx, appointmentID)
	switch {
	case err == nil:
		o.freeSlot(ctx, appointmentID)
		o.logger.Info("previous appointment canceled", logging.AppointmentID(appointmentID))
		return nil
	case errors.Is(err, calendar.ErrNotFound):
		o.freeSlot(ctx, appointmentID)
		o.logger.Info("previous appointment already gone", logging.AppointmentID(appointmentID))
		return nil
	}

	o.logger.Error("failed to cancel previous appointment after reschedule",
		logging.AppointmentID(appointmentID),
		logging.Err(err))
	return &Warning{
		Code:          apperr.CodeGatewayInconsistent,
		Message:       "new appointment booked but the previous appointment could not be canceled",
		AppointmentID: appointmentID,
	}
}

// freeSlot retires the confirmed hold behind a canceled appointment.
func (o *Orchestrator) freeSlot(ctx context.Context, appointmentID string) {
	if _, _, err := o.store.CancelAppointment(ctx, appointmentID); err != nil {
		o.logger.Warn("failed to free slot of canceled appointment",
			logging.AppointmentID(appointmentID),
			logging.Err(err))
	}
}

func (o *Orchestrator) recordPatient(ctx context.Context, caller holds.CallerContext) {
	if o.patients == nil || caller.Name == "" {
		return
	}
	if _, err := o.patients.UpsertPatient(ctx, caller.Name, caller.DOB, caller.Phone); err != nil {
		o.logger.Warn("failed to record patient", logging.CallerHash(caller.Name), logging.Err(err))
	}
}

func (o *Orchestrator) compensate(ctx context.Context, ref calendar.HoldRef, cause error) {
	if err := o.gateway.Release(ctx, ref); err != nil {
		o.logger.Error("upstream hold left behind after failed insert",
			logging.HoldID(ref.HoldID),
			logging.SlotID(ref.SlotID),
			slog.String("cause", cause.Error()),
			logging.Err(err))
	}
}

func (o *Orchestrator) releaseAll(ctx context.Context, created []holds.Hold) {
	for _, h := range created {
		if _, _, err := o.store.Release(ctx, h.ID); err != nil {
			o.logger.Warn("failed to release hold", logging.HoldID(h.ID), logging.Err(err))
		}
		o.releaseUpstream(ctx, h)
	}
}

func (o *Orchestrator) releaseUpstream(ctx context.Context, h holds.Hold) {
	if err := o.gateway.Release(ctx, holdRef(h)); err != nil {
		o.logger.Warn("failed to release upstream hold", logging.HoldID(h.ID), logging.Err(err))
	}
}

func holdRef(h holds.Hold) calendar.HoldRef {
	return calendar.HoldRef{HoldID: h.ID, EventID: h.EventID, SlotID: h.SlotID}
}

func gatewayError(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.GatewayTransient(op, err)
}

func holdSummary(c holds.CallerContext) string {
	name := c.Name
	if name == "" {
		name = "Patient"
	}
	reason := c.Reason
	if reason == "" {
		reason = "Appointment"
	}
	return fmt.Sprintf("Hold: %s - %s", name, reason)
}

func holdDescription(c holds.CallerContext, provider, location string) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Phone", c.Phone)
	add("DOB", c.DOB)
	add("Reason", c.Reason)
	add("Provider", provider)
	add("Location", location)
	return strings.Join(lines, "\n")
}
