package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/clock"
	"github.com/teemow/receptionist/internal/logging"
)

// Recorder receives hold state transitions, typically for metrics.
type Recorder interface {
	RecordHoldTransition(ctx context.Context, state string)
}

// Store is the single writer of hold state.
type Store struct {
	backend  Backend
	clock    clock.Clock
	ttl      time.Duration
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		clock:   clock.NewSystem(),
		ttl:     DefaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns how long new holds stay pending.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Now returns the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// NewHold describes a hold to create.
type NewHold struct {
	ID                    string
	SlotID                string
	GroupID               string
	EventID               string
	PreviousAppointmentID string
	SlotStart             time.Time
	SlotEnd               time.Time
	Caller                CallerContext
}

// Create inserts a pending hold expiring TTL from now. It fails with
// apperr.ErrSlotUnavailable if another active hold claims the slot.
func (s *Store) Create(ctx context.Context, in NewHold) (Hold, error) {
	if strings.TrimSpace(in.ID) == "" {
		return Hold{}, apperr.MissingArgument("hold_id")
	}
	if strings.TrimSpace(in.SlotID) == "" {
		return Hold{}, apperr.MissingArgument("slot_id")
	}

	now := s.clock.Now()
	h := Hold{
		ID:                    in.ID,
		SlotID:                in.SlotID,
		GroupID:               in.GroupID,
		EventID:               in.EventID,
		PreviousAppointmentID: in.PreviousAppointmentID,
		SlotStart:             in.SlotStart,
		SlotEnd:               in.SlotEnd,
		CreatedAt:             now,
		ExpiresAt:             now.Add(s.ttl),
		UpdatedAt:             now,
		State:                 StatePending,
		Caller:                in.Caller,
	}

	if err := s.backend.Insert(ctx, h, now); err != nil {
		if errors.Is(err, apperr.ErrSlotUnavailable) {
			return Hold{}, err
		}
		return Hold{}, fmt.Errorf("failed to insert hold %s: %w", h.ID, err)
	}

	s.record(ctx, StatePending)
	s.logger.Debug("hold created",
		logging.HoldID(h.ID),
		logging.SlotID(h.SlotID),
		logging.GroupID(h.GroupID))
	return h, nil
}

// Get returns the hold with the given id.
func (s *Store) Get(ctx context.Context, id string) (Hold, error) {
	return s.backend.Get(ctx, id)
}

// Group returns all holds offered together with groupID.
func (s *Store) Group(ctx context.Context, groupID string) ([]Hold, error) {
	if groupID == "" {
		return nil, nil
	}
	return s.backend.ListGroup(ctx, groupID)
}

// ConfirmRequest identifies the hold to confirm and carries caller details
// gathered since the hold was created.
type ConfirmRequest struct {
	HoldID string
	SlotID string
	Caller CallerContext
}

// BookFunc performs the upstream confirmation of h and returns the
// appointment id. It runs while the hold is locked. Returning an error that
// matches apperr.ErrHoldExpired marks the hold expired; any other error
// leaves it pending.
type BookFunc func(ctx context.Context, h Hold) (string, error)

// ConfirmResult is the outcome of a successful Confirm.
type ConfirmResult struct {
	Hold Hold
	// Replayed is true when the hold had already been confirmed and the
	// recorded appointment id was returned without calling book.
	Replayed bool
}

// Confirm transitions a pending hold to confirmed by calling book exactly
// once. Checks, in order: unknown hold, slot mismatch, already confirmed
// (replayed), released or cancelled, expired. The expiry check uses the store clock, so it
// applies even if no sweep has run.
func (s *Store) Confirm(ctx context.Context, req ConfirmRequest, book BookFunc) (ConfirmResult, error) {
	var replayed, expired bool
	var booked string

	h, err := s.backend.Update(ctx, req.HoldID, func(cur Hold) (*Hold, error) {
		replayed, expired, booked = false, false, ""
		if cur.SlotID != req.SlotID {
			return nil, apperr.SlotMismatch(cur.ID, req.SlotID)
		}

		switch cur.State {
		case StateConfirmed:
			replayed = true
			return nil, nil
		case StateReleased, StateCancelled:
			return nil, apperr.HoldAlreadyConsumed(cur.ID)
		case StateExpired:
			return nil, apperr.HoldExpired(cur.ID)
		}

		now := s.clock.Now()
		if cur.PastExpiry(now) {
			next := cur
			next.State = StateExpired
			next.UpdatedAt = now
			expired = true
			return &next, apperr.HoldExpired(cur.ID)
		}

		candidate := cur
		candidate.Caller = req.Caller.Merge(cur.Caller)

		appointmentID, err := book(ctx, candidate)
		if err != nil {
			if errors.Is(err, apperr.ErrHoldExpired) {
				next := cur
				next.State = StateExpired
				next.UpdatedAt = s.clock.Now()
				expired = true
				return &next, err
			}
			return nil, err
		}

		booked = appointmentID
		next := candidate
		next.State = StateConfirmed
		next.AppointmentID = appointmentID
		next.UpdatedAt = s.clock.Now()
		return &next, nil
	})

	switch {
	case err == nil && replayed:
		s.logger.Info("hold confirmation replayed",
			logging.HoldID(h.ID),
			logging.AppointmentID(h.AppointmentID))
		return ConfirmResult{Hold: h, Replayed: true}, nil
	case err == nil:
		s.record(ctx, StateConfirmed)
		s.logger.Info("hold confirmed",
			logging.HoldID(h.ID),
			logging.SlotID(h.SlotID),
			logging.AppointmentID(h.AppointmentID))
		return ConfirmResult{Hold: h}, nil
	case booked != "" && h.State != StateConfirmed:
		s.logger.Error("appointment confirmed upstream but hold state not persisted",
			logging.HoldID(req.HoldID),
			logging.AppointmentID(booked),
			logging.Err(err))
		return ConfirmResult{Hold: h}, apperr.GatewayInconsistent("appointment confirmed but not recorded", err)
	case expired && h.State == StateExpired:
		s.record(ctx, StateExpired)
		s.logger.Info("hold expired at confirmation", logging.HoldID(h.ID), logging.SlotID(h.SlotID))
		return ConfirmResult{Hold: h}, err
	default:
		return ConfirmResult{Hold: h}, err
	}
}

// Release abandons a pending hold. It reports whether this call performed
// the transition; holds already in a terminal state are returned unchanged.
func (s *Store) Release(ctx context.Context, id string) (Hold, bool, error) {
	var released bool
	h, err := s.backend.Update(ctx, id, func(cur Hold) (*Hold, error) {
		if cur.State != StatePending {
			return nil, nil
		}
		next := cur
		next.State = StateReleased
		next.UpdatedAt = s.clock.Now()
		released = true
		return &next, nil
	})
	if err != nil {
		return h, false, err
	}
	if released {
		s.record(ctx, StateReleased)
		s.logger.Debug("hold released", logging.HoldID(h.ID), logging.SlotID(h.SlotID))
	}
	return h, released, nil
}

// CancelAppointment marks the confirmed hold behind appointmentID as
// cancelled so its slot can be held again. It reports whether this call
// performed the transition. Appointments booked outside this service have no
// hold; that is not an error.
func (s *Store) CancelAppointment(ctx context.Context, appointmentID string) (Hold, bool, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return Hold{}, false, apperr.MissingArgument("appointment_id")
	}

	found, err := s.backend.FindByAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, apperr.ErrHoldNotFound) {
			return Hold{}, false, nil
		}
		return Hold{}, false, fmt.Errorf("failed to find hold for appointment %s: %w", appointmentID, err)
	}

	var cancelled bool
	h, err := s.backend.Update(ctx, found.ID, func(cur Hold) (*Hold, error) {
		if cur.State != StateConfirmed || cur.AppointmentID != appointmentID {
			return nil, nil
		}
		next := cur
		next.State = StateCancelled
		next.UpdatedAt = s.clock.Now()
		cancelled = true
		return &next, nil
	})
	if err != nil {
		return h, false, err
	}
	if cancelled {
		s.record(ctx, StateCancelled)
		s.logger.Info("hold cancelled with its appointment",
			logging.HoldID(h.ID),
			logging.SlotID(h.SlotID),
			logging.AppointmentID(appointmentID))
	}
	return h, cancelled, nil
}

// Sweep expires every pending hold past its expiry and returns them.
func (s *Store) Sweep(ctx context.Context) ([]Hold, error) {
	expired, err := s.backend.ExpirePending(ctx, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to expire pending holds: %w", err)
	}
	for range expired {
		s.record(ctx, StateExpired)
	}
	return expired, nil
}

func (s *Store) record(ctx context.Context, state State) {
	if s.recorder != nil {
		s.recorder.RecordHoldTransition(ctx, string(state))
	}
}
