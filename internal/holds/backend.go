package holds

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateHold is returned by Backend.Insert when the hold id exists.
var ErrDuplicateHold = errors.New("hold id already exists")

// Mutation computes the next version of a hold from the current one. A
// non-nil result is persisted before the hold's lock is released, even when
// an error is also returned.
type Mutation func(current Hold) (*Hold, error)

// Backend persists holds. See the package documentation for the guarantees
// implementations must provide.
type Backend interface {
	// Insert stores a new pending hold. It fails with apperr.ErrSlotUnavailable
	// if the slot has an active hold at now, or ErrDuplicateHold.
	Insert(ctx context.Context, h Hold, now time.Time) error
	// Get returns the hold or apperr.ErrHoldNotFound.
	Get(ctx context.Context, id string) (Hold, error)
	// Update applies fn under the hold's lock and returns the persisted hold
	// (or the unchanged current one) together with fn's error.
	Update(ctx context.Context, id string, fn Mutation) (Hold, error)
	// FindByAppointment returns the hold confirmed into appointmentID or
	// apperr.ErrHoldNotFound.
	FindByAppointment(ctx context.Context, appointmentID string) (Hold, error)
	// ListGroup returns all holds sharing groupID.
	ListGroup(ctx context.Context, groupID string) ([]Hold, error)
	// ExpirePending marks pending holds past expiry at now as expired and
	// returns them. Holds with a mutation in flight are skipped. Backends
	// without durable history may also drop retired holds older than
	// TerminalRetention here.
	ExpirePending(ctx context.Context, now time.Time) ([]Hold, error)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
