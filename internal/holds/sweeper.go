package holds

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/receptionist/internal/logging"
)

// DefaultSweepInterval is how often the Sweeper expires stale holds.
const DefaultSweepInterval = 30 * time.Second

// ExpiredFunc is called with the holds expired by one sweep.
type ExpiredFunc func(ctx context.Context, expired []Hold)

// Sweeper periodically expires pending holds past their expiry. Confirm
// checks expiry on its own, so the sweeper only frees storage state and
// lets OnExpired clean up upstream.
type Sweeper struct {
	store     *Store
	interval  time.Duration
	onExpired ExpiredFunc
	logger    *slog.Logger
}

// NewSweeper creates a sweeper for store. A non-positive interval uses
// DefaultSweepInterval; onExpired may be nil.
func NewSweeper(store *Store, interval time.Duration, onExpired ExpiredFunc, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		interval:  interval,
		onExpired: onExpired,
		logger:    logging.WithOperation(logger, "holds.sweep"),
	}
}

// Run sweeps every interval until ctx is cancelled. It always returns nil so
// it can run inside an errgroup without tearing the group down.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("hold sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("hold sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep and returns the number of expired holds.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	expired, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.Error("hold sweep failed", logging.Err(err))
		return 0
	}
	if len(expired) == 0 {
		return 0
	}
	s.logger.Info("expired stale holds", slog.Int("count", len(expired)))
	if s.onExpired != nil {
		s.onExpired(ctx, expired)
	}
	return len(expired)
}
