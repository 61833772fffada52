package server

import (
	"context"
	"sync"
)

// Check is a named readiness probe, typically a backend ping.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// ServerContext holds the state shared by the HTTP handlers: readiness
// checks and the shutdown flag.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	checks   []Check
	shutdown bool
}

// NewServerContext creates a ServerContext derived from ctx.
func NewServerContext(ctx context.Context, checks ...Check) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		checks: checks,
	}
}

// Context returns a context that is canceled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// AddCheck registers a readiness check.
func (sc *ServerContext) AddCheck(c Check) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.checks = append(sc.checks, c)
}

// Checks returns the registered readiness checks.
func (sc *ServerContext) Checks() []Check {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make([]Check, len(sc.checks))
	copy(out, sc.checks)
	return out
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the server as shutting down and cancels its context.
func (sc *ServerContext) Shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.shutdown {
		return
	}
	sc.shutdown = true
	sc.cancel()
}
