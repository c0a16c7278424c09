package services

import (
	"context"
	"errors"
)

// ErrNotReady is returned by Readyz until the pipeline has published a result
var ErrNotReady = errors.New("no analysis published yet")

// Readiness reports whether the pipeline has produced a result
type Readiness interface {
	Ready() bool
}

// Pinger checks a dependency is reachable
type Pinger interface {
	Ping() error
}

// HealthImplementation implements the health service
type HealthImplementation struct {
	ready Readiness
	db    Pinger
}

// NewHealthService creates a new health service implementation. db may be nil.
func NewHealthService(ready Readiness, db Pinger) *HealthImplementation {
	return &HealthImplementation{ready: ready, db: db}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	// Alive if we reach here
	return nil
}

// Readyz implements the readiness probe
func (h *HealthImplementation) Readyz(ctx context.Context) error {
	if !h.ready.Ready() {
		return ErrNotReady
	}
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			return err
		}
	}
	return nil
}
