package store

import (
	"context"
	"errors"
	"time"

	"github.com/hostclick/kapi/pkg/types"
)

// Store keeps the suspension history of every tenant.
type Store interface {
	Close(ctx context.Context) error
	Health(ctx context.Context) error

	// RecordTransition assigns ID and At when unset.
	RecordTransition(ctx context.Context, t *types.Transition) error
	// TenantState derives the current state from the newest successful transition.
	TenantState(ctx context.Context, vhost string) (types.TenantState, error)
	// ListTransitions returns up to limit transitions, newest first.
	ListTransitions(ctx context.Context, vhost string, limit int) ([]types.Transition, error)
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Helper to stamp time fields for idempotent creates
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func prepare(t *types.Transition) {
	if types.IsZeroID(t.ID) {
		t.ID = types.NewID()
	}
	t.At = stamp(t.At)
	if t.Outcome == "" {
		t.Outcome = types.OutcomeOK
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
