package store

import (
	"context"
	"sync"

	"github.com/hostclick/kapi/pkg/types"
)

// Memory is a process-local Store used when no database is configured.
type Memory struct {
	mu      sync.RWMutex
	history map[string][]types.Transition // vhost -> oldest first
	ids     map[types.ID]struct{}
}

func NewMemory() *Memory {
	return &Memory{history: map[string][]types.Transition{}, ids: map[types.ID]struct{}{}}
}

func (m *Memory) Close(ctx context.Context) error  { return nil }
func (m *Memory) Health(ctx context.Context) error { return nil }

func (m *Memory) RecordTransition(ctx context.Context, t *types.Transition) error {
	prepare(t)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.ids[t.ID]; dup {
		return ErrConflict
	}
	m.ids[t.ID] = struct{}{}
	m.history[t.VHost] = append(m.history[t.VHost], *t)
	return nil
}

func (m *Memory) TenantState(ctx context.Context, vhost string) (types.TenantState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[vhost]
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Outcome != types.OutcomeOK {
			continue
		}
		return types.TenantState{VHost: h[i].VHost, Name: h[i].Name, Suspended: h[i].Suspended, UpdatedAt: h[i].At}, nil
	}
	return types.TenantState{}, ErrNotFound
}

func (m *Memory) ListTransitions(ctx context.Context, vhost string, limit int) ([]types.Transition, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[vhost]
	out := make([]types.Transition, 0, min(limit, len(h)))
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}
