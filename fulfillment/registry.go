package fulfillment

import (
	"context"
	"sync"
)

// EventRegistry guards at-most-once processing per payment event id. Reserve
// is an atomic first-claim: exactly one concurrent caller for a given id gets
// true. Release undoes a reservation so a failed dispatch can be retried on
// redelivery.
type EventRegistry interface {
	Reserve(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// MemoryRegistry is a process-local EventRegistry. Reservations do not
// survive a restart and are not shared between instances; use the Postgres
// registry for multi-instance deployments.
type MemoryRegistry struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{seen: make(map[string]struct{})}
}

func (r *MemoryRegistry) Reserve(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[eventID]; dup {
		return false, nil
	}
	r.seen[eventID] = struct{}{}
	return true, nil
}

func (r *MemoryRegistry) Release(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, eventID)
	return nil
}
