package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// Registry stores verified registration entries and serves the custodian
// node directory. Entries are verified on admission and immutable afterwards.
type Registry struct {
	threshold int
	nodes     []interfaces.NodeInfo
	log       *slog.Logger

	mu      sync.RWMutex
	entries map[interfaces.UserID]*Entry
}

// New creates a registry over a static node directory. The threshold applies
// to entry admission: an entry needs at least that many partial signatures.
func New(nodes []interfaces.NodeInfo, threshold int, log *slog.Logger) (*Registry, error) {
	if threshold < 1 || len(nodes) < threshold {
		return nil, fmt.Errorf("%w: %d nodes for threshold %d", interfaces.ErrInvalidThreshold, len(nodes), threshold)
	}
	return &Registry{
		threshold: threshold,
		nodes:     nodes,
		log:       log,
		entries:   make(map[interfaces.UserID]*Entry),
	}, nil
}

// Nodes returns the custodian directory.
func (r *Registry) Nodes(ctx context.Context) ([]interfaces.NodeInfo, error) {
	out := make([]interfaces.NodeInfo, len(r.nodes))
	copy(out, r.nodes)
	return out, nil
}

// Add verifies and stores a registration entry. Registering a user id twice
// fails with ErrDuplicateRegistration.
func (r *Registry) Add(ctx context.Context, entry *Entry) error {
	if err := entry.Verify(r.threshold); err != nil {
		r.log.Warn("rejecting registration entry", "user", entry.UserID, "err", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.UserID]; ok {
		return fmt.Errorf("%w: %s", interfaces.ErrDuplicateRegistration, entry.UserID)
	}
	r.entries[entry.UserID] = entry
	r.log.Info("registered account entry", "user", entry.UserID, "custodians", len(entry.NodeIDs))
	return nil
}

// Get returns the entry for a user id, or ErrShareNotFound if none exists.
func (r *Registry) Get(ctx context.Context, uid interfaces.UserID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[uid]
	if !ok {
		return nil, fmt.Errorf("%w: no entry for %s", interfaces.ErrShareNotFound, uid)
	}
	return entry, nil
}
