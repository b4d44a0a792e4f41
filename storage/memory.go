package storage

import (
	"context"
	"sync"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// MemoryBackend keeps records in process memory. Used by tests and
// single-process development setups.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

func memoryKey(user interfaces.UserID, kind RecordKind) string {
	return kind.String() + "/" + user.String()
}

// Fetch returns the stored blob or interfaces.ErrShareNotFound.
func (b *MemoryBackend) Fetch(_ context.Context, user interfaces.UserID, kind RecordKind) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.records[memoryKey(user, kind)]
	if !ok {
		return nil, interfaces.ErrShareNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Store saves the blob, overwriting any previous value.
func (b *MemoryBackend) Store(_ context.Context, user interfaces.UserID, kind RecordKind, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	b.records[memoryKey(user, kind)] = stored
	return nil
}

// Name identifies the backend in logs.
func (b *MemoryBackend) Name() string { return "memory" }
