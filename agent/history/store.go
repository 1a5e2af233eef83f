// Package history persists per-thread conversation messages. The registry
// treats it as an external store: the in-memory implementation is the
// default, Postgres backs deployments that need durable history.
package history

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Store owns message persistence for conversation threads.
type Store interface {
	Load(ctx context.Context, threadID string) ([]*schema.Message, error)
	Append(ctx context.Context, threadID string, msgs []*schema.Message) error
	Delete(ctx context.Context, threadID string) error
}

// MemoryStore keeps history in process memory. Threads vanish on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*schema.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]*schema.Message)}
}

func (m *MemoryStore) Load(_ context.Context, threadID string) ([]*schema.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.threads[threadID]
	out := make([]*schema.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, threadID string, msgs []*schema.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.threads[threadID] = append(m.threads[threadID], msgs...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.threads, threadID)
	return nil
}
