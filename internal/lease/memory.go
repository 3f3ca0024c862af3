package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memItem struct {
	token   string
	expires time.Time
}

// Memory is a Locker for single-process deployments and tests.
type Memory struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: map[string]memItem{}, now: time.Now}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if it, ok := m.items[key]; ok && now.Before(it.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.items[key] = memItem{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (m *Memory) Release(ctx context.Context, key, token string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok && it.token == token {
		delete(m.items, key)
	}
	return nil
}
