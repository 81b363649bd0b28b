package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryRunLock is a process-local lease table.
type MemoryRunLock struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

func NewMemoryRunLock() *MemoryRunLock {
	return &MemoryRunLock{leases: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryRunLock) Acquire(_ context.Context, accountID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.leases[accountID]; ok && now.Before(expires) {
		return false, nil
	}
	l.leases[accountID] = now.Add(ttl)
	return true, nil
}

func (l *MemoryRunLock) Release(_ context.Context, accountID string) error {
	l.mu.Lock()
	delete(l.leases, accountID)
	l.mu.Unlock()
	return nil
}
