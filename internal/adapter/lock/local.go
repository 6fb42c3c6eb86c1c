package lock

import (
	"context"
	"sync"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// LocalLocker serializes work on a key within one process.
// Used when no Redis address is configured and in tests.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

// Obtain blocks until the lock for key is held or ctx is done
func (l *LocalLocker) Obtain(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, &domain.ConcurrencyError{Resource: "lock", ID: key}
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
