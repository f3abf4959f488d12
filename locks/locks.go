// Package locks provides per-source run locks so that two runs of the same
// source never overlap, within one process or across replicas.
package locks

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when the source is already being harvested.
var ErrLocked = errors.New("source busy")

// SourceLocker grants exclusive run rights for a source code.
type SourceLocker interface {
	// TryLock acquires the lock for code without blocking. The returned
	// release func is safe to call more than once.
	TryLock(ctx context.Context, code string) (release func(), err error)
}

// MemoryLocker is a process-local SourceLocker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryLock implements SourceLocker.
func (l *MemoryLocker) TryLock(_ context.Context, code string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[code]; busy {
		return nil, ErrLocked
	}
	l.held[code] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, code)
			l.mu.Unlock()
		})
	}, nil
}
