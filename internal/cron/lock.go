package cron

import (
	"context"
	"sync"
)

// Lock coordinates exclusive cron runs. The terminal runs a single
// process, so the lock only has to guard against overlapping cycles,
// not competing instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// MutexLock is the in-process Lock. Acquire fails, rather than blocks,
// when a cycle is still running.
type MutexLock struct {
	mu   sync.Mutex
	held bool
}

// NewMutexLock builds an unheld lock.
func NewMutexLock() *MutexLock {
	return &MutexLock{}
}

// Acquire takes the lock if it is free.
func (l *MutexLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

// Release frees the lock.
func (l *MutexLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}
