package state

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds every wait on shared state.
const DefaultLockTimeout = 100 * time.Millisecond

var ErrLockTimeout = errors.New("timed out waiting for state lock")

// TimedLock is a mutex whose acquisition gives up after a timeout.
type TimedLock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewTimedLock(timeout time.Duration) *TimedLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &TimedLock{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// Lock waits up to the timeout, or until ctx is done, whichever is first.
func (l *TimedLock) Lock(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ErrLockTimeout
	}
	return nil
}

func (l *TimedLock) Unlock() {
	l.sem.Release(1)
}
