package track

import (
	"context"
	"errors"
	"sync"
)

// Driver names the party issuing servo commands.
type Driver string

const (
	DriverAuto   Driver = "auto"
	DriverManual Driver = "manual"
)

// ErrNotHolder is returned by Release when the caller does not hold the lock.
var ErrNotHolder = errors.New("exclusion lock not held by caller")

// ExclusionLock is the single permission token shared by the automatic
// controller and the manual driver. Only its holder may command the servos.
type ExclusionLock struct {
	token chan struct{}

	mu     sync.Mutex
	holder Driver
}

// NewExclusionLock returns an unheld lock.
func NewExclusionLock() *ExclusionLock {
	return &ExclusionLock{token: make(chan struct{}, 1)}
}

// TryAcquire takes the lock for d if it is free and reports whether it did.
func (l *ExclusionLock) TryAcquire(d Driver) bool {
	select {
	case l.token <- struct{}{}:
		l.setHolder(d)
		return true
	default:
		return false
	}
}

// Acquire blocks until the lock is taken for d or ctx ends.
func (l *ExclusionLock) Acquire(ctx context.Context, d Driver) error {
	select {
	case l.token <- struct{}{}:
		l.setHolder(d)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the lock held by d.
func (l *ExclusionLock) Release(d Driver) error {
	l.mu.Lock()
	if l.holder != d {
		l.mu.Unlock()
		return ErrNotHolder
	}
	l.holder = ""
	l.mu.Unlock()
	<-l.token
	return nil
}

// Holder returns the current holder, or "" when the lock is free.
func (l *ExclusionLock) Holder() Driver {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

func (l *ExclusionLock) setHolder(d Driver) {
	l.mu.Lock()
	l.holder = d
	l.mu.Unlock()
}
