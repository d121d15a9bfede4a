package latch

import (
	"context"
	"time"
)

// Latch is a single-slot wake-up signal. Any number of Release calls made
// before an Acquire collapse into one pending wake.
type Latch struct {
	ch chan struct{}
}

func New() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

// Release marks a pending wake if none is pending yet.
func (l *Latch) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Acquire blocks until a wake is pending and consumes it.
func (l *Latch) Acquire(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Latch) TryAcquire() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// AcquireTimeout waits at most d for a pending wake.
func (l *Latch) AcquireTimeout(d time.Duration) bool {
	if d <= 0 {
		return l.TryAcquire()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-l.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Pending reports whether a wake is waiting to be consumed.
func (l *Latch) Pending() bool {
	return len(l.ch) > 0
}
