package taskq

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Pool runs every submitted function on its own goroutine. Functions receive
// a context that is cancelled once a graceful shutdown runs out of time.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	active atomic.Int64
}

func NewPool() *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{ctx: ctx, cancel: cancel}
}

// Go returns false when the pool is already shut down.
func (p *Pool) Go(fn func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("pool goroutine recovered from panic", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn(p.ctx)
	}()

	return true
}

func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Shutdown refuses new work and waits up to finish for running functions.
// Stragglers get their context cancelled and another kill to return.
// It reports whether every function returned.
func (p *Pool) Shutdown(finish, kill time.Duration) bool {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if waitFor(done, finish) {
		p.cancel()
		return true
	}

	slog.Warn("pool did not finish in time, cancelling running tasks", "active", p.Active(), "finish_timeout", finish.String())
	p.cancel()

	if waitFor(done, kill) {
		return true
	}

	slog.Error("pool did not terminate after cancel", "active", p.Active(), "kill_timeout", kill.String())
	return false
}

func waitFor(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
