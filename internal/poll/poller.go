package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one periodic background task of the poller.
type Job interface {
	Name() string
	Interval() time.Duration
	Poll(ctx context.Context) error
}

type stopKey struct{}

// stopRequested reports whether the poller that called the job is stopping.
// Long running polls check it between units of work.
func stopRequested(ctx context.Context) bool {
	stop, ok := ctx.Value(stopKey{}).(<-chan struct{})
	if !ok {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// Poller runs every job on its own goroutine. A job runs right after Start
// and then again one interval after each run returned.
type Poller struct {
	jobs []Job

	mu       sync.Mutex
	started  bool
	stopping atomic.Bool
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPoller(jobs ...Job) *Poller {
	return &Poller{jobs: jobs}
}

func (p *Poller) Jobs() []Job {
	return p.jobs
}

func (p *Poller) Stopping() bool {
	return p.stopping.Load()
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true
	p.stopping.Store(false)
	p.stopCh = make(chan struct{})

	ctx, p.cancel = context.WithCancel(ctx)
	ctx = context.WithValue(ctx, stopKey{}, (<-chan struct{})(p.stopCh))

	for _, job := range p.jobs {
		p.wg.Add(1)
		go p.run(ctx, job)
	}

	slog.Info("task store poller started", "jobs", len(p.jobs))
}

// Stop asks all jobs to end, waits up to finish for running polls and then
// cancels their context and waits another kill.
func (p *Poller) Stop(finish, kill time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return true
	}
	p.started = false
	p.stopping.Store(true)
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if waitFor(done, finish) {
		p.cancel()
		return true
	}

	p.cancel()
	if waitFor(done, kill) {
		return true
	}

	slog.Warn("could not stop task store poller jobs")
	return false
}

func (p *Poller) run(ctx context.Context, job Job) {
	defer p.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-p.stopCh:
			slog.Debug("task store poller job stopped", "job", job.Name())
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := job.Poll(ctx); err != nil {
			if p.Stopping() && errors.Is(err, context.Canceled) {
				slog.Debug("task store poller job interrupted at stop", "job", job.Name())
			} else {
				slog.Error("task store poller job failed", "job", job.Name(), "error", err.Error())
			}
		}

		if p.Stopping() {
			slog.Debug("task store poller job stopped", "job", job.Name())
			return
		}
		timer.Reset(job.Interval())
	}
}

func waitFor(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
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
