package taskq

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sf7293/taskq/internal/errval"
	"github.com/sf7293/taskq/internal/latch"
)

const (
	DefaultFinishTimeout = 5 * time.Second
	DefaultKillTimeout   = 2 * time.Second
)

const (
	stateStopped int32 = iota
	stateStarted
	stateStopping
)

// TaskDoneHook runs after a task's handler returned and before the group's
// own bookkeeping.
type TaskDoneHook func(qname string, e *Entry)

type GroupOption func(*Group)

// WithPool makes the group submit work to p. The group never shuts down a
// pool it did not create.
func WithPool(p *Pool) GroupOption {
	return func(g *Group) { g.pool = p }
}

func WithTaskDoneHook(hook TaskDoneHook) GroupOption {
	return func(g *Group) { g.doneHook = hook }
}

// Group owns a set of named queues and the loop dispatching their entries to
// handlers.
type Group struct {
	mu     sync.RWMutex
	queues map[string]Queue
	names  []string

	pool     *Pool
	ownsPool bool
	doneHook TaskDoneHook

	state      atomic.Int32
	paused     atomic.Bool
	wake       *latch.Latch
	pause      *latch.Latch
	allDone    *latch.Latch
	awaiting   atomic.Int32
	cancelLoop context.CancelFunc
	loopDone   chan struct{}

	added  atomic.Int64
	done   atomic.Int64
	queued atomic.Int64
}

func NewGroup(opts ...GroupOption) *Group {
	g := &Group{
		queues:  make(map[string]Queue),
		wake:    latch.New(),
		pause:   latch.New(),
		allDone: latch.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start launches the dispatch loop. Calling it on a started group does nothing.
func (g *Group) Start(ctx context.Context) {
	if !g.state.CompareAndSwap(stateStopped, stateStarted) {
		return
	}

	if g.pool == nil || g.ownsPool {
		g.pool = NewPool()
		g.ownsPool = true
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g.cancelLoop = cancel
	g.loopDone = make(chan struct{})

	if !g.pool.Go(func(context.Context) { g.loop(loopCtx) }) {
		go g.loop(loopCtx)
	}
	g.wake.Release()

	slog.Info("queue group started", "queues", len(g.QueueNames()), "paused", g.Paused())
}

// Stop ends the dispatch loop and waits up to finish for running tasks.
// Tasks still running after that get their context cancelled and kill more
// time to return. It reports whether everything terminated.
func (g *Group) Stop(finish, kill time.Duration) bool {
	if !g.state.CompareAndSwap(stateStarted, stateStopping) {
		return g.state.Load() == stateStopped
	}
	defer g.state.Store(stateStopped)

	slog.Info("stopping queue group", "in_system", g.Size(), "finish_timeout", finish.String(), "kill_timeout", kill.String())

	g.wake.Release()
	g.pause.Release()
	g.cancelLoop()

	if g.ownsPool {
		return g.pool.Shutdown(finish, kill)
	}
	return waitFor(g.loopDone, finish+kill)
}

func (g *Group) Stopping() bool {
	return g.state.Load() == stateStopping
}

func (g *Group) Started() bool {
	return g.state.Load() == stateStarted
}

// AddQueue registers q. Names are unique within a group.
func (g *Group) AddQueue(q Queue) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.queues[q.Name()]; ok {
		return fmt.Errorf("add queue %q: %w", q.Name(), errval.ErrQueueExists)
	}
	g.queues[q.Name()] = q
	g.names = append(g.names, q.Name())
	sort.Strings(g.names)
	g.wake.Release()

	return nil
}

// RemoveQueue unregisters a queue. Entries still pending in it are left to
// the caller.
func (g *Group) RemoveQueue(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.queues[name]; !ok {
		return false
	}
	delete(g.queues, name)
	for i, n := range g.names {
		if n == name {
			g.names = append(g.names[:i], g.names[i+1:]...)
			break
		}
	}

	return true
}

func (g *Group) Queue(name string) Queue {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.queues[name]
}

// QueueNames is sorted by name, the order queues are visited in.
func (g *Group) QueueNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, len(g.names))
	copy(names, g.names)
	return names
}

func (g *Group) sortedQueues() []Queue {
	g.mu.RLock()
	defer g.mu.RUnlock()

	queues := make([]Queue, 0, len(g.names))
	for _, name := range g.names {
		queues = append(queues, g.queues[name])
	}
	return queues
}

// Enqueue pushes e into queue qname and wakes the dispatch loop. It returns
// false when the queue is unknown.
func (g *Group) Enqueue(qname string, e *Entry) bool {
	q := g.Queue(qname)
	if q == nil {
		slog.Warn("enqueue to unknown queue", "queue", qname, "task_id", e.TaskID)
		return false
	}

	g.added.Add(1)
	g.queued.Add(1)
	q.Push(e)
	g.wake.Release()

	return true
}

func (g *Group) EnqueuePayload(qname string, payload any, qosKey string) bool {
	return g.Enqueue(qname, &Entry{Payload: payload, QosKey: qosKey})
}

// SetPaused pauses dispatching of every queue without touching the queues'
// own pause flags.
func (g *Group) SetPaused(paused bool) {
	if g.paused.Swap(paused) == paused {
		return
	}
	if !paused {
		g.pause.Release()
		g.wake.Release()
	}
	slog.Info("queue group pause changed", "paused", paused)
}

func (g *Group) Paused() bool {
	return g.paused.Load()
}

func (g *Group) SetQueuePaused(name string, paused bool) bool {
	q := g.Queue(name)
	if q == nil {
		return false
	}
	q.SetPaused(paused)
	if !paused {
		g.wake.Release()
	}
	slog.Info("queue pause changed", "queue", name, "paused", paused)

	return true
}

// TriggerDispatch forces a dispatch pass.
func (g *Group) TriggerDispatch() {
	g.wake.Release()
}

// Size is the amount of tasks enqueued and not done yet.
func (g *Group) Size() int64 {
	return g.queued.Load()
}

func (g *Group) TasksAdded() int64 {
	return g.added.Load()
}

func (g *Group) TasksDone() int64 {
	return g.done.Load()
}

// AwaitAllDone blocks until every added task is done. It returns false when
// ctx ends first.
func (g *Group) AwaitAllDone(ctx context.Context) bool {
	if g.done.Load() >= g.added.Load() {
		return true
	}

	g.awaiting.Add(1)
	defer g.awaiting.Add(-1)

	for {
		if g.done.Load() >= g.added.Load() {
			g.allDone.Release()
			return true
		}
		if err := g.allDone.Acquire(ctx); err != nil {
			return false
		}
	}
}

func (g *Group) AwaitAllDoneTimeout(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	return g.AwaitAllDone(ctx)
}

func (g *Group) loop(ctx context.Context) {
	defer close(g.loopDone)

	for !g.Stopping() {
		if g.paused.Load() {
			if err := g.pause.Acquire(ctx); err != nil {
				break
			}
			continue
		}
		if err := g.wake.Acquire(ctx); err != nil {
			break
		}
		if g.Stopping() || g.paused.Load() {
			continue
		}

		for _, q := range g.sortedQueues() {
			g.dispatch(q)
		}
	}

	slog.Debug("dispatch loop exited", "stopping", g.Stopping())
}

func (g *Group) dispatch(q Queue) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch pass failed", "queue", q.Name(), "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if q.Paused() {
		return
	}

	dispatched := 0
	for q.Size() > 0 && q.InProgress() < q.MaxConcurrent() {
		if dispatched > q.MaxConcurrent() {
			g.wake.Release()
			return
		}

		e := q.Pull()
		if e == nil {
			return
		}
		if !g.submit(q, e) {
			return
		}
		dispatched++
	}
}

func (g *Group) submit(q Queue, e *Entry) bool {
	h := q.HandlerFactory().Handler(q.Name())

	ok := g.pool.Go(func(ctx context.Context) {
		g.run(ctx, q, h, e)
	})
	if !ok {
		q.TaskDone(e)
		q.Push(e)
		slog.Warn("pool refused task, kept in queue", "queue", q.Name(), "task_id", e.TaskID)
	}

	return ok
}

func (g *Group) run(ctx context.Context, q Queue, h Handler, e *Entry) {
	defer g.taskDone(q, e)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task handler panicked", "queue", q.Name(), "task_id", e.TaskID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if h == nil {
		slog.Error("no handler for queue", "queue", q.Name(), "task_id", e.TaskID)
		return
	}

	if err := h.OnTask(ctx, e.Payload, q.Name(), e.QosKey, e.TaskID); err != nil {
		slog.Error("task handler failed", "queue", q.Name(), "qos_key", e.QosKey, "task_id", e.TaskID, "error", err.Error())
	}
}

func (g *Group) taskDone(q Queue, e *Entry) {
	if g.doneHook != nil {
		g.doneHook(q.Name(), e)
	}

	q.TaskDone(e)
	done := g.done.Add(1)
	g.queued.Add(-1)

	if g.awaiting.Load() > 0 && done >= g.added.Load() {
		g.allDone.Release()
		return
	}
	g.wake.Release()
}
