package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
	"github.com/sf7293/taskq/internal/poll"
	"github.com/sf7293/taskq/internal/taskq"
)

type Option func(*Group)

func WithSerializer(s Serializer) Option {
	return func(g *Group) { g.serializer = s }
}

// WithDistributedLock adds a pre-lock that servers take before racing for a
// dead server's row during fail-over.
func WithDistributedLock(lock domain.DistributedLock) Option {
	return func(g *Group) { g.lock = lock }
}

func WithPool(p *taskq.Pool) Option {
	return func(g *Group) { g.pool = p }
}

// Group is a queue group whose tasks are backed by the task store. Every
// enqueued entry carries the id of its task record, the record is leased
// to this server and reloaded by the poller when the lease expires.
type Group struct {
	*taskq.Group

	storage    domain.Storage
	server     *Server
	serializer Serializer
	lock       domain.DistributedLock
	pool       *taskq.Pool
	opts       Options

	poller    *poll.Poller
	heartBeat *poll.HeartBeat
	reload    *poll.LoadExpired
	failOver  *poll.FailOver

	cacheMu sync.Mutex
	cache   map[int64]int
}

func NewGroup(storage domain.Storage, server *Server, opts Options, options ...Option) *Group {
	g := &Group{
		storage:    storage,
		server:     server,
		serializer: JSONSerializer{},
		opts:       opts.normalize(),
		cache:      make(map[int64]int),
	}
	for _, option := range options {
		option(g)
	}

	groupOpts := []taskq.GroupOption{taskq.WithTaskDoneHook(g.taskDone)}
	if g.pool != nil {
		groupOpts = append(groupOpts, taskq.WithPool(g.pool))
	}
	g.Group = taskq.NewGroup(groupOpts...)

	g.heartBeat = poll.NewHeartBeat(storage, server, g, g.opts.HeartBeatInterval, g.opts.NoHeartBeatPause)
	g.reload = poll.NewLoadExpired(storage, server, g, poll.LoadExpiredConfig{
		Interval:         g.opts.ReloadInterval,
		ExpireTime:       g.opts.ExpireTime,
		MaxSize:          g.opts.MaxSize,
		MaxSizePerQueue:  g.opts.MaxSizePerQueue,
		MinFreePercent:   g.opts.ReloadMinFreePercent,
		MaxAmountPerPass: g.opts.ReloadMaxAmountPerPass,
		LogAmount:        g.opts.ReloadLogAmount,
	})
	g.failOver = poll.NewFailOver(storage, server, g.lock, poll.FailOverConfig{
		Timeout:     g.opts.FailOverTimeout,
		GracePeriod: g.opts.DbGracePeriod,
	})

	jobs := []poll.Job{g.heartBeat, g.reload}
	if !g.opts.NoFailOver {
		jobs = append(jobs, g.failOver)
	}
	g.poller = poll.NewPoller(jobs...)

	return g
}

func (g *Group) Server() *Server {
	return g.server
}

func (g *Group) Options() Options {
	return g.opts
}

func (g *Group) Poller() *poll.Poller {
	return g.poller
}

func (g *Group) FailOver() *poll.FailOver {
	return g.failOver
}

func (g *Group) HeartBeat() *poll.HeartBeat {
	return g.heartBeat
}

// Start registers the server in the task store, then starts dispatching and
// polling.
func (g *Group) Start(ctx context.Context) error {
	if err := g.server.Register(ctx); err != nil {
		return err
	}

	g.Group.Start(ctx)
	g.poller.Start(ctx)

	return nil
}

// Stop halts the poller before the queue group so no reloads arrive while
// tasks drain.
func (g *Group) Stop(finish, kill time.Duration) bool {
	polled := g.poller.Stop(finish, kill)
	stopped := g.Group.Stop(finish, kill)

	return polled && stopped
}

// Enqueue accepts only entries with a task id and rejects them when the
// group or the queue is full. A rejected task stays in the task store and is
// reloaded once its lease expires.
func (g *Group) Enqueue(qname string, e *taskq.Entry) bool {
	if e.TaskID == 0 {
		slog.Error("rejected task", "queue", qname, "error", errval.ErrNoTaskID.Error())
		return false
	}

	q := g.Queue(qname)
	if q == nil {
		slog.Warn("enqueue to unknown queue", "queue", qname, "task_id", e.TaskID)
		return false
	}
	if g.opts.MaxSize > 0 && g.Size() >= int64(g.opts.MaxSize) {
		slog.Debug("queue group is full", "queue", qname, "task_id", e.TaskID, "size", g.Size())
		return false
	}
	if g.opts.MaxSizePerQueue > 0 && q.Size() >= g.opts.MaxSizePerQueue {
		slog.Debug("queue is full", "queue", qname, "task_id", e.TaskID, "size", q.Size())
		return false
	}

	g.addRef(e.TaskID)
	if !g.Group.Enqueue(qname, e) {
		g.releaseRef(e.TaskID)
		return false
	}

	return true
}

// EnqueuePayload always fails, durable entries need a task id.
func (g *Group) EnqueuePayload(qname string, payload any, qosKey string) bool {
	return g.Enqueue(qname, &taskq.Entry{Payload: payload, QosKey: qosKey})
}

// ContainsTask reports whether the task is in one of the in-memory queues
// or running.
func (g *Group) ContainsTask(taskID int64) bool {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()

	_, ok := g.cache[taskID]
	return ok
}

func (g *Group) addRef(taskID int64) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()

	g.cache[taskID]++
}

func (g *Group) releaseRef(taskID int64) bool {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()

	n, ok := g.cache[taskID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(g.cache, taskID)
	} else {
		g.cache[taskID] = n - 1
	}

	return true
}

func (g *Group) taskDone(qname string, e *taskq.Entry) {
	if !g.releaseRef(e.TaskID) {
		slog.Warn("task is not present in task id cache", "task_id", e.TaskID, "queue", qname)
	}
}

func (g *Group) expireAt() time.Time {
	return time.Now().Add(g.opts.ExpireTime)
}

// StoreTask inserts a task leased to this server. The caller commits tx.
func (g *Group) StoreTask(ctx context.Context, tx domain.StorageTx, qname string, payload any, qosKey string) (*taskq.Entry, error) {
	data, err := g.serializer.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize payload for queue %s: %w", qname, err)
	}

	taskID, err := tx.InsertTask(ctx, domain.NewTask{
		ServerID:  g.server.ID(),
		QueueName: qname,
		QosKey:    qosKey,
		ExpireAt:  g.expireAt(),
		Payload:   data,
	})
	if err != nil {
		return nil, err
	}

	return &taskq.Entry{Payload: payload, QosKey: qosKey, TaskID: taskID}, nil
}

func (g *Group) LoadTask(ctx context.Context, tx domain.StorageTx, taskID int64) (*domain.TaskRecord, error) {
	return tx.LoadTask(ctx, g.server.ID(), taskID)
}

func (g *Group) DeleteTask(ctx context.Context, tx domain.StorageTx, taskID int64) error {
	return tx.DeleteTask(ctx, g.server.ID(), taskID)
}

// AbandonTask keeps the task record but excludes it from reloading.
func (g *Group) AbandonTask(ctx context.Context, tx domain.StorageTx, taskID int64) error {
	return tx.AbandonTask(ctx, g.server.ID(), taskID)
}

func (g *Group) UpdateTaskQueueName(ctx context.Context, tx domain.StorageTx, taskID int64, qname string) error {
	return tx.UpdateTaskQueueName(ctx, g.server.ID(), taskID, qname, g.expireAt())
}

// UpdateTaskRetry adds delta to the retry count, refreshes the lease and
// returns the updated record.
func (g *Group) UpdateTaskRetry(ctx context.Context, tx domain.StorageTx, taskID int64, delta int32) (*domain.TaskRecord, error) {
	return tx.UpdateTaskRetry(ctx, g.server.ID(), taskID, delta, g.expireAt())
}

func (g *Group) ActiveTasksCount(ctx context.Context) (int64, error) {
	return g.storage.ActiveTasksCount(ctx, g.server.ID())
}

func (g *Group) ToEntry(rec *domain.TaskRecord) (*taskq.Entry, error) {
	payload, err := g.serializer.Unmarshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("deserialize payload of task %d: %w", rec.ID, err)
	}

	return &taskq.Entry{Payload: payload, QosKey: rec.QosKey, TaskID: rec.ID}, nil
}

// InTx runs fn in a transaction that is committed when fn succeeds.
func (g *Group) InTx(ctx context.Context, fn func(tx domain.StorageTx) error) error {
	tx, err := g.storage.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		err2 := tx.Rollback(ctx)
		if err2 != nil {
			slog.Error("Error occurred while rolling back transaction", "error", err2.Error())
		}

		return err
	}

	return tx.Commit(ctx)
}

// StoreAndEnqueue stores a new task, commits it and enqueues it. A false
// result with a task id means the group was full, the poller will load the
// task later.
func (g *Group) StoreAndEnqueue(ctx context.Context, qname string, payload any, qosKey string) (int64, bool, error) {
	if g.Queue(qname) == nil {
		return 0, false, fmt.Errorf("store task for queue %s: %w", qname, errval.ErrQueueNotFound)
	}

	var entry *taskq.Entry
	err := g.InTx(ctx, func(tx domain.StorageTx) (err error) {
		entry, err = g.StoreTask(ctx, tx, qname, payload, qosKey)
		return err
	})
	if err != nil {
		return 0, false, err
	}

	return entry.TaskID, g.Enqueue(qname, entry), nil
}

// LoadAndEnqueue loads a task record of this server and enqueues it in the
// queue named in the record.
func (g *Group) LoadAndEnqueue(ctx context.Context, taskID int64) (bool, error) {
	rec, err := g.storage.LoadTask(ctx, g.server.ID(), taskID)
	if errors.Is(err, errval.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	entry, err := g.ToEntry(rec)
	if err != nil {
		return false, err
	}

	return g.Enqueue(rec.QueueName, entry), nil
}
