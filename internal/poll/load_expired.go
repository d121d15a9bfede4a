package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
	"github.com/sf7293/taskq/internal/taskq"
)

const DefaultReloadInterval = 5 * time.Second

type LoadExpiredConfig struct {
	Interval   time.Duration
	ExpireTime time.Duration
	// MaxSize and MaxSizePerQueue are zero when unlimited.
	MaxSize         int
	MaxSizePerQueue int
	// MinFreePercent of the max sizes is kept free for new tasks.
	MinFreePercent   int
	MaxAmountPerPass int
	LogAmount        int
}

// LoadExpired re-enqueues tasks whose lease in the task store expired. A task
// that is still in memory only gets its lease refreshed.
type LoadExpired struct {
	storage    domain.Storage
	server     Server
	dispatcher Dispatcher
	cfg        LoadExpiredConfig
}

func NewLoadExpired(storage domain.Storage, server Server, dispatcher Dispatcher, cfg LoadExpiredConfig) *LoadExpired {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReloadInterval
	}
	return &LoadExpired{
		storage:    storage,
		server:     server,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

func (l *LoadExpired) Name() string {
	return "load-expired"
}

func (l *LoadExpired) Interval() time.Duration {
	return l.cfg.Interval
}

func (l *LoadExpired) haveRoom(size, maxSize int) bool {
	if maxSize <= 0 {
		return true
	}
	minFree := maxSize * l.cfg.MinFreePercent / 100
	return size+minFree < maxSize
}

func (l *LoadExpired) haveQueueRoom(q taskq.Queue) bool {
	return l.haveRoom(int(l.dispatcher.Size()), l.cfg.MaxSize) && l.haveRoom(q.Size(), l.cfg.MaxSizePerQueue)
}

func (l *LoadExpired) stopping(ctx context.Context) bool {
	return l.dispatcher.Stopping() || stopRequested(ctx) || ctx.Err() != nil
}

func (l *LoadExpired) Poll(ctx context.Context) error {
	if l.dispatcher.Paused() || !l.server.Available() || l.stopping(ctx) {
		return nil
	}
	if !l.haveRoom(int(l.dispatcher.Size()), l.cfg.MaxSize) {
		slog.Debug("skipping check for expired tasks, maximum size reached", "size", l.dispatcher.Size())
		return nil
	}

	qnames, err := l.storage.ExpiredQueues(ctx, l.server.ID(), time.Now())
	if err != nil {
		return fmt.Errorf("list queues with expired tasks: %w", err)
	}
	if len(qnames) == 0 {
		return nil
	}

	slog.Debug("queues with expired tasks", "queues", qnames)
	for _, qname := range qnames {
		l.reload(ctx, qname)
	}

	return nil
}

func (l *LoadExpired) reload(ctx context.Context, qname string) {
	q := l.dispatcher.Queue(qname)
	if q == nil {
		slog.Warn("cannot load expired tasks for unknown queue", "queue", qname)
		return
	}
	if q.Paused() {
		slog.Debug("skipping expired tasks of paused queue", "queue", qname)
		return
	}
	if !l.haveQueueRoom(q) {
		slog.Debug("no room for reloading tasks", "queue", qname)
		return
	}

	serverID := l.server.ID()
	reloaded, touched := 0, 0
	for l.haveQueueRoom(q) && !q.Paused() && !l.stopping(ctx) {
		if l.cfg.MaxAmountPerPass > 0 && reloaded >= l.cfg.MaxAmountPerPass {
			break
		}
		if l.cfg.LogAmount > 0 && reloaded+touched > 0 && (reloaded+touched)%l.cfg.LogAmount == 0 {
			slog.Debug("reload expired tasks progress", "queue", qname, "reloaded", reloaded, "touched", touched)
		}

		now := time.Now()
		taskID, err := l.storage.ExpiredTask(ctx, serverID, qname, now)
		if errors.Is(err, errval.ErrNotFound) {
			break
		}
		if err != nil {
			slog.Error("failed to fetch expired task", "queue", qname, "error", err.Error())
			break
		}

		if err := l.storage.UpdateExpired(ctx, serverID, taskID, now.Add(l.cfg.ExpireTime)); err != nil {
			slog.Warn("unable to refresh lease of expired task", "task_id", taskID, "queue", qname, "error", err.Error())
			break
		}

		if l.dispatcher.ContainsTask(taskID) {
			touched++
			continue
		}

		ok, err := l.dispatcher.LoadAndEnqueue(ctx, taskID)
		if err != nil {
			slog.Error("failed to load expired task", "task_id", taskID, "queue", qname, "error", err.Error())
			break
		}
		if !ok {
			slog.Warn("unable to reload expired task", "task_id", taskID, "queue", qname)
			break
		}
		reloaded++
	}

	if reloaded+touched == 0 {
		slog.Debug("no expired tasks reloaded or touched", "queue", qname)
		return
	}
	slog.Debug("expired tasks handled", "queue", qname, "reloaded", reloaded, "touched", touched)
}
