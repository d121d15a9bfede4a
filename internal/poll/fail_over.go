package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sf7293/taskq/internal/domain"
)

const (
	DefaultFailOverTimeout = 30 * time.Second
	DefaultDbGracePeriod   = 60 * time.Second
)

type FailOverConfig struct {
	// Timeout is how long a server may stay silent before its tasks are taken over.
	Timeout     time.Duration
	GracePeriod time.Duration
}

// FailOver adopts the tasks of servers in the same group that stopped
// sending heartbeats. The reassigned tasks are picked up by LoadExpired.
type FailOver struct {
	storage domain.Storage
	server  Server
	lock    domain.DistributedLock
	cfg     FailOverConfig
}

// NewFailOver creates the job. lock is optional and only narrows the window
// in which servers race for the same dead server row.
func NewFailOver(storage domain.Storage, server Server, lock domain.DistributedLock, cfg FailOverConfig) *FailOver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFailOverTimeout
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	return &FailOver{
		storage: storage,
		server:  server,
		lock:    lock,
		cfg:     cfg,
	}
}

func (f *FailOver) Name() string {
	return "fail-over"
}

func (f *FailOver) Interval() time.Duration {
	return f.cfg.Timeout / 2
}

func (f *FailOver) inGracePeriod() bool {
	return time.Now().Before(f.server.LastUnavailable().Add(f.cfg.GracePeriod))
}

func (f *FailOver) Poll(ctx context.Context) error {
	if !f.server.Available() || f.inGracePeriod() {
		return nil
	}

	dead, err := f.storage.DeadServers(ctx, f.server.Group(), time.Now().Add(-f.cfg.Timeout), f.server.ID())
	if err != nil {
		return fmt.Errorf("list dead servers: %w", err)
	}
	if len(dead) == 0 {
		return nil
	}

	slog.Debug("found dead servers", "amount", len(dead), "group", f.server.Group())
	for _, srv := range dead {
		if stopRequested(ctx) {
			return nil
		}
		if _, err := f.TakeOver(ctx, srv.ID); err != nil {
			slog.Error("fail-over of dead server failed", "dead_server_id", srv.ID, "error", err.Error())
		}
	}

	return nil
}

// TakeOver moves all tasks of deadServerID to this server and abandons the
// dead server's row. It returns false without error when another server got
// there first.
func (f *FailOver) TakeOver(ctx context.Context, deadServerID int64) (bool, error) {
	if f.lock != nil {
		key := fmt.Sprintf("taskq:fail-over:%d", deadServerID)
		locked, err := f.lock.Lock(ctx, key, f.cfg.Timeout)
		switch {
		case err != nil:
			slog.Warn("fail-over pre-lock unavailable, relying on task store lock", "dead_server_id", deadServerID, "error", err.Error())
		case !locked:
			slog.Info("fail-over of dead server is handled by another server", "dead_server_id", deadServerID)
			return false, nil
		default:
			defer func() {
				if err := f.lock.Unlock(ctx, key); err != nil {
					slog.Warn("could not release fail-over pre-lock", "dead_server_id", deadServerID, "error", err.Error())
				}
			}()
		}
	}

	tx, err := f.storage.Begin(ctx)
	if err != nil {
		return false, err
	}

	locked, err := tx.LockServer(ctx, deadServerID)
	if err != nil || !locked {
		err2 := tx.Rollback(ctx)
		if err2 != nil {
			slog.Error("Error occurred while rolling back transaction", "error", err2.Error())
		}
		if err != nil {
			return false, err
		}

		slog.Info("dead server is locked by another server", "dead_server_id", deadServerID)
		return false, nil
	}

	moved, err := tx.ReassignTasks(ctx, deadServerID, f.server.ID())
	if err != nil {
		err2 := tx.Rollback(ctx)
		if err2 != nil {
			slog.Error("Error occurred while rolling back transaction", "error", err2.Error())
		}

		return false, err
	}

	abandoned, err := tx.AbandonServer(ctx, deadServerID)
	if err != nil {
		err2 := tx.Rollback(ctx)
		if err2 != nil {
			slog.Error("Error occurred while rolling back transaction", "error", err2.Error())
		}

		return false, err
	}
	if abandoned != 1 {
		slog.Warn("expected to abandon one server row", "dead_server_id", deadServerID, "updated", abandoned)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	slog.Info("took over tasks of dead server", "dead_server_id", deadServerID, "server_id", f.server.ID(), "tasks", moved)
	return true, nil
}
