package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
)

type tx struct {
	tx      pgx.Tx
	queries *Queries
}

func (t *tx) InsertTask(ctx context.Context, task domain.NewTask) (int64, error) {
	taskID, err := t.queries.InsertTask(ctx, InsertTaskParams{
		ServerID:  task.ServerID,
		QueueName: task.QueueName,
		QosKey:    qosKeyText(task.QosKey),
		ExpireAt:  timestamptz(task.ExpireAt),
	})
	if err != nil {
		return 0, err
	}

	err = t.queries.InsertItem(ctx, InsertItemParams{
		TaskID:  taskID,
		Payload: task.Payload,
	})
	if err != nil {
		return 0, err
	}

	return taskID, nil
}

func (t *tx) LoadTask(ctx context.Context, serverID, taskID int64) (*domain.TaskRecord, error) {
	return loadTask(ctx, t.queries, serverID, taskID)
}

func (t *tx) DeleteTask(ctx context.Context, serverID, taskID int64) error {
	rows, err := t.queries.DeleteTask(ctx, DeleteTaskParams{
		ID:       taskID,
		ServerID: serverID,
	})
	return expectOneRow(rows, err, "delete task", taskID)
}

func (t *tx) AbandonTask(ctx context.Context, serverID, taskID int64) error {
	rows, err := t.queries.AbandonTask(ctx, AbandonTaskParams{
		ID:       taskID,
		ServerID: serverID,
	})
	return expectOneRow(rows, err, "abandon task", taskID)
}

func (t *tx) UpdateTaskQueueName(ctx context.Context, serverID, taskID int64, qname string, expireAt time.Time) error {
	rows, err := t.queries.UpdateTaskQueueName(ctx, UpdateTaskQueueNameParams{
		ID:        taskID,
		ServerID:  serverID,
		QueueName: qname,
		ExpireAt:  timestamptz(expireAt),
	})
	return expectOneRow(rows, err, "update task queue", taskID)
}

func (t *tx) UpdateTaskRetry(ctx context.Context, serverID, taskID int64, delta int32, expireAt time.Time) (*domain.TaskRecord, error) {
	task, err := t.queries.UpdateTaskRetry(ctx, UpdateTaskRetryParams{
		ID:       taskID,
		ServerID: serverID,
		Delta:    delta,
		ExpireAt: timestamptz(expireAt),
	})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("update task retry %d: %w", taskID, errval.ErrNotFound)
		}

		return nil, err
	}

	return convertTask(task), nil
}

// LockServer takes the row lock without waiting. A lock held by another
// transaction and a missing or abandoned row both report false.
func (t *tx) LockServer(ctx context.Context, serverID int64) (bool, error) {
	_, err := t.queries.LockServer(ctx, serverID)
	if err == nil {
		return true, nil
	}
	if isNoRows(err) {
		return false, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.LockNotAvailable {
		return false, nil
	}

	return false, err
}

func (t *tx) ReassignTasks(ctx context.Context, fromServerID, toServerID int64) (int64, error) {
	return t.queries.ReassignTasks(ctx, ReassignTasksParams{
		FromServerID: fromServerID,
		ToServerID:   toServerID,
	})
}

func (t *tx) AbandonServer(ctx context.Context, serverID int64) (int64, error) {
	return t.queries.AbandonServer(ctx, serverID)
}

func (t *tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func expectOneRow(rows int64, err error, op string, taskID int64) error {
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s %d: %w", op, taskID, errval.ErrNotFound)
	}

	return nil
}
