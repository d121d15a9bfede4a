package domain

import (
	"context"
	"time"
)

// Storage is the autocommit side of the task store. All task queries are
// scoped to the owning server id.
type Storage interface {
	Ping(ctx context.Context) (err error)
	Begin(ctx context.Context) (StorageTx, error)

	ExpiredQueues(ctx context.Context, serverID int64, now time.Time) ([]string, error)
	// ExpiredTask returns errval.ErrNotFound when no lease in qname has expired.
	ExpiredTask(ctx context.Context, serverID int64, qname string, now time.Time) (int64, error)
	// UpdateExpired returns errval.ErrConcurrentUpdate when no row was touched.
	UpdateExpired(ctx context.Context, serverID, taskID int64, expireAt time.Time) error
	LoadTask(ctx context.Context, serverID, taskID int64) (*TaskRecord, error)
	ActiveTasksCount(ctx context.Context, serverID int64) (int64, error)

	FindServer(ctx context.Context, name, group string) (*ServerRecord, error)
	InsertServer(ctx context.Context, name, group string, now time.Time) (*ServerRecord, error)
	// UpdateServerActive returns the amount of rows touched.
	UpdateServerActive(ctx context.Context, serverID int64, now time.Time) (int64, error)
	DeadServers(ctx context.Context, group string, cutoff time.Time, excludeID int64) ([]*ServerRecord, error)
}

// StorageTx runs task store operations inside one transaction. The caller
// commits or rolls back.
type StorageTx interface {
	InsertTask(ctx context.Context, task NewTask) (int64, error)
	LoadTask(ctx context.Context, serverID, taskID int64) (*TaskRecord, error)
	DeleteTask(ctx context.Context, serverID, taskID int64) error
	AbandonTask(ctx context.Context, serverID, taskID int64) error
	UpdateTaskQueueName(ctx context.Context, serverID, taskID int64, qname string, expireAt time.Time) error
	UpdateTaskRetry(ctx context.Context, serverID, taskID int64, delta int32, expireAt time.Time) (*TaskRecord, error)

	// LockServer returns false when the row is locked by someone else or
	// already abandoned.
	LockServer(ctx context.Context, serverID int64) (bool, error)
	ReassignTasks(ctx context.Context, fromServerID, toServerID int64) (int64, error)
	AbandonServer(ctx context.Context, serverID int64) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
