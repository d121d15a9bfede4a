package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
)

type storage struct {
	queries *Queries
	pool    *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*storage, error) {
	var pool *pgxpool.Pool
	var err error

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if pool, err = pgxpool.ConnectConfig(ctx, config); err != nil {
			slog.ErrorContext(ctx, "failed to connect to postgres database.. retrying...", "error", err)
			return err
		}

		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			return err
		}

		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5), ctx))

	if err != nil {
		return nil, err
	}

	return &storage{
		queries: New(pool),
		pool:    pool,
	}, nil
}

func (s *storage) Ping(ctx context.Context) (err error) {
	return s.pool.Ping(ctx)
}

func (s *storage) Close() {
	s.pool.Close()
}

func (s *storage) Begin(ctx context.Context) (domain.StorageTx, error) {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	return &tx{tx: pgTx, queries: s.queries.WithTx(pgTx)}, nil
}

func (s *storage) ExpiredQueues(ctx context.Context, serverID int64, now time.Time) ([]string, error) {
	return s.queries.ExpiredQueues(ctx, ExpiredQueuesParams{
		ServerID: serverID,
		Now:      timestamptz(now),
	})
}

func (s *storage) ExpiredTask(ctx context.Context, serverID int64, qname string, now time.Time) (int64, error) {
	taskID, err := s.queries.ExpiredTask(ctx, ExpiredTaskParams{
		ServerID:  serverID,
		QueueName: qname,
		Now:       timestamptz(now),
	})
	if err != nil {
		if isNoRows(err) {
			return 0, errval.ErrNotFound
		}

		return 0, err
	}

	return taskID, nil
}

func (s *storage) UpdateExpired(ctx context.Context, serverID, taskID int64, expireAt time.Time) error {
	rows, err := s.queries.UpdateExpired(ctx, UpdateExpiredParams{
		ID:       taskID,
		ServerID: serverID,
		ExpireAt: timestamptz(expireAt),
	})
	if err != nil {
		return err
	}
	if rows != 1 {
		return fmt.Errorf("refresh lease of task %d: %w", taskID, errval.ErrConcurrentUpdate)
	}

	return nil
}

func (s *storage) LoadTask(ctx context.Context, serverID, taskID int64) (*domain.TaskRecord, error) {
	return loadTask(ctx, s.queries, serverID, taskID)
}

func (s *storage) ActiveTasksCount(ctx context.Context, serverID int64) (int64, error) {
	return s.queries.ActiveTasksCount(ctx, serverID)
}

func (s *storage) FindServer(ctx context.Context, name, group string) (*domain.ServerRecord, error) {
	srv, err := s.queries.FindServer(ctx, FindServerParams{
		Name:        name,
		ServerGroup: group,
	})
	if err != nil {
		if isNoRows(err) {
			return nil, errval.ErrNotFound
		}

		return nil, err
	}

	return convertServer(srv), nil
}

func (s *storage) InsertServer(ctx context.Context, name, group string, now time.Time) (*domain.ServerRecord, error) {
	srv, err := s.queries.InsertServer(ctx, InsertServerParams{
		Name:        name,
		ServerGroup: group,
		LastActive:  timestamptz(now),
	})
	if err != nil {
		return nil, err
	}

	return convertServer(srv), nil
}

func (s *storage) UpdateServerActive(ctx context.Context, serverID int64, now time.Time) (int64, error) {
	return s.queries.UpdateServerActive(ctx, UpdateServerActiveParams{
		ID:         serverID,
		LastActive: timestamptz(now),
	})
}

func (s *storage) DeadServers(ctx context.Context, group string, cutoff time.Time, excludeID int64) ([]*domain.ServerRecord, error) {
	servers, err := s.queries.DeadServers(ctx, DeadServersParams{
		ServerGroup: group,
		ExcludeID:   excludeID,
		Cutoff:      timestamptz(cutoff),
	})
	if err != nil {
		return nil, err
	}

	converted := make([]*domain.ServerRecord, 0, len(servers))
	for _, srv := range servers {
		converted = append(converted, convertServer(srv))
	}

	return converted, nil
}

func loadTask(ctx context.Context, q *Queries, serverID, taskID int64) (*domain.TaskRecord, error) {
	task, err := q.GetTask(ctx, GetTaskParams{
		ID:       taskID,
		ServerID: serverID,
	})
	if err != nil {
		if isNoRows(err) {
			return nil, errval.ErrNotFound
		}

		return nil, err
	}

	return convertTask(task), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Status: pgtype.Present}
}

func qosKeyText(key string) pgtype.Text {
	if key == "" {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: key, Status: pgtype.Present}
}

func convertTask(task TaskqTask) *domain.TaskRecord {
	castedTask := &domain.TaskRecord{
		ID:         task.ID,
		ServerID:   task.ServerID,
		QueueName:  task.QueueName,
		ExpireAt:   task.ExpireAt.Time,
		RetryCount: task.RetryCount,
		Payload:    task.Payload,
		Abandoned:  task.Abandoned,
	}
	if task.QosKey.Status == pgtype.Present {
		castedTask.QosKey = task.QosKey.String
	}

	return castedTask
}

func convertServer(srv TaskqServer) *domain.ServerRecord {
	return &domain.ServerRecord{
		ID:         srv.ID,
		Name:       srv.Name,
		Group:      srv.ServerGroup,
		LastActive: srv.LastActive.Time,
		Abandoned:  srv.Abandoned,
	}
}
