package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/metrics"
	"github.com/sf7293/taskq/internal/taskq"
)

const (
	DefaultMaxRetries     = 3
	DefaultInlineAttempts = 2
)

var errBadPayload = errors.New("payload is not a JSON object of strings")

// TaskStore is the part of the durable group a runner settles tasks with.
type TaskStore interface {
	InTx(ctx context.Context, fn func(tx domain.StorageTx) error) error
	DeleteTask(ctx context.Context, tx domain.StorageTx, taskID int64) error
	AbandonTask(ctx context.Context, tx domain.StorageTx, taskID int64) error
	UpdateTaskRetry(ctx context.Context, tx domain.StorageTx, taskID int64, delta int32) (*domain.TaskRecord, error)
}

type RunnerOption func(*Runner)

// WithBackOff sets the policy for the attempts made while a task is running.
func WithBackOff(newBackOff func() backoff.BackOff) RunnerOption {
	return func(r *Runner) { r.newBackOff = newBackOff }
}

func WithMaxRetries(n int32) RunnerOption {
	return func(r *Runner) { r.maxRetries = n }
}

// Runner executes a process for every task of a queue. A task that
// succeeds is deleted. A failed task has its retry count raised and is
// executed again when its lease expires, until it ran out of retries and
// is abandoned.
type Runner struct {
	store      TaskStore
	process    Process
	maxRetries int32
	newBackOff func() backoff.BackOff
}

func NewRunner(store TaskStore, process Process, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:      store,
		process:    process,
		maxRetries: DefaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, DefaultInlineAttempts)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Factory builds one runner per queue, the queue name selects the process.
func Factory(store TaskStore, delay time.Duration, opts ...RunnerOption) taskq.HandlerFactory {
	var runners sync.Map
	return taskq.HandlerFactoryFunc(func(qname string) taskq.Handler {
		if r, ok := runners.Load(qname); ok {
			return r.(*Runner)
		}

		process, err := NewProcess(qname, delay)
		if err != nil {
			slog.Error("no process for queue", "queue", qname, "error", err.Error())
			return nil
		}
		r, _ := runners.LoadOrStore(qname, NewRunner(store, process, opts...))
		return r.(*Runner)
	})
}

func (r *Runner) OnTask(ctx context.Context, payload any, qname, qosKey string, taskID int64) error {
	params, err := decodeParams(payload)
	if err != nil {
		slog.Error("abandoning task with unreadable payload", "task_id", taskID, "queue", qname, "error", err.Error())
		metrics.TaskResults.WithLabelValues(qname, "abandoned").Inc()
		return r.abandon(ctx, taskID, err)
	}

	slog.Info("Task is picked up from the queue", "task_id", taskID, "queue", qname, "qos_key", qosKey)
	start := time.Now()
	defer func() {
		metrics.TaskDurationSeconds.WithLabelValues(qname).Observe(time.Since(start).Seconds())
	}()

	operation := func() error {
		err := r.process.Execute(ctx, params)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err = backoff.Retry(operation, backoff.WithContext(r.newBackOff(), ctx))
	if err == nil {
		slog.Info("Task running has been successfully finished", "task_id", taskID, "queue", qname)
		metrics.TaskResults.WithLabelValues(qname, "succeeded").Inc()
		return r.store.InTx(ctx, func(tx domain.StorageTx) error {
			return r.store.DeleteTask(ctx, tx, taskID)
		})
	}

	if isPermanent(err) {
		slog.Error("abandoning task that cannot succeed", "task_id", taskID, "queue", qname, "error", err.Error())
		metrics.TaskResults.WithLabelValues(qname, "abandoned").Inc()
		return r.abandon(ctx, taskID, err)
	}

	return r.retryLater(ctx, taskID, qname, err)
}

func (r *Runner) retryLater(ctx context.Context, taskID int64, qname string, cause error) error {
	err := r.store.InTx(ctx, func(tx domain.StorageTx) error {
		rec, err := r.store.UpdateTaskRetry(ctx, tx, taskID, 1)
		if err != nil {
			return err
		}
		if rec.RetryCount < r.maxRetries {
			slog.Warn("task failed, it will be retried", "task_id", taskID, "queue", qname, "retry_count", rec.RetryCount)
			metrics.TaskResults.WithLabelValues(qname, "retried").Inc()
			return nil
		}

		slog.Error("task ran out of retries, abandoning it", "task_id", taskID, "queue", qname, "retry_count", rec.RetryCount)
		metrics.TaskResults.WithLabelValues(qname, "abandoned").Inc()
		return r.store.AbandonTask(ctx, tx, taskID)
	})
	if err != nil {
		return fmt.Errorf("record failure of task %d: %w", taskID, errors.Join(cause, err))
	}

	return cause
}

func (r *Runner) abandon(ctx context.Context, taskID int64, cause error) error {
	err := r.store.InTx(ctx, func(tx domain.StorageTx) error {
		return r.store.AbandonTask(ctx, tx, taskID)
	})
	if err != nil {
		return fmt.Errorf("abandon task %d: %w", taskID, errors.Join(cause, err))
	}

	return cause
}

func decodeParams(payload any) (map[string]string, error) {
	var data []byte
	switch p := payload.(type) {
	case map[string]string:
		return p, nil
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		return nil, fmt.Errorf("%T: %w", payload, errBadPayload)
	}

	params := map[string]string{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("%w: %s", errBadPayload, err.Error())
	}

	return params, nil
}
