package memstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
)

var errTxDone = errors.New("transaction already committed or rolled back")

type Tx struct {
	store *Store
	undo  []func()
	locks []int64
	done  bool
}

func (tx *Tx) begin(op string) error {
	if tx.done {
		return fmt.Errorf("%s: %w", op, errTxDone)
	}
	if err := tx.store.check(op); err != nil {
		return err
	}
	tx.store.mu.Lock()
	return nil
}

func (tx *Tx) end() {
	tx.store.mu.Unlock()
}

func (tx *Tx) InsertTask(_ context.Context, task domain.NewTask) (int64, error) {
	if err := tx.begin("insert task"); err != nil {
		return 0, err
	}
	defer tx.end()

	s := tx.store
	s.nextTaskID++
	id := s.nextTaskID
	s.tasks[id] = &domain.TaskRecord{
		ID:        id,
		ServerID:  task.ServerID,
		QueueName: task.QueueName,
		QosKey:    task.QosKey,
		ExpireAt:  task.ExpireAt,
		Payload:   append([]byte(nil), task.Payload...),
	}
	tx.undo = append(tx.undo, func() { delete(s.tasks, id) })

	return id, nil
}

func (tx *Tx) LoadTask(_ context.Context, serverID, taskID int64) (*domain.TaskRecord, error) {
	if err := tx.begin("load task"); err != nil {
		return nil, err
	}
	defer tx.end()

	return tx.store.loadTask(serverID, taskID)
}

func (tx *Tx) modifyTask(serverID, taskID int64, fn func(t *domain.TaskRecord)) (*domain.TaskRecord, error) {
	t, ok := tx.store.tasks[taskID]
	if !ok || t.ServerID != serverID {
		return nil, fmt.Errorf("task %d of server %d: %w", taskID, serverID, errval.ErrNotFound)
	}
	before := *t
	tx.undo = append(tx.undo, func() { *t = before })
	fn(t)

	return copyTask(t), nil
}

func (tx *Tx) DeleteTask(_ context.Context, serverID, taskID int64) error {
	if err := tx.begin("delete task"); err != nil {
		return err
	}
	defer tx.end()

	s := tx.store
	t, ok := s.tasks[taskID]
	if !ok || t.ServerID != serverID {
		return fmt.Errorf("delete task %d of server %d: %w", taskID, serverID, errval.ErrNotFound)
	}
	delete(s.tasks, taskID)
	tx.undo = append(tx.undo, func() { s.tasks[taskID] = t })

	return nil
}

func (tx *Tx) AbandonTask(_ context.Context, serverID, taskID int64) error {
	if err := tx.begin("abandon task"); err != nil {
		return err
	}
	defer tx.end()

	_, err := tx.modifyTask(serverID, taskID, func(t *domain.TaskRecord) { t.Abandoned = true })
	return err
}

func (tx *Tx) UpdateTaskQueueName(_ context.Context, serverID, taskID int64, qname string, expireAt time.Time) error {
	if err := tx.begin("update task queue"); err != nil {
		return err
	}
	defer tx.end()

	_, err := tx.modifyTask(serverID, taskID, func(t *domain.TaskRecord) {
		t.QueueName = qname
		t.ExpireAt = expireAt
	})
	return err
}

func (tx *Tx) UpdateTaskRetry(_ context.Context, serverID, taskID int64, delta int32, expireAt time.Time) (*domain.TaskRecord, error) {
	if err := tx.begin("update task retry"); err != nil {
		return nil, err
	}
	defer tx.end()

	return tx.modifyTask(serverID, taskID, func(t *domain.TaskRecord) {
		t.RetryCount += delta
		t.ExpireAt = expireAt
	})
}

func (tx *Tx) LockServer(_ context.Context, serverID int64) (bool, error) {
	if err := tx.begin("lock server"); err != nil {
		return false, err
	}
	defer tx.end()

	s := tx.store
	srv, ok := s.servers[serverID]
	if !ok || srv.Abandoned {
		return false, nil
	}
	if holder, locked := s.serverLocks[serverID]; locked {
		return holder == tx, nil
	}
	s.serverLocks[serverID] = tx
	tx.locks = append(tx.locks, serverID)

	return true, nil
}

func (tx *Tx) ReassignTasks(_ context.Context, fromServerID, toServerID int64) (int64, error) {
	if err := tx.begin("reassign tasks"); err != nil {
		return 0, err
	}
	defer tx.end()

	var moved int64
	for _, t := range tx.store.tasks {
		if t.ServerID != fromServerID || t.Abandoned {
			continue
		}
		t := t
		tx.undo = append(tx.undo, func() { t.ServerID = fromServerID })
		t.ServerID = toServerID
		moved++
	}

	return moved, nil
}

func (tx *Tx) AbandonServer(_ context.Context, serverID int64) (int64, error) {
	if err := tx.begin("abandon server"); err != nil {
		return 0, err
	}
	defer tx.end()

	srv, ok := tx.store.servers[serverID]
	if !ok {
		return 0, nil
	}
	before := srv.Abandoned
	tx.undo = append(tx.undo, func() { srv.Abandoned = before })
	srv.Abandoned = true

	return 1, nil
}

func (tx *Tx) Commit(context.Context) error {
	if tx.done {
		return errTxDone
	}
	if err := tx.store.check("commit"); err != nil {
		tx.rollback()
		return err
	}
	tx.finish()
	return nil
}

func (tx *Tx) Rollback(context.Context) error {
	if tx.done {
		return errTxDone
	}
	tx.rollback()
	return nil
}

func (tx *Tx) rollback() {
	tx.store.mu.Lock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.store.mu.Unlock()
	tx.finish()
}

func (tx *Tx) finish() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for _, id := range tx.locks {
		delete(tx.store.serverLocks, id)
	}
	tx.locks = nil
	tx.undo = nil
	tx.done = true
}
