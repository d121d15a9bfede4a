package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/errval"
)

// Store is an in-memory task store. Transactions apply their changes right
// away and undo them on rollback, server row locks are held until commit or
// rollback.
type Store struct {
	mu           sync.Mutex
	nextTaskID   int64
	nextServerID int64
	tasks        map[int64]*domain.TaskRecord
	servers      map[int64]*domain.ServerRecord
	serverLocks  map[int64]*Tx

	unavailable atomic.Bool
}

func New() *Store {
	return &Store{
		tasks:       make(map[int64]*domain.TaskRecord),
		servers:     make(map[int64]*domain.ServerRecord),
		serverLocks: make(map[int64]*Tx),
	}
}

// SetAvailable switches the store between working and failing every call
// with errval.ErrStoreUnavailable.
func (s *Store) SetAvailable(available bool) {
	s.unavailable.Store(!available)
}

func (s *Store) check(op string) error {
	if s.unavailable.Load() {
		return fmt.Errorf("%s: %w", op, errval.ErrStoreUnavailable)
	}
	return nil
}

func (s *Store) Ping(context.Context) error {
	return s.check("ping")
}

func (s *Store) Begin(context.Context) (domain.StorageTx, error) {
	if err := s.check("begin"); err != nil {
		return nil, err
	}
	return &Tx{store: s}, nil
}

func (s *Store) ExpiredQueues(_ context.Context, serverID int64, now time.Time) ([]string, error) {
	if err := s.check("expired queues"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	var qnames []string
	for _, t := range s.tasks {
		if t.ServerID == serverID && !t.Abandoned && t.ExpireAt.Before(now) && !seen[t.QueueName] {
			seen[t.QueueName] = true
			qnames = append(qnames, t.QueueName)
		}
	}
	sort.Strings(qnames)

	return qnames, nil
}

func (s *Store) ExpiredTask(_ context.Context, serverID int64, qname string, now time.Time) (int64, error) {
	if err := s.check("expired task"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var found int64
	for id, t := range s.tasks {
		if t.ServerID == serverID && t.QueueName == qname && !t.Abandoned && t.ExpireAt.Before(now) {
			if found == 0 || id < found {
				found = id
			}
		}
	}
	if found == 0 {
		return 0, errval.ErrNotFound
	}

	return found, nil
}

func (s *Store) UpdateExpired(_ context.Context, serverID, taskID int64, expireAt time.Time) error {
	if err := s.check("update expired"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.ServerID != serverID || t.Abandoned {
		return fmt.Errorf("refresh lease of task %d: %w", taskID, errval.ErrConcurrentUpdate)
	}
	t.ExpireAt = expireAt

	return nil
}

func (s *Store) LoadTask(_ context.Context, serverID, taskID int64) (*domain.TaskRecord, error) {
	if err := s.check("load task"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadTask(serverID, taskID)
}

func (s *Store) loadTask(serverID, taskID int64) (*domain.TaskRecord, error) {
	t, ok := s.tasks[taskID]
	if !ok || t.ServerID != serverID {
		return nil, errval.ErrNotFound
	}
	return copyTask(t), nil
}

func (s *Store) ActiveTasksCount(_ context.Context, serverID int64) (int64, error) {
	if err := s.check("active tasks count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tasks {
		if t.ServerID == serverID && !t.Abandoned {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindServer(_ context.Context, name, group string) (*domain.ServerRecord, error) {
	if err := s.check("find server"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, srv := range s.servers {
		if srv.Name == name && srv.Group == group {
			c := *srv
			return &c, nil
		}
	}
	return nil, errval.ErrNotFound
}

func (s *Store) InsertServer(_ context.Context, name, group string, now time.Time) (*domain.ServerRecord, error) {
	if err := s.check("insert server"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextServerID++
	srv := &domain.ServerRecord{ID: s.nextServerID, Name: name, Group: group, LastActive: now}
	s.servers[srv.ID] = srv

	c := *srv
	return &c, nil
}

func (s *Store) UpdateServerActive(_ context.Context, serverID int64, now time.Time) (int64, error) {
	if err := s.check("update server active"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[serverID]
	if !ok {
		return 0, nil
	}
	srv.LastActive = now
	srv.Abandoned = false

	return 1, nil
}

func (s *Store) DeadServers(_ context.Context, group string, cutoff time.Time, excludeID int64) ([]*domain.ServerRecord, error) {
	if err := s.check("dead servers"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []*domain.ServerRecord
	for _, srv := range s.servers {
		if srv.Group == group && srv.ID != excludeID && !srv.Abandoned && srv.LastActive.Before(cutoff) {
			c := *srv
			dead = append(dead, &c)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].ID < dead[j].ID })

	return dead, nil
}

// Task returns a copy of a task record regardless of its owner.
func (s *Store) Task(taskID int64) (*domain.TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return copyTask(t), true
}

func (s *Store) Server(serverID int64) (*domain.ServerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[serverID]
	if !ok {
		return nil, false
	}
	c := *srv
	return &c, true
}

// SetTaskExpireAt moves a task's lease deadline.
func (s *Store) SetTaskExpireAt(taskID int64, expireAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if ok {
		t.ExpireAt = expireAt
	}
	return ok
}

func (s *Store) SetServerLastActive(serverID int64, lastActive time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[serverID]
	if ok {
		srv.LastActive = lastActive
	}
	return ok
}

func copyTask(t *domain.TaskRecord) *domain.TaskRecord {
	c := *t
	c.Payload = append([]byte(nil), t.Payload...)
	return &c
}
