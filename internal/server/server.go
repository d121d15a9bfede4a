package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sf7293/taskq/internal/domain"
	"github.com/sf7293/taskq/internal/durable"
	"github.com/sf7293/taskq/internal/errval"
	"github.com/sf7293/taskq/internal/taskq"
)

// Dispatcher is the durable queue group served over HTTP.
type Dispatcher interface {
	StoreAndEnqueue(ctx context.Context, qname string, payload any, qosKey string) (int64, bool, error)
	Queue(name string) taskq.Queue
	Stats() taskq.Stats
	ActiveTasksCount(ctx context.Context) (int64, error)
	SetPaused(paused bool)
	SetQueuePaused(name string, paused bool) bool
	Server() *durable.Server
}

type StatsResponse struct {
	taskq.Stats
	ServerID    int64  `json:"server_id"`
	ServerName  string `json:"server_name"`
	Available   bool   `json:"available"`
	ActiveTasks *int64 `json:"active_tasks,omitempty"`
}

type ServerLogic struct {
	storage    domain.Storage
	dispatcher Dispatcher
}

func NewServerLogic(storage domain.Storage, dispatcher Dispatcher) *ServerLogic {
	return &ServerLogic{
		storage:    storage,
		dispatcher: dispatcher,
	}
}

func (s *ServerLogic) AddTask(ctx context.Context, qname string, req domain.RouterRequestAddTask) (*domain.RouterResponseAddTask, error) {
	if s.dispatcher.Queue(qname) == nil {
		slog.Info("task added to unknown queue", "queue", qname)
		return nil, errval.ErrQueueNotFound
	}

	taskID, queued, err := s.dispatcher.StoreAndEnqueue(ctx, qname, json.RawMessage(req.Payload), req.QosKey)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while storing task", "queue", qname, "error", err)
		if errors.Is(err, errval.ErrQueueNotFound) {
			return nil, err
		}
		return nil, errval.ErrInternal
	}
	if !queued {
		slog.Warn("queue group is full, task will be loaded later", "task_id", taskID, "queue", qname)
	}

	return &domain.RouterResponseAddTask{
		TaskID: taskID,
		Queue:  qname,
		Queued: queued,
	}, nil
}

// Stats reports the in-memory counters. The amount of active tasks in the
// task store is left out while the store is unreachable.
func (s *ServerLogic) Stats(ctx context.Context) StatsResponse {
	srv := s.dispatcher.Server()
	resp := StatsResponse{
		Stats:      s.dispatcher.Stats(),
		ServerID:   srv.ID(),
		ServerName: srv.Name(),
		Available:  srv.Available(),
	}

	count, err := s.dispatcher.ActiveTasksCount(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while counting active tasks", "error", err)
		return resp
	}
	resp.ActiveTasks = &count

	return resp
}

func (s *ServerLogic) SetPaused(paused bool) {
	s.dispatcher.SetPaused(paused)
}

func (s *ServerLogic) SetQueuePaused(qname string, paused bool) error {
	if !s.dispatcher.SetQueuePaused(qname, paused) {
		return fmt.Errorf("pause queue %s: %w", qname, errval.ErrQueueNotFound)
	}
	return nil
}

func (s *ServerLogic) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}
