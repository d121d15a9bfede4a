package poll

import (
	"context"
	"time"

	"github.com/sf7293/taskq/internal/taskq"
)

// Dispatcher is the durable queue group the jobs feed and pause.
type Dispatcher interface {
	Paused() bool
	SetPaused(paused bool)
	Stopping() bool
	Size() int64
	Queue(name string) taskq.Queue
	ContainsTask(taskID int64) bool
	LoadAndEnqueue(ctx context.Context, taskID int64) (bool, error)
}

// Server is this process' registration in the task store.
type Server interface {
	ID() int64
	Group() string
	Register(ctx context.Context) error
	Available() bool
	// MarkActive records a successful last active update and marks the
	// task store available.
	MarkActive()
	LastUnavailable() time.Time
}
