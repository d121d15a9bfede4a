package taskq

import (
	"sync/atomic"
)

const DefaultMaxConcurrent = 4

// Queue holds the pending entries of one named queue. Push never rejects,
// capacity limits live in the group.
type Queue interface {
	Name() string
	Push(e *Entry)
	// Pull returns nil when nothing is eligible. A pulled entry counts as in
	// progress until TaskDone.
	Pull() *Entry
	Size() int
	InProgress() int
	MaxConcurrent() int
	SetMaxConcurrent(n int)
	Paused() bool
	SetPaused(paused bool)
	TaskDone(e *Entry)
	HandlerFactory() HandlerFactory
}

type QueueOption func(*queueConfig)

type queueConfig struct {
	maxConcurrent       int
	maxConcurrentPerKey int
	paused              bool
}

func WithMaxConcurrent(n int) QueueOption {
	return func(c *queueConfig) { c.maxConcurrent = n }
}

// WithMaxConcurrentPerKey only applies to Qos queues. Values below 1 fall
// back to the queue's max concurrency.
func WithMaxConcurrentPerKey(n int) QueueOption {
	return func(c *queueConfig) { c.maxConcurrentPerKey = n }
}

func WithPaused(paused bool) QueueOption {
	return func(c *queueConfig) { c.paused = paused }
}

func newQueueConfig(opts []QueueOption) queueConfig {
	cfg := queueConfig{maxConcurrent: DefaultMaxConcurrent}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

type base struct {
	name          string
	factory       HandlerFactory
	maxConcurrent atomic.Int32
	inProgress    atomic.Int32
	paused        atomic.Bool
}

func (b *base) init(name string, factory HandlerFactory, cfg queueConfig) {
	b.name = name
	b.factory = factory
	b.SetMaxConcurrent(cfg.maxConcurrent)
	b.paused.Store(cfg.paused)
}

func (b *base) Name() string {
	return b.name
}

func (b *base) HandlerFactory() HandlerFactory {
	return b.factory
}

func (b *base) InProgress() int {
	return int(b.inProgress.Load())
}

func (b *base) MaxConcurrent() int {
	return int(b.maxConcurrent.Load())
}

func (b *base) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	b.maxConcurrent.Store(int32(n))
}

func (b *base) Paused() bool {
	return b.paused.Load()
}

func (b *base) SetPaused(paused bool) {
	b.paused.Store(paused)
}

func (b *base) taskStarted() {
	b.inProgress.Add(1)
}

func (b *base) taskFinished() {
	for {
		n := b.inProgress.Load()
		if n <= 0 || b.inProgress.CompareAndSwap(n, n-1) {
			return
		}
	}
}
