package taskq

import (
	"container/list"
	"sync"
)

// Fifo dispatches entries strictly in push order.
type Fifo struct {
	base
	mu      sync.Mutex
	pending *list.List
}

func NewFifo(name string, factory HandlerFactory, opts ...QueueOption) *Fifo {
	q := &Fifo{pending: list.New()}
	q.init(name, factory, newQueueConfig(opts))
	return q
}

func (q *Fifo) Push(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending.PushBack(e)
}

func (q *Fifo) Pull() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.pending.Front()
	if front == nil {
		return nil
	}
	q.taskStarted()
	return q.pending.Remove(front).(*Entry)
}

func (q *Fifo) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending.Len()
}

func (q *Fifo) TaskDone(*Entry) {
	q.taskFinished()
}
