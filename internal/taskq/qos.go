package taskq

import (
	"sync"
	"sync/atomic"

	"github.com/sf7293/taskq/internal/qos"
)

// Qos interleaves entries of different QoS keys in round-robin order and
// limits how many entries of one key run at the same time. The per-key limit
// is soft: when every key is saturated the next key in turn is dispatched
// anyway, bounded only by the queue's own max concurrency.
type Qos struct {
	base
	lock                fairLock
	pending             *qos.ListMap[*Entry]
	inFlight            *qos.CountMap
	maxConcurrentPerKey atomic.Int32
}

func NewQos(name string, factory HandlerFactory, opts ...QueueOption) *Qos {
	cfg := newQueueConfig(opts)
	q := &Qos{
		pending:  qos.NewListMap[*Entry](),
		inFlight: qos.NewCountMap(),
	}
	q.lock.cond = sync.NewCond(&q.lock.mu)
	q.init(name, factory, cfg)
	q.SetMaxConcurrentPerKey(cfg.maxConcurrentPerKey)
	return q
}

func (q *Qos) MaxConcurrentPerKey() int {
	if n := int(q.maxConcurrentPerKey.Load()); n > 0 {
		return n
	}
	return q.MaxConcurrent()
}

func (q *Qos) SetMaxConcurrentPerKey(n int) {
	if n < 0 {
		n = 0
	}
	q.maxConcurrentPerKey.Store(int32(n))
}

// InFlight is the amount of running entries of qosKey.
func (q *Qos) InFlight(qosKey string) int {
	return q.inFlight.Count(qosKey)
}

func (q *Qos) Push(e *Entry) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.pending.Add(e.QosKey, e)
}

func (q *Qos) Pull() *Entry {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.pending.Size() == 0 {
		return nil
	}

	key, found := qos.NoKey, false
	if q.pending.SizeKeys() > 0 {
		limit := q.MaxConcurrentPerKey()
		for i, n := 0, q.pending.SizeKeys()+1; i < n; i++ {
			key = q.pending.NextKey()
			if q.pending.SizeOf(key) > 0 && q.inFlight.Count(key) < limit {
				found = true
				break
			}
		}
		if !found {
			key = q.pending.NextKey()
		}
	}

	e, ok := q.pending.Remove(key)
	if !ok {
		return nil
	}
	q.inFlight.Increment(e.QosKey)
	q.taskStarted()
	return e
}

func (q *Qos) Size() int {
	return q.pending.Size()
}

func (q *Qos) TaskDone(e *Entry) {
	q.lock.Lock()
	q.inFlight.Decrement(e.QosKey)
	q.lock.Unlock()

	q.taskFinished()
}

// fairLock admits waiters in arrival order so pushers and the dispatcher
// cannot starve each other.
type fairLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func (l *fairLock) Lock() {
	l.mu.Lock()
	ticket := l.next
	l.next++
	for ticket != l.serving {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *fairLock) Unlock() {
	l.mu.Lock()
	l.serving++
	l.cond.Broadcast()
	l.mu.Unlock()
}
