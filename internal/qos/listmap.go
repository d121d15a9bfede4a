package qos

import (
	"container/list"
	"log/slog"
	"sync"
)

// NoKey is the channel used for values added without a QoS key.
const NoKey = ""

// ListMap holds FIFO lists of values per key and hands out keys in
// round-robin turn order. Values without a key form their own channel which
// takes one turn per full cycle, ahead of the keyed channels.
type ListMap[V any] struct {
	mu    sync.Mutex
	noKey *list.List
	lists map[string]*list.List
	turns []string
	// turn is the index in turns handed out by the next NextKey call,
	// -1 is the turn of the no-key channel.
	turn int
	size int
}

func NewListMap[V any]() *ListMap[V] {
	return &ListMap[V]{
		noKey: list.New(),
		lists: make(map[string]*list.List),
		turn:  -1,
	}
}

// Size is the total amount of values, keyed or not.
func (m *ListMap[V]) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.size
}

// SizeKeys is the amount of keys in rotation, the no-key channel excluded.
func (m *ListMap[V]) SizeKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.turns)
}

func (m *ListMap[V]) SizeOf(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == NoKey {
		return m.noKey.Len()
	}
	if l, ok := m.lists[key]; ok {
		return l.Len()
	}
	return 0
}

// Add appends v to the list for key. A new key joins the end of the turn order.
func (m *ListMap[V]) Add(key string, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.size++
	if key == NoKey {
		m.noKey.PushBack(v)
		return
	}

	l, ok := m.lists[key]
	if !ok {
		l = list.New()
		m.lists[key] = l
		m.turns = append(m.turns, key)
	}
	l.PushBack(v)
}

// Remove pops the oldest value for key. A key whose list becomes empty
// leaves the rotation.
func (m *ListMap[V]) Remove(key string) (v V, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == NoKey {
		front := m.noKey.Front()
		if front == nil {
			return v, false
		}
		m.size--
		return m.noKey.Remove(front).(V), true
	}

	l, found := m.lists[key]
	if !found || l.Len() == 0 {
		return v, false
	}
	v = l.Remove(l.Front()).(V)
	m.size--

	if l.Len() == 0 {
		delete(m.lists, key)
		i := m.indexOf(key)
		m.turns = append(m.turns[:i], m.turns[i+1:]...)
		if m.turn > i {
			m.turn--
		}
		slog.Debug("QoS key removed from rotation", "qos_key", key, "index", i, "remaining_keys", len(m.turns))
	}

	return v, true
}

// NextKey returns the key whose turn it is. Without keyed channels the
// no-key channel always has the turn.
func (m *ListMap[V]) NextKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.turns) == 0 {
		return NoKey
	}
	if m.turn >= len(m.turns) {
		m.turn = -1
	}
	if m.turn < 0 && m.noKey.Len() == 0 {
		m.turn = 0
	}

	key := NoKey
	if m.turn > -1 {
		key = m.turns[m.turn]
	}
	m.turn++

	return key
}

func (m *ListMap[V]) indexOf(key string) int {
	for i, k := range m.turns {
		if k == key {
			return i
		}
	}
	return -1
}
