package qos

import "sync"

// CountMap counts in-flight values per key. Keys are dropped once their count
// returns to zero.
type CountMap struct {
	mu     sync.Mutex
	counts map[string]int
	noKey  int
}

func NewCountMap() *CountMap {
	return &CountMap{counts: make(map[string]int)}
}

func (m *CountMap) Increment(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == NoKey {
		m.noKey++
		return m.noKey
	}
	m.counts[key]++
	return m.counts[key]
}

func (m *CountMap) Decrement(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == NoKey {
		if m.noKey > 0 {
			m.noKey--
		}
		return m.noKey
	}

	n, ok := m.counts[key]
	if !ok {
		return 0
	}
	if n <= 1 {
		delete(m.counts, key)
		return 0
	}
	m.counts[key] = n - 1
	return n - 1
}

func (m *CountMap) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == NoKey {
		return m.noKey
	}
	return m.counts[key]
}

// SizeKeys is the amount of keys with a non-zero count, the no-key counter excluded.
func (m *CountMap) SizeKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.counts)
}
