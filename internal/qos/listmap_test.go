package qos

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMap_Drain(t *testing.T) {
	m := NewListMap[int]()
	for i := 0; i < 3; i++ {
		m.Add(NoKey, i)
	}
	for i := 3; i < 6; i++ {
		m.Add("1", i)
	}
	for i := 6; i < 10; i++ {
		m.Add("2", i)
	}

	require.Equal(t, 10, m.Size())
	require.Equal(t, 2, m.SizeKeys())

	assert.Equal(t, NoKey, m.NextKey())
	assert.Equal(t, "1", m.NextKey())
	assert.Equal(t, "2", m.NextKey())
	assert.Equal(t, NoKey, m.NextKey())

	type pair struct {
		key   string
		value int
	}
	expected := []pair{
		{"1", 3}, {"2", 6}, {NoKey, 0},
		{"1", 4}, {"2", 7}, {NoKey, 1},
		{"1", 5}, {"2", 8}, {NoKey, 2},
		{"2", 9},
	}
	for i, want := range expected {
		key := m.NextKey()
		v, ok := m.Remove(key)
		require.True(t, ok, "step %d", i)
		assert.Equal(t, want, pair{key, v}, "step %d", i)
	}

	assert.Equal(t, 0, m.Size())
	assert.Equal(t, 0, m.SizeKeys())
	assert.Equal(t, NoKey, m.NextKey())

	_, ok := m.Remove(NoKey)
	assert.False(t, ok)
}

func TestListMap_NoKeyOnly(t *testing.T) {
	m := NewListMap[string]()
	m.Add(NoKey, "a")
	m.Add(NoKey, "b")

	for _, want := range []string{"a", "b"} {
		key := m.NextKey()
		require.Equal(t, NoKey, key)
		v, ok := m.Remove(key)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	assert.Equal(t, 0, m.Size())
}

func TestListMap_EmptyNoKeySkipsTurn(t *testing.T) {
	m := NewListMap[string]()
	m.Add("a", "a1")
	m.Add("b", "b1")

	assert.Equal(t, "a", m.NextKey())
	assert.Equal(t, "b", m.NextKey())
	assert.Equal(t, "a", m.NextKey())
}

func TestListMap_RemovingKeyKeepsOrder(t *testing.T) {
	m := NewListMap[string]()
	m.Add("a", "a1")
	m.Add("a", "a2")
	m.Add("b", "b1")
	m.Add("c", "c1")
	m.Add("c", "c2")

	var got []string
	for m.Size() > 0 {
		v, ok := m.Remove(m.NextKey())
		require.True(t, ok)
		got = append(got, v)
	}

	assert.Equal(t, []string{"a1", "b1", "c1", "a2", "c2"}, got)
	assert.Equal(t, 0, m.SizeOf("a"))
}

func TestListMap_RemoveUnknownKey(t *testing.T) {
	m := NewListMap[int]()
	m.Add("a", 1)

	_, ok := m.Remove("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Size())
}

func TestListMap_ConcurrentAdd(t *testing.T) {
	m := NewListMap[int]()

	var wg sync.WaitGroup
	for k := 0; k < 8; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", k)
			for i := 0; i < 100; i++ {
				m.Add(key, i)
			}
		}(k)
	}
	wg.Wait()

	assert.Equal(t, 800, m.Size())
	assert.Equal(t, 8, m.SizeKeys())
	for k := 0; k < 8; k++ {
		assert.Equal(t, 100, m.SizeOf(fmt.Sprintf("key-%d", k)))
	}
}
