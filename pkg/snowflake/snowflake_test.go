package snowflake

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDGenerator(t *testing.T) {
	_, err := NewIDGenerator(0)
	assert.NoError(t, err)

	_, err = NewIDGenerator(nodeMask)
	assert.NoError(t, err)

	_, err = NewIDGenerator(-1)
	assert.Error(t, err)

	_, err = NewIDGenerator(nodeMask + 1)
	assert.Error(t, err)
}

func TestNextID_Unique(t *testing.T) {
	gen, err := NewIDGenerator(1)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for i := 0; i < 10000; i++ {
		id := gen.NextID()
		assert.False(t, seen[id], "duplicate ID generated: %d", id)
		seen[id] = true
	}
}

func TestNextID_Monotonic(t *testing.T) {
	gen, err := NewIDGenerator(1)
	require.NoError(t, err)

	prev := gen.NextID()
	for i := 0; i < 1000; i++ {
		id := gen.NextID()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNextID_Concurrent(t *testing.T) {
	gen, err := NewIDGenerator(1)
	require.NoError(t, err)

	const goroutines = 10
	const perGoroutine = 1000

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				ids = append(ids, gen.NextID())
			}
			mu.Lock()
			for _, id := range ids {
				assert.False(t, seen[id])
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestParseID(t *testing.T) {
	gen, err := NewIDGenerator(42)
	require.NoError(t, err)

	id := gen.NextID()
	_, nodeID, _ := ParseID(id)
	assert.Equal(t, int64(42), nodeID)
}
