package session

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRegistry_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh user", func(t *testing.T) {
		r := NewMemoryRegistry()
		evicted, err := r.Register(ctx, "user-1", "conn-a")
		assert.NoError(t, err)
		assert.Empty(t, evicted, "expected no eviction for a fresh user")

		connId, ok, err := r.Lookup(ctx, "user-1")
		assert.NoError(t, err)
		assert.True(t, ok, "expected user to be registered")
		assert.Equal(t, "conn-a", connId)
	})

	t.Run("second login evicts the first", func(t *testing.T) {
		r := NewMemoryRegistry()
		r.Register(ctx, "user-1", "conn-a")

		evicted, err := r.Register(ctx, "user-1", "conn-b")
		assert.NoError(t, err)
		assert.Equal(t, "conn-a", evicted, "expected the first connection to be evicted")

		connId, _, _ := r.Lookup(ctx, "user-1")
		assert.Equal(t, "conn-b", connId, "expected the new connection to own the session")
		assert.Equal(t, 1, r.Count(), "expected exactly one session")
	})

	t.Run("same connection registered twice", func(t *testing.T) {
		r := NewMemoryRegistry()
		r.Register(ctx, "user-1", "conn-a")

		evicted, err := r.Register(ctx, "user-1", "conn-a")
		assert.NoError(t, err)
		assert.Empty(t, evicted, "expected re-registering the same connection not to evict it")
	})
}

func TestMemoryRegistry_Remove(t *testing.T) {
	ctx := context.Background()

	t.Run("absent user is a no-op", func(t *testing.T) {
		r := NewMemoryRegistry()
		removed, err := r.Remove(ctx, "nobody", "conn-a")
		assert.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("evicted connection does not remove successor", func(t *testing.T) {
		r := NewMemoryRegistry()
		r.Register(ctx, "user-1", "conn-a")
		r.Register(ctx, "user-1", "conn-b")

		removed, err := r.Remove(ctx, "user-1", "conn-a")
		assert.NoError(t, err)
		assert.False(t, removed, "expected stale connection removal to be ignored")

		connId, ok, _ := r.Lookup(ctx, "user-1")
		assert.True(t, ok)
		assert.Equal(t, "conn-b", connId)
	})

	t.Run("current connection is removed", func(t *testing.T) {
		r := NewMemoryRegistry()
		r.Register(ctx, "user-1", "conn-a")

		removed, err := r.Remove(ctx, "user-1", "conn-a")
		assert.NoError(t, err)
		assert.True(t, removed)

		_, ok, _ := r.Lookup(ctx, "user-1")
		assert.False(t, ok, "expected user to be offline")
	})
}

func TestMemoryRegistry_ConcurrentRegister(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	const logins = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		evicted = make(map[string]int)
	)

	for i := 0; i < logins; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			old, err := r.Register(ctx, "user-1", "conn-"+strconv.Itoa(i))
			assert.NoError(t, err)
			if old != "" {
				mu.Lock()
				evicted[old]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Count(), "expected a single session after concurrent logins")
	assert.Len(t, evicted, logins-1, "expected every connection but the last to be evicted exactly once")
	for connId, n := range evicted {
		assert.Equalf(t, 1, n, "expected %s to be evicted once", connId)
	}

	current, ok, _ := r.Lookup(ctx, "user-1")
	assert.True(t, ok)
	assert.NotContains(t, evicted, current, "expected the surviving connection not to be evicted")
}
