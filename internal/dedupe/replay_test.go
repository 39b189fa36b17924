// ABOUTME: Tests for the reply replay cache
// ABOUTME: Validates TTL expiry, size-bounded eviction, copy semantics, and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	c := New(ttl, maxSize)
	c.mu.Lock()
	c.now = clock.Now
	c.mu.Unlock()
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_GetMissing(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	_, ok := c.Get("farmer-1", "never-seen")
	assert.False(t, ok)
}

func TestCache_PutThenGet(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	c.Put("farmer-1", "SM1", []string{"first body", "second body"})

	bodies, ok := c.Get("farmer-1", "SM1")
	require.True(t, ok)
	assert.Equal(t, []string{"first body", "second body"}, bodies)
}

func TestCache_ScopedByFarmer(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	c.Put("farmer-1", "SM1", []string{"for farmer one"})

	_, ok := c.Get("farmer-2", "SM1")
	assert.False(t, ok)
}

func TestCache_EmptyMessageIDIgnored(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	c.Put("farmer-1", "", []string{"x"})
	assert.Equal(t, 0, c.Len())

	_, ok := c.Get("farmer-1", "")
	assert.False(t, ok)
}

func TestCache_ReturnsCopies(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	in := []string{"original"}
	c.Put("f", "m", in)
	in[0] = "mutated by caller"

	out, ok := c.Get("f", "m")
	require.True(t, ok)
	assert.Equal(t, "original", out[0])

	out[0] = "mutated by reader"
	again, _ := c.Get("f", "m")
	assert.Equal(t, "original", again[0])
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)

	c.Put("f", "m", []string{"reply"})
	clock.Advance(59 * time.Second)
	_, ok := c.Get("f", "m")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("f", "m")
	assert.False(t, ok, "entry should expire at the TTL")
}

func TestCache_PutRefreshes(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)

	c.Put("f", "m", []string{"old"})
	clock.Advance(40 * time.Second)
	c.Put("f", "m", []string{"new"})
	clock.Advance(40 * time.Second)

	bodies, ok := c.Get("f", "m")
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, bodies)
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictionOrder(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 3)

	c.Put("f", "first", []string{"1"})
	c.Put("f", "second", []string{"2"})
	c.Put("f", "third", []string{"3"})
	c.Put("f", "fourth", []string{"4"})

	_, ok := c.Get("f", "first")
	assert.False(t, ok, "first should be evicted")
	for _, id := range []string{"second", "third", "fourth"} {
		_, ok := c.Get("f", id)
		assert.True(t, ok, id)
	}

	c.Put("f", "fifth", []string{"5"})
	_, ok = c.Get("f", "second")
	assert.False(t, ok, "second should be evicted")
	assert.Equal(t, 3, c.Len())
}

func TestCache_Cleanup(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)

	c.Put("f", "a", []string{"a"})
	c.Put("f", "b", []string{"b"})
	clock.Advance(30 * time.Second)
	c.Put("f", "c", []string{"c"})
	clock.Advance(45 * time.Second)

	c.runCleanup()
	assert.Equal(t, 1, c.Len(), "only the entry stored 45s ago should survive")
	_, ok := c.Get("f", "c")
	assert.True(t, ok)
}

func TestCache_Concurrent(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 1000)

	const goroutines = 50
	const ops = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				msg := fmt.Sprintf("m-%d-%d", id, j%10)
				c.Put("farmer", msg, []string{msg})
				if bodies, ok := c.Get("farmer", msg); ok {
					assert.Len(t, bodies, 1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 1000)
}

func TestCache_Close(t *testing.T) {
	c := New(time.Minute, 10)
	c.Put("f", "m", []string{"x"})
	c.Close()
	c.Close()
}

func TestNew_ClampsSize(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 0)
	c.Put("f", "a", []string{"a"})
	c.Put("f", "b", []string{"b"})
	assert.Equal(t, 1, c.Len())
}
