package cache

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

// =============================================================================
// List Tests
// =============================================================================

func TestList_Order(t *testing.T) {
	l := NewList[int]()
	a := l.PushFront(1)
	l.PushFront(2)
	l.PushFront(3)

	if got := l.Back().Key(); got != 1 {
		t.Errorf("Back() = %d, want 1", got)
	}

	l.MoveToFront(a)
	if got := l.Back().Key(); got != 2 {
		t.Errorf("Back() after MoveToFront = %d, want 2", got)
	}

	// Walk from oldest to newest.
	var keys []int
	for e := l.Back(); e != nil; e = e.Newer() {
		keys = append(keys, e.Key())
	}
	want := []int{2, 3, 1}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("walk = %v, want %v", keys, want)
		}
	}
}

func TestList_Remove(t *testing.T) {
	l := NewList[string]()
	a := l.PushFront("a")
	l.PushFront("b")

	l.Remove(a)
	l.Remove(a) // detached, no-op
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}

	k, ok := l.RemoveOldest()
	if !ok || k != "b" {
		t.Errorf("RemoveOldest() = (%q, %v), want (b, true)", k, ok)
	}
	if _, ok := l.RemoveOldest(); ok {
		t.Error("RemoveOldest() on empty list should fail")
	}
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestCache_SoftLimit(t *testing.T) {
	c := New[int, int](8)
	for i := range 9 {
		c.Set(i, i)
	}
	if got := c.Len(); got != 6 {
		t.Errorf("Len() = %d, want 6 after trimming to 3/4 of the limit", got)
	}
	if _, ok := c.Get(0); ok {
		t.Error("oldest entry should have been evicted")
	}
	if v, ok := c.Get(8); !ok || v != 8 {
		t.Errorf("Get(8) = (%d, %v), want (8, true)", v, ok)
	}
}

func TestCache_GetOrCreate(t *testing.T) {
	c := New[string, int](0)
	calls := 0
	create := func() (int, error) {
		calls++
		return 7, nil
	}
	for range 3 {
		v, err := c.GetOrCreate("k", create)
		if err != nil || v != 7 {
			t.Fatalf("GetOrCreate() = (%d, %v), want (7, nil)", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrCreate("bad", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("GetOrCreate() error = %v, want %v", err, boom)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("failed creation must not be cached")
	}
}

// =============================================================================
// ShardedCache Tests
// =============================================================================

func TestShardedCache_GetOrCreate(t *testing.T) {
	c := NewSharded[string, int](4, StringHasher)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := map[string]int{}
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "k" + strconv.Itoa(i%8)
			c.GetOrCreate(key, func() int {
				mu.Lock()
				created[key]++
				mu.Unlock()
				return i
			})
		}()
	}
	wg.Wait()

	for k, n := range created {
		if n != 1 {
			t.Errorf("key %s created %d times, want 1", k, n)
		}
	}
	if got := c.Len(); got != 8 {
		t.Errorf("Len() = %d, want 8", got)
	}
}

func TestShardedCache_Eviction(t *testing.T) {
	c := NewSharded[uint64, int](1, Uint64Hasher)
	// Same shard: keys differ by a multiple of ShardCount.
	c.Set(0, 1)
	c.Set(ShardCount, 2)

	if _, ok := c.Get(0); ok {
		t.Error("Get(0) should miss after eviction")
	}
	if v, ok := c.Get(ShardCount); !ok || v != 2 {
		t.Errorf("Get(%d) = (%d, %v), want (2, true)", ShardCount, v, ok)
	}
	st := c.Stats()
	if st.Evictions != 1 {
		t.Errorf("Stats().Evictions = %d, want 1", st.Evictions)
	}
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
}
