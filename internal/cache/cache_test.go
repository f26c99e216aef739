package cache

import (
	"fmt"
	"testing"

	"github.com/devtrail/memindex/internal/testutil"
)

func TestCache_PutGet(t *testing.T) {
	c := New(4)

	e := testutil.Event(1, 100)
	c.Put(e)

	got, ok := c.Get(e.ID)
	if !ok || got.Seq != 1 {
		t.Fatalf("get = (%v, %v)", got, ok)
	}
	if _, ok := c.Get("absent"); ok {
		t.Error("absent id must miss")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCache_FIFOEviction(t *testing.T) {
	c := New(3)

	for i := int64(1); i <= 5; i++ {
		c.Put(testutil.Event(i, i))
	}

	// Capacity 3, 5 inserts: the two oldest are gone.
	if _, ok := c.Get("ev-000001"); ok {
		t.Error("oldest entry must be evicted")
	}
	if _, ok := c.Get("ev-000002"); ok {
		t.Error("second oldest entry must be evicted")
	}
	for i := int64(3); i <= 5; i++ {
		if _, ok := c.Get(fmt.Sprintf("ev-%06d", i)); !ok {
			t.Errorf("entry %d must survive", i)
		}
	}
	if c.Len() != 3 {
		t.Errorf("len = %d", c.Len())
	}
	if c.Stats().Evictions != 2 {
		t.Errorf("evictions = %d", c.Stats().Evictions)
	}
}

func TestCache_ReplaceWithoutSlot(t *testing.T) {
	c := New(2)

	a := testutil.Event(1, 100)
	c.Put(a)
	c.Put(testutil.Event(2, 200))

	// Re-inserting an existing id replaces the value, consumes no slot, and
	// evicts nothing.
	updated := testutil.Event(1, 100)
	updated.Timestamp = 999
	c.Put(updated)

	if c.Len() != 2 {
		t.Errorf("len = %d", c.Len())
	}
	got, ok := c.Get(a.ID)
	if !ok || got.Timestamp != 999 {
		t.Errorf("replacement not visible: %+v", got)
	}
	if _, ok := c.Get("ev-000002"); !ok {
		t.Error("unrelated entry evicted by replacement")
	}
}

func TestCache_Clear(t *testing.T) {
	c := New(4)
	c.Put(testutil.Event(1, 1))
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("len after clear = %d", c.Len())
	}
	if _, ok := c.Get("ev-000001"); ok {
		t.Error("cleared entry still visible")
	}

	// Ring restarts cleanly.
	for i := int64(10); i < 20; i++ {
		c.Put(testutil.Event(i, i))
	}
	if c.Len() != 4 {
		t.Errorf("len = %d", c.Len())
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New(64)

	h := testutil.NewTestHelper(t)
	for g := 0; g < 8; g++ {
		h.Add(1)
		go func(g int) {
			defer h.Done()
			for i := int64(0); i < 500; i++ {
				c.Put(testutil.Event(int64(g)*1000+i, i))
				c.Get(fmt.Sprintf("ev-%06d", i))
			}
		}(g)
	}
	h.Wait()

	if c.Len() > c.Cap() {
		t.Errorf("len %d exceeds capacity %d", c.Len(), c.Cap())
	}
}
