package seq

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/devtrail/memindex/internal/errors"
	"github.com/devtrail/memindex/internal/journal"
	"github.com/devtrail/memindex/internal/testutil"
)

func TestAllocator_StrictlyIncreasing(t *testing.T) {
	a := New()

	const goroutines = 16
	const perGoroutine = 1000

	seen := make([][]int64, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				seen[g] = append(seen[g], a.Next())
			}
		}(g)
	}
	wg.Wait()

	// Unique across all goroutines, dense 1..N, increasing per goroutine.
	all := make(map[int64]bool)
	for g, values := range seen {
		last := int64(0)
		for _, v := range values {
			if v <= last {
				t.Fatalf("goroutine %d saw %d after %d", g, v, last)
			}
			last = v
			if all[v] {
				t.Fatalf("sequence %d allocated twice", v)
			}
			all[v] = true
		}
	}
	total := int64(goroutines * perGoroutine)
	if a.Current() != total {
		t.Errorf("current = %d, want %d", a.Current(), total)
	}
	for v := int64(1); v <= total; v++ {
		if !all[v] {
			t.Fatalf("gap: %d never allocated", v)
		}
	}
}

func TestAllocator_ResetClampsUpwardOnly(t *testing.T) {
	a := New()
	a.Reset(100)
	if a.Current() != 100 {
		t.Fatalf("current = %d", a.Current())
	}
	a.Reset(50)
	if a.Current() != 100 {
		t.Error("reset must never decrease the counter")
	}
	if a.Next() != 101 {
		t.Error("next after reset must continue from the counter")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateName)

	a := New()
	a.Reset(42)
	if err := a.Snapshot(path); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	last, err := LoadState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if last != 42 {
		t.Errorf("last = %d, want 42", last)
	}
}

func TestLoadState_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	last, err := LoadState(filepath.Join(dir, "absent.json"))
	if err != nil || last != 0 {
		t.Errorf("missing state: (%d, %v), want (0, nil)", last, err)
	}

	corrupt := filepath.Join(dir, StateName)
	if err := os.WriteFile(corrupt, []byte("{{{"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadState(corrupt); !errors.Is(err, errors.ErrCorruptSeqState) {
		t.Errorf("corrupt state: %v, want ErrCorruptSeqState", err)
	}
}

func TestRecover_JournalTailWins(t *testing.T) {
	dir := t.TempDir()

	w, err := journal.NewWriter(dir, journal.DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := int64(1); i <= 9; i++ {
		w.Append(testutil.Event(i, i))
	}
	w.Close()

	// A stale snapshot must lose to the journal tail.
	statePath := filepath.Join(dir, StateName)
	stale := New()
	stale.Reset(3)
	if err := stale.Snapshot(statePath); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	a := New()
	seed := a.Recover(filepath.Join(dir, journal.LiveName), statePath)
	if seed != 9 {
		t.Errorf("seed = %d, want journal tail 9", seed)
	}
	if a.Next() != 10 {
		t.Error("allocation after recovery must not reuse sequence numbers")
	}
}

func TestRecover_SnapshotFallback(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, StateName)

	saved := New()
	saved.Reset(17)
	if err := saved.Snapshot(statePath); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// No journal at all: snapshot seeds the counter.
	a := New()
	if seed := a.Recover(filepath.Join(dir, journal.LiveName), statePath); seed != 17 {
		t.Errorf("seed = %d, want 17", seed)
	}
}

func TestRecover_Empty(t *testing.T) {
	dir := t.TempDir()
	a := New()
	if seed := a.Recover(filepath.Join(dir, journal.LiveName), filepath.Join(dir, StateName)); seed != 0 {
		t.Errorf("seed = %d, want 0", seed)
	}
}
