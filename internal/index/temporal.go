package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// TemporalEntry is one (timestamp, id) pair. Its snapshot form is the JSON
// array [timestamp, id].
type TemporalEntry struct {
	Timestamp int64
	ID        string
}

// MarshalJSON encodes the entry as [timestamp, id].
func (e TemporalEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Timestamp, e.ID})
}

// UnmarshalJSON decodes [timestamp, id].
func (e *TemporalEntry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &e.Timestamp); err != nil {
		return fmt.Errorf("temporal entry timestamp: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.ID); err != nil {
		return fmt.Errorf("temporal entry id: %w", err)
	}
	return nil
}

// Temporal maps timestamp ranges to event ids. Inserts append in arrival
// order; the list is sorted at most once per batch of inserts, immediately
// before the next range query. Queries hold the index lock, so they observe
// a consistent sorted snapshot even with concurrent inserts.
type Temporal struct {
	mu      sync.Mutex
	entries []TemporalEntry
	ids     idSet
	sorted  bool // entries are in timestamp order
	dirty   bool // snapshot on disk is stale

	path string
}

// NewTemporal creates a temporal index that snapshots to path.
func NewTemporal(path string) *Temporal {
	return &Temporal{path: path, ids: make(idSet), sorted: true}
}

// Insert records a (timestamp, id) pair. O(1); sorting is deferred to the
// next range query. An id already present is a no-op, so journal replay
// over an already-loaded snapshot cannot double-index an event.
func (t *Temporal) Insert(timestamp int64, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.ids[id]; seen {
		return
	}
	t.ids.add(id)

	if n := len(t.entries); t.sorted && n > 0 && t.entries[n-1].Timestamp > timestamp {
		t.sorted = false
	}
	t.entries = append(t.entries, TemporalEntry{Timestamp: timestamp, ID: id})
	t.dirty = true
}

// RangeQuery returns the ids of entries with start <= timestamp <= end, in
// timestamp order. Both bounds are inclusive; ties at either bound are
// included. start > end or an empty index yields no results.
func (t *Temporal) RangeQuery(start, end int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if start > end || len(t.entries) == 0 {
		return nil
	}

	t.sortLocked()

	// First entry >= start, then forward scan until timestamp > end.
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Timestamp >= start
	})

	var ids []string
	for ; i < len(t.entries) && t.entries[i].Timestamp <= end; i++ {
		ids = append(ids, t.entries[i].ID)
	}
	return ids
}

// sortLocked sorts once if inserts arrived out of order. Stable keeps
// arrival order among equal timestamps.
func (t *Temporal) sortLocked() {
	if t.sorted {
		return
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Timestamp < t.entries[j].Timestamp
	})
	t.sorted = true
}

// Bounds returns the smallest and largest timestamp present.
func (t *Temporal) Bounds() (min, max int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return 0, 0, false
	}
	t.sortLocked()
	return t.entries[0].Timestamp, t.entries[len(t.entries)-1].Timestamp, true
}

// Len returns the number of entries.
func (t *Temporal) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Flush persists the snapshot if inserts happened since the last flush.
func (t *Temporal) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return nil
	}
	t.sortLocked()
	if err := writeSnapshot(t.path, t.entries); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Load restores the snapshot from disk. Corrupt snapshots leave the index
// empty and return the soft error for logging; the index is rebuildable from
// the journal.
func (t *Temporal) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var entries []TemporalEntry
	found, err := loadSnapshot(t.path, &entries)
	if err != nil {
		t.entries = nil
		t.ids = make(idSet)
		t.sorted = true
		return err
	}
	if found {
		t.entries = entries
		t.ids = make(idSet, len(entries))
		for _, e := range entries {
			t.ids.add(e.ID)
		}
		t.sorted = false
		t.dirty = false
	}
	return nil
}

// Reset discards all entries.
func (t *Temporal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.ids = make(idSet)
	t.sorted = true
	t.dirty = true
}
