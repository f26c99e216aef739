package index

import (
	"sync"

	"github.com/devtrail/memindex/internal/event"
)

// TypeIndex maps canonical event types to id sets. Insert and lookup are
// O(1) hash operations.
type TypeIndex struct {
	mu     sync.Mutex
	byType map[event.Type]idSet
	dirty  bool

	path string
}

// NewTypeIndex creates a type index that snapshots to path.
func NewTypeIndex(path string) *TypeIndex {
	return &TypeIndex{
		byType: make(map[event.Type]idSet),
		path:   path,
	}
}

// Insert adds an id under a type.
func (x *TypeIndex) Insert(t event.Type, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.byType[t]
	if !ok {
		set = make(idSet)
		x.byType[t] = set
	}
	set.add(id)
	x.dirty = true
}

// Lookup returns the ids recorded under a type.
func (x *TypeIndex) Lookup(t event.Type) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.byType[t]
	if !ok {
		return nil
	}
	return set.slice()
}

// Types returns every type with at least one id.
func (x *TypeIndex) Types() []event.Type {
	x.mu.Lock()
	defer x.mu.Unlock()

	types := make([]event.Type, 0, len(x.byType))
	for t := range x.byType {
		types = append(types, t)
	}
	return types
}

// Len returns the total number of (type, id) associations.
func (x *TypeIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := 0
	for _, set := range x.byType {
		n += len(set)
	}
	return n
}

// Flush persists the snapshot (map of type name to id array) if dirty.
func (x *TypeIndex) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.dirty {
		return nil
	}

	snap := make(map[string][]string, len(x.byType))
	for t, set := range x.byType {
		snap[t.String()] = set.slice()
	}
	if err := writeSnapshot(x.path, snap); err != nil {
		return err
	}
	x.dirty = false
	return nil
}

// Load restores the snapshot. Corrupt snapshots reset the index to empty and
// return the soft error; entries under unknown type names are dropped.
func (x *TypeIndex) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var snap map[string][]string
	found, err := loadSnapshot(x.path, &snap)
	if err != nil {
		x.byType = make(map[event.Type]idSet)
		return err
	}
	if !found {
		return nil
	}

	x.byType = make(map[event.Type]idSet, len(snap))
	for name, ids := range snap {
		t, perr := event.ParseType(name)
		if perr != nil {
			continue
		}
		set := make(idSet, len(ids))
		for _, id := range ids {
			set.add(id)
		}
		x.byType[t] = set
	}
	x.dirty = false
	return nil
}

// Reset discards all entries.
func (x *TypeIndex) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byType = make(map[event.Type]idSet)
	x.dirty = true
}
