package index

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/devtrail/memindex/internal/event"
)

// Spatial key namespaces. An event touching N files fans out to N file keys
// plus the module and directory keys those files derive.
const (
	KeyFile      = "file"
	KeyModule    = "module"
	KeyDirectory = "dir"
)

// Spatial maps path-derived keys to id sets. Keys carry a namespace prefix
// ("file:", "module:", "dir:") so one map serves all three granularities,
// mirroring the snapshot layout of the type index.
type Spatial struct {
	mu    sync.Mutex
	byKey map[string]idSet
	dirty bool

	path string
}

// NewSpatial creates a spatial index that snapshots to path.
func NewSpatial(path string) *Spatial {
	return &Spatial{
		byKey: make(map[string]idSet),
		path:  path,
	}
}

func spatialKey(namespace, value string) string {
	return namespace + ":" + value
}

// Insert fans the event id out to every path-derived key in fields.
func (x *Spatial) Insert(fields *event.IndexedFields, id string) {
	if fields.Empty() {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, f := range fields.Files {
		x.addLocked(spatialKey(KeyFile, f), id)
	}
	for _, m := range fields.Modules {
		x.addLocked(spatialKey(KeyModule, m), id)
	}
	for _, d := range fields.Directories {
		x.addLocked(spatialKey(KeyDirectory, d), id)
	}
	x.dirty = true
}

func (x *Spatial) addLocked(key, id string) {
	set, ok := x.byKey[key]
	if !ok {
		set = make(idSet)
		x.byKey[key] = set
	}
	set.add(id)
}

// Lookup returns the ids recorded under one exact key in a namespace.
func (x *Spatial) Lookup(namespace, value string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.byKey[spatialKey(namespace, value)]
	if !ok {
		return nil
	}
	return set.slice()
}

// LookupGlob returns the union of ids under all keys in a namespace whose
// value matches the glob pattern (e.g. "internal/**/*.go").
func (x *Spatial) LookupGlob(namespace, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	prefix := namespace + ":"
	union := make(idSet)
	for key, set := range x.byKey {
		value, ok := strings.CutPrefix(key, prefix)
		if !ok || !g.Match(value) {
			continue
		}
		for id := range set {
			union.add(id)
		}
	}
	return union.slice(), nil
}

// Keys returns every key in a namespace.
func (x *Spatial) Keys(namespace string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	prefix := namespace + ":"
	var keys []string
	for key := range x.byKey {
		if value, ok := strings.CutPrefix(key, prefix); ok {
			keys = append(keys, value)
		}
	}
	return keys
}

// Len returns the total number of (key, id) associations.
func (x *Spatial) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := 0
	for _, set := range x.byKey {
		n += len(set)
	}
	return n
}

// Flush persists the snapshot (map of prefixed key to id array) if dirty.
func (x *Spatial) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.dirty {
		return nil
	}

	snap := make(map[string][]string, len(x.byKey))
	for key, set := range x.byKey {
		snap[key] = set.slice()
	}
	if err := writeSnapshot(x.path, snap); err != nil {
		return err
	}
	x.dirty = false
	return nil
}

// Load restores the snapshot. Corrupt snapshots reset the index to empty and
// return the soft error.
func (x *Spatial) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var snap map[string][]string
	found, err := loadSnapshot(x.path, &snap)
	if err != nil {
		x.byKey = make(map[string]idSet)
		return err
	}
	if !found {
		return nil
	}

	x.byKey = make(map[string]idSet, len(snap))
	for key, ids := range snap {
		set := make(idSet, len(ids))
		for _, id := range ids {
			set.add(id)
		}
		x.byKey[key] = set
	}
	x.dirty = false
	return nil
}

// Reset discards all entries.
func (x *Spatial) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byKey = make(map[string]idSet)
	x.dirty = true
}
