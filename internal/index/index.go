// Package index provides the three secondary indices over canonical events:
// temporal (timestamp range), type, and spatial (path-derived keys).
//
// All three share one lifecycle discipline: O(1) insert, a dirty flag that
// defers costly maintenance, a periodic snapshot flush driven by the engine,
// and an explicit Flush for lossless shutdown. Indices are rebuildable
// from the journal; a corrupt snapshot resets the affected index to empty
// rather than failing the engine.
package index

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/devtrail/memindex/internal/errors"
)

// writeSnapshot atomically persists v as JSON at path.
func writeSnapshot(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// loadSnapshot reads a JSON snapshot into v. A missing file is not an error;
// unreadable or malformed content is reported as ErrCorruptSnapshot so the
// caller can reset the structure and continue.
func loadSnapshot(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errors.ErrCorruptSnapshot, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %v", errors.ErrCorruptSnapshot, err)
	}
	return true, nil
}

// idSet is a set of event ids.
type idSet map[string]struct{}

func (s idSet) add(id string) {
	s[id] = struct{}{}
}

func (s idSet) slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
