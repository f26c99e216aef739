// Package seq provides the per-store monotonic sequence allocator.
//
// Sequence numbers are strictly increasing and gapless within a process
// lifetime. On startup the counter is seeded from the tail of the durable
// journal (authoritative); a periodically persisted snapshot is fallback
// only, and the counter never decreases during a store's lifetime.
package seq

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/devtrail/memindex/internal/errors"
	"github.com/devtrail/memindex/internal/journal"
)

// StateName is the advisory sequence-state file name. The journal is ground
// truth; this file only speeds recovery when the journal is unreadable.
const StateName = "seqstate.json"

// Allocator is a process-store-scoped monotonic counter. Construct one per
// store; there is no global instance.
type Allocator struct {
	mu      sync.Mutex
	current int64
}

// New creates an allocator starting at zero.
func New() *Allocator {
	return &Allocator{}
}

// Next returns the next sequence number, advancing the counter.
func (a *Allocator) Next() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current++
	return a.current
}

// Current returns the last allocated sequence number.
func (a *Allocator) Current() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Reset seeds the counter. Values below the current counter are ignored:
// the sequence never decreases during a store's lifetime.
func (a *Allocator) Reset(v int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v > a.current {
		a.current = v
	}
}

// state is the persisted snapshot shape.
type state struct {
	LastSeq   int64 `json:"last_seq"`
	Timestamp int64 `json:"timestamp"`
}

// Snapshot atomically persists the current counter to statePath.
func (a *Allocator) Snapshot(statePath string) error {
	a.mu.Lock()
	s := state{LastSeq: a.current, Timestamp: time.Now().UnixMilli()}
	a.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sequence state: %w", err)
	}

	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write sequence state: %w", err)
	}
	if err := os.Rename(tmp, statePath); err != nil {
		return fmt.Errorf("replace sequence state: %w", err)
	}
	return nil
}

// LoadState reads a persisted snapshot. A missing file is (0, nil); an
// unreadable or malformed one is reported as ErrCorruptSeqState so the
// caller can treat it as soft.
func LoadState(statePath string) (int64, error) {
	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", errors.ErrCorruptSeqState, err)
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, fmt.Errorf("%w: %v", errors.ErrCorruptSeqState, err)
	}
	if s.LastSeq < 0 {
		return 0, fmt.Errorf("%w: negative last_seq", errors.ErrCorruptSeqState)
	}
	return s.LastSeq, nil
}

// Recover seeds the allocator for a store directory. The journal tail is
// authoritative; the snapshot is consulted only when the journal is empty or
// unreadable; otherwise the counter starts at zero. Returns the seed used.
func (a *Allocator) Recover(journalPath, statePath string) int64 {
	if last, err := journal.TailLastSeq(journalPath); err == nil && last > 0 {
		a.Reset(last)
		return last
	}

	if last, err := LoadState(statePath); err == nil && last > 0 {
		a.Reset(last)
		return last
	}

	return a.Current()
}
