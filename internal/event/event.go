package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/devtrail/memindex/internal/errors"
)

// UnifiedEvent is the canonical, source-agnostic event record all queries
// operate on. It is produced exclusively by the normalizer; raw events are
// never queried directly.
type UnifiedEvent struct {
	// Identity
	ID  string `json:"id"`
	Seq int64  `json:"seq"`

	// Timestamp is unix milliseconds. Collisions are allowed; Seq is the
	// total-order tie-break.
	Timestamp int64 `json:"ts"`

	// Classification (structural only)
	Type     Type     `json:"type"`
	Source   Source   `json:"source"`
	Category Category `json:"category"`

	// SourceFormat preserves the original raw tag of the upstream record.
	SourceFormat string `json:"source_format,omitempty"`

	// Payload preserves the raw event verbatim.
	Payload json.RawMessage `json:"payload,omitempty"`

	// IndexedFields are structurally derived lookup attributes.
	IndexedFields *IndexedFields `json:"indexed_fields,omitempty"`

	// Metadata is opaque passthrough.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IndexedFields holds structurally derived attributes attached for fast
// lookup. They are never semantically interpreted.
type IndexedFields struct {
	Files       []string `json:"files,omitempty"`
	Modules     []string `json:"modules,omitempty"`
	Directories []string `json:"directories,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Empty reports whether no indexed attribute is set.
func (f *IndexedFields) Empty() bool {
	return f == nil ||
		(len(f.Files) == 0 && len(f.Modules) == 0 &&
			len(f.Directories) == 0 && len(f.Keywords) == 0)
}

// TimestampTime returns the event timestamp as a time.Time.
func (e *UnifiedEvent) TimestampTime() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// EncodeLine serializes the event as one newline-terminated JSON line, the
// durable journal representation.
func (e *UnifiedEvent) EncodeLine() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return append(data, '\n'), nil
}

// DecodeLine parses one journal line into an event. A line that is not valid
// JSON or lacks an id is reported as ErrCorruptRecord so readers can skip it.
func DecodeLine(line []byte) (*UnifiedEvent, error) {
	var e UnifiedEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCorruptRecord, err)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("%w: missing id", errors.ErrCorruptRecord)
	}
	return &e, nil
}
