// Package normalize maps raw developer-activity records into the canonical
// UnifiedEvent schema.
//
// The mapping is deterministic and purely structural: classification uses
// only fixed per-source rules over explicit fields of the raw record, never
// its content. No causal, pattern, or intent label is ever produced here;
// everything downstream depends on that invariant.
package normalize

import (
	"encoding/json"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devtrail/memindex/internal/event"
)

// Options configures the normalizer.
type Options struct {
	// Now supplies the current time, used when a raw timestamp is missing or
	// unparsable (a lossy fallback).
	Now func() time.Time

	// NewID generates event ids.
	NewID func() string
}

// DefaultOptions returns default normalizer options.
func DefaultOptions() Options {
	return Options{
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// Normalizer converts tagged raw records into UnifiedEvents. Sequence numbers
// are assigned at normalization from the injected allocator func, making each
// canonical event totally ordered within its store.
type Normalizer struct {
	nextSeq func() int64
	opts    Options
}

// New creates a normalizer. nextSeq must yield strictly increasing values.
func New(nextSeq func() int64, opts Options) *Normalizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Normalizer{nextSeq: nextSeq, opts: opts}
}

// rawShape is the superset of fields the fixed per-source rules inspect.
// Unknown fields are ignored; the full raw bytes are preserved verbatim in
// the event payload regardless.
type rawShape struct {
	Format    string         `json:"format"`
	Timestamp any            `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`

	// filesystem
	ChangeType string `json:"change_type"`
	Path       string `json:"path"`
	OldPath    string `json:"old_path"`

	// git
	Action  string   `json:"action"`
	Message string   `json:"message"`
	Branch  string   `json:"branch"`
	Files   []string `json:"files"`

	// ide
	Event string `json:"event"`
	File  string `json:"file"`

	// chat
	Role string `json:"role"`
	Text string `json:"text"`

	// build
	Status string `json:"status"`
	Target string `json:"target"`
	Output string `json:"output"`
}

// Normalize maps one raw record, tagged by its declared source, into a
// canonical event. Malformed input is never rejected outright: parsing
// degrades field by field, preserving ingestion availability. The raw bytes
// are carried verbatim in the payload.
func (n *Normalizer) Normalize(raw []byte, source event.Source) *event.UnifiedEvent {
	var shape rawShape
	// A raw record that is not a JSON object still becomes an event of
	// TypeUnknown with its bytes preserved.
	_ = json.Unmarshal(raw, &shape)

	e := &event.UnifiedEvent{
		ID:           n.opts.NewID(),
		Seq:          n.nextSeq(),
		Timestamp:    n.parseTimestamp(shape.Timestamp),
		Source:       source,
		SourceFormat: shape.Format,
		Payload:      append(json.RawMessage(nil), raw...),
		Metadata:     shape.Metadata,
	}

	switch source {
	case event.SourceFilesystem:
		e.Type = classifyFilesystem(shape.ChangeType)
		e.IndexedFields = fieldsFromPaths(collectPaths(shape.Path, shape.OldPath), nil)
	case event.SourceGit:
		e.Type = classifyGit(shape.Action)
		e.IndexedFields = fieldsFromPaths(shape.Files, ExtractKeywords(shape.Message))
	case event.SourceIDE:
		e.Type = classifyIDE(shape.Event)
		e.IndexedFields = fieldsFromPaths(collectPaths(shape.File), nil)
	case event.SourceChat:
		e.Type = event.TypeChatMessage
		e.IndexedFields = fieldsFromPaths(shape.Files, ExtractKeywords(shape.Text))
	case event.SourceBuild:
		e.Type = event.TypeBuildResult
		e.IndexedFields = fieldsFromPaths(shape.Files, ExtractKeywords(shape.Target))
	case event.SourceEngine:
		e.Type = event.TypeRetentionMark
	default:
		e.Type = event.TypeUnknown
	}

	e.Category = event.CategoryOf(e.Type)

	if e.IndexedFields.Empty() {
		e.IndexedFields = nil
	}
	return e
}

// classifyFilesystem maps the explicit change-type field. File content is
// never consulted.
func classifyFilesystem(changeType string) event.Type {
	switch strings.ToLower(changeType) {
	case "create", "created", "add", "added":
		return event.TypeFileCreate
	case "modify", "modified", "change", "changed", "write":
		return event.TypeFileModify
	case "delete", "deleted", "remove", "removed", "unlink":
		return event.TypeFileDelete
	case "rename", "renamed", "move", "moved":
		return event.TypeFileRename
	default:
		return event.TypeUnknown
	}
}

func classifyGit(action string) event.Type {
	switch strings.ToLower(action) {
	case "commit":
		return event.TypeCommit
	case "branch", "checkout", "switch":
		return event.TypeBranchChange
	case "merge", "rebase":
		return event.TypeMerge
	default:
		return event.TypeUnknown
	}
}

func classifyIDE(ev string) event.Type {
	switch strings.ToLower(ev) {
	case "focus", "open", "active":
		return event.TypeEditorFocus
	default:
		return event.TypeUnknown
	}
}

// parseTimestamp accepts epoch milliseconds, epoch seconds, or an RFC3339
// string. Unparsable input falls back to the injected clock.
func (n *Normalizer) parseTimestamp(v any) int64 {
	switch ts := v.(type) {
	case float64:
		return normalizeEpoch(int64(ts))
	case string:
		if ts == "" {
			break
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return parsed.UnixMilli()
		}
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			return parsed.UnixMilli()
		}
		if num, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return normalizeEpoch(num)
		}
	case json.Number:
		if num, err := ts.Int64(); err == nil {
			return normalizeEpoch(num)
		}
	}
	return n.opts.Now().UnixMilli()
}

// normalizeEpoch widens second-precision epochs to milliseconds. Epochs below
// 1e11 are treated as seconds (covers dates through year 5138).
func normalizeEpoch(v int64) int64 {
	if v > 0 && v < 100_000_000_000 {
		return v * 1000
	}
	return v
}

// collectPaths filters empty entries.
func collectPaths(paths ...string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fieldsFromPaths derives file, module and directory keys from a path list.
// The module is the first path segment; the directory is everything above the
// file name.
func fieldsFromPaths(files, keywords []string) *event.IndexedFields {
	f := &event.IndexedFields{Keywords: keywords}

	seenModules := map[string]bool{}
	seenDirs := map[string]bool{}

	for _, file := range files {
		if file == "" {
			continue
		}
		clean := path.Clean(strings.ReplaceAll(file, "\\", "/"))
		f.Files = append(f.Files, clean)

		if dir := path.Dir(clean); dir != "." && dir != "/" && !seenDirs[dir] {
			seenDirs[dir] = true
			f.Directories = append(f.Directories, dir)
		}
		if mod := moduleOf(clean); mod != "" && !seenModules[mod] {
			seenModules[mod] = true
			f.Modules = append(f.Modules, mod)
		}
	}
	return f
}

// moduleOf returns the first segment of a relative path.
func moduleOf(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return ""
}
