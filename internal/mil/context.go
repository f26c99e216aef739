package mil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/devtrail/memindex/internal/errors"
	"github.com/devtrail/memindex/internal/event"
)

// ContextWindow is the assembled material around one anchor event, intended
// as input for a downstream language model. The summary is purely
// structural: counts and distinct attributes of what the window contains,
// never an interpretation of it.
type ContextWindow struct {
	Anchor  *event.UnifiedEvent   `json:"anchor,omitempty"`
	Events  []*event.UnifiedEvent `json:"events"`
	StartMs int64                 `json:"start_ms"`
	EndMs   int64                 `json:"end_ms"`
	Summary WindowSummary         `json:"summary"`
}

// WindowSummary describes the window's contents structurally.
type WindowSummary struct {
	TotalEvents int            `json:"total_events"`
	ByType      map[string]int `json:"by_type"`
	ByCategory  map[string]int `json:"by_category"`
	Files       []string       `json:"files,omitempty"`
	Modules     []string       `json:"modules,omitempty"`
	Directories []string       `json:"directories,omitempty"`
	Text        string         `json:"text"`
}

// BuildContextForLLM gathers the events in a symmetric time window around
// the anchor, in chronological order. An empty anchorID anchors on the
// current time and leaves Anchor nil. windowMs of zero uses a 5 minute
// half-window.
func (s *Store) BuildContextForLLM(ctx context.Context, anchorID string, windowMs int64) (*ContextWindow, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}
	if windowMs <= 0 {
		windowMs = 5 * time.Minute.Milliseconds()
	}

	// An empty anchor id anchors the window on the current time.
	var anchor *event.UnifiedEvent
	anchorTs := time.Now().UnixMilli()
	if anchorID != "" {
		var err error
		anchor, err = s.Get(ctx, anchorID)
		if err != nil {
			return nil, fmt.Errorf("resolve anchor %s: %w", anchorID, err)
		}
		anchorTs = anchor.Timestamp
	}

	startMs := anchorTs - windowMs
	endMs := anchorTs + windowMs

	events, err := s.QueryTemporal(ctx, startMs, endMs, QueryOptions{})
	if err != nil {
		return nil, err
	}

	window := &ContextWindow{
		Anchor:  anchor,
		Events:  events,
		StartMs: startMs,
		EndMs:   endMs,
		Summary: summarize(events),
	}
	return window, nil
}

// summarize counts what the window holds. The wording stays descriptive:
// events are listed in chronological order and the summary states only
// counts and distinct indexed attributes.
func summarize(events []*event.UnifiedEvent) WindowSummary {
	sum := WindowSummary{
		TotalEvents: len(events),
		ByType:      make(map[string]int),
		ByCategory:  make(map[string]int),
	}

	files := make(map[string]struct{})
	modules := make(map[string]struct{})
	dirs := make(map[string]struct{})

	for _, e := range events {
		sum.ByType[e.Type.String()]++
		sum.ByCategory[e.Category.String()]++
		if e.IndexedFields == nil {
			continue
		}
		for _, f := range e.IndexedFields.Files {
			files[f] = struct{}{}
		}
		for _, m := range e.IndexedFields.Modules {
			modules[m] = struct{}{}
		}
		for _, d := range e.IndexedFields.Directories {
			dirs[d] = struct{}{}
		}
	}

	sum.Files = sortedKeys(files)
	sum.Modules = sortedKeys(modules)
	sum.Directories = sortedKeys(dirs)
	sum.Text = summaryText(sum)
	return sum
}

func summaryText(sum WindowSummary) string {
	if sum.TotalEvents == 0 {
		return "no events in window"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d events in chronological order", sum.TotalEvents)

	if len(sum.ByType) > 0 {
		types := make([]string, 0, len(sum.ByType))
		for name := range sum.ByType {
			types = append(types, name)
		}
		sort.Strings(types)
		parts := make([]string, len(types))
		for i, name := range types {
			parts[i] = fmt.Sprintf("%s=%d", name, sum.ByType[name])
		}
		fmt.Fprintf(&b, "; types: %s", strings.Join(parts, ", "))
	}
	if n := len(sum.Files); n > 0 {
		fmt.Fprintf(&b, "; %d distinct files", n)
	}
	if n := len(sum.Modules); n > 0 {
		fmt.Fprintf(&b, "; %d distinct modules", n)
	}
	return b.String()
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
