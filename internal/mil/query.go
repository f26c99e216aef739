package mil

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/devtrail/memindex/internal/archive"
	"github.com/devtrail/memindex/internal/errors"
	"github.com/devtrail/memindex/internal/event"
	"github.com/devtrail/memindex/internal/index"
	"github.com/devtrail/memindex/internal/journal"
)

// QueryOptions narrows a query's result set. All filters are conjunctive;
// zero values match everything.
type QueryOptions struct {
	// Types keeps only events of the listed types.
	Types []event.Type

	// Sources keeps only events from the listed sources.
	Sources []event.Source

	// Categories keeps only events in the listed categories.
	Categories []event.Category

	// Files keeps only events whose indexed files include one of the listed
	// paths.
	Files []string

	// Limit bounds the result count after ordering. Zero means unbounded.
	Limit int
}

// QueryTemporal returns events with start <= timestamp <= end, both bounds
// inclusive, ordered by timestamp with sequence as the tie-break.
func (s *Store) QueryTemporal(ctx context.Context, startMs, endMs int64, opts QueryOptions) ([]*event.UnifiedEvent, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}
	if startMs > endMs {
		return nil, errors.ErrInvalidRange
	}

	s.queries.Add(1)
	ids := s.temporal.RangeQuery(startMs, endMs)
	return s.finish(ctx, ids, opts)
}

// QueryByFile returns events touching the given file path. A pattern with
// glob metacharacters matches against every indexed file key.
func (s *Store) QueryByFile(ctx context.Context, pattern string, opts QueryOptions) ([]*event.UnifiedEvent, error) {
	return s.querySpatial(ctx, index.KeyFile, pattern, opts)
}

// QueryByModule returns events touching the given top-level module.
func (s *Store) QueryByModule(ctx context.Context, pattern string, opts QueryOptions) ([]*event.UnifiedEvent, error) {
	return s.querySpatial(ctx, index.KeyModule, pattern, opts)
}

// QueryByDirectory returns events touching files in the given directory.
func (s *Store) QueryByDirectory(ctx context.Context, pattern string, opts QueryOptions) ([]*event.UnifiedEvent, error) {
	return s.querySpatial(ctx, index.KeyDirectory, pattern, opts)
}

func (s *Store) querySpatial(ctx context.Context, namespace, pattern string, opts QueryOptions) ([]*event.UnifiedEvent, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}

	s.queries.Add(1)

	var ids []string
	if hasGlobMeta(pattern) {
		matched, err := s.spatial.LookupGlob(namespace, pattern)
		if err != nil {
			return nil, err
		}
		ids = matched
	} else {
		ids = s.spatial.Lookup(namespace, pattern)
	}
	return s.finish(ctx, ids, opts)
}

// QueryByType returns events of one canonical type.
func (s *Store) QueryByType(ctx context.Context, t event.Type, opts QueryOptions) ([]*event.UnifiedEvent, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}

	s.queries.Add(1)
	ids := s.types.Lookup(t)
	return s.finish(ctx, ids, opts)
}

// Get returns one event by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*event.UnifiedEvent, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}
	events, err := s.resolve(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.ErrNotFound
	}
	return events[0], nil
}

// finish resolves ids to events, applies filters, orders, and limits.
func (s *Store) finish(ctx context.Context, ids []string, opts QueryOptions) ([]*event.UnifiedEvent, error) {
	events, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	events = filterEvents(events, opts)
	sortEvents(events)

	if opts.Limit > 0 && len(events) > opts.Limit {
		events = events[:opts.Limit]
	}
	return events, nil
}

// resolve maps ids to events, cache-first. Misses fall back to one journal
// scan shared across concurrent callers; ids absent from the journal are
// silently dropped (the index may briefly lead a purged archive).
func (s *Store) resolve(ctx context.Context, ids []string) ([]*event.UnifiedEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	events := make([]*event.UnifiedEvent, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if e, ok := s.cache.Get(id); ok {
			events = append(events, e)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return events, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scanned, err, _ := s.scanGroup.Do("journal-scan", func() (any, error) {
		return s.scanAll()
	})
	if err != nil {
		return nil, err
	}

	byID := scanned.(map[string]*event.UnifiedEvent)
	for _, id := range missing {
		if e, ok := byID[id]; ok {
			events = append(events, e)
			s.cache.Put(e)
		}
	}
	return events, nil
}

// scanAll reads every persisted event: rotated archives (oldest tier first),
// Parquet archives, then the live journal. Later reads win on duplicate ids.
func (s *Store) scanAll() (map[string]*event.UnifiedEvent, error) {
	byID := make(map[string]*event.UnifiedEvent)

	collect := func(path string) {
		_, err := journal.ScanFile(path, func(e *event.UnifiedEvent) bool {
			byID[e.ID] = e
			return true
		})
		if err != nil {
			s.log.Warn("journal scan failed", "path", path, "error", err)
		}
	}

	archivedDir := s.config.TierDir(event.TierArchived.String())
	if parquets, err := filepath.Glob(filepath.Join(archivedDir, "*.parquet")); err == nil {
		for _, p := range parquets {
			s.collectParquet(p, byID)
		}
	}

	for _, tier := range []event.Tier{event.TierCold, event.TierWarm} {
		archives, err := journal.ListArchives(s.config.TierDir(tier.String()))
		if err != nil {
			continue
		}
		for _, p := range archives {
			collect(p)
		}
	}
	collect(filepath.Join(s.config.JournalDir(), journal.LiveName))

	return byID, nil
}

func (s *Store) collectParquet(path string, byID map[string]*event.UnifiedEvent) {
	r, err := archive.NewReader(path)
	if err != nil {
		s.log.Warn("archive read failed", "path", path, "error", err)
		return
	}
	defer r.Close()

	rows, err := r.ReadAll()
	if err != nil {
		s.log.Warn("archive read failed", "path", path, "error", err)
		return
	}
	for i := range rows {
		e := rows[i].ToEvent()
		byID[e.ID] = e
	}
}

func filterEvents(events []*event.UnifiedEvent, opts QueryOptions) []*event.UnifiedEvent {
	if len(opts.Types) == 0 && len(opts.Sources) == 0 &&
		len(opts.Categories) == 0 && len(opts.Files) == 0 {
		return events
	}

	kept := events[:0]
	for _, e := range events {
		if matchesOptions(e, opts) {
			kept = append(kept, e)
		}
	}
	return kept
}

func matchesOptions(e *event.UnifiedEvent, opts QueryOptions) bool {
	if len(opts.Types) > 0 && !containsType(opts.Types, e.Type) {
		return false
	}
	if len(opts.Sources) > 0 && !containsSource(opts.Sources, e.Source) {
		return false
	}
	if len(opts.Categories) > 0 && !containsCategory(opts.Categories, e.Category) {
		return false
	}
	if len(opts.Files) > 0 {
		if e.IndexedFields == nil {
			return false
		}
		found := false
		for _, want := range opts.Files {
			for _, f := range e.IndexedFields.Files {
				if f == want {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsType(list []event.Type, t event.Type) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsSource(list []event.Source, s event.Source) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsCategory(list []event.Category, c event.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

// sortEvents orders by timestamp, then sequence. Sequence is the total-order
// tie-break for equal timestamps.
func sortEvents(events []*event.UnifiedEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].Seq < events[j].Seq
	})
}
