// Package mil assembles the memory index layer: one Store owns the journal,
// the sequence allocator, the normalizer, the secondary indices, the cache,
// and retention, and exposes the ingest/query surface.
package mil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/devtrail/memindex/internal/analytics"
	"github.com/devtrail/memindex/internal/archive"
	"github.com/devtrail/memindex/internal/cache"
	"github.com/devtrail/memindex/internal/config"
	"github.com/devtrail/memindex/internal/errors"
	"github.com/devtrail/memindex/internal/event"
	"github.com/devtrail/memindex/internal/index"
	"github.com/devtrail/memindex/internal/journal"
	"github.com/devtrail/memindex/internal/logging"
	"github.com/devtrail/memindex/internal/normalize"
	"github.com/devtrail/memindex/internal/retention"
	"github.com/devtrail/memindex/internal/seq"
)

// =============================================================================
// Store
// =============================================================================

// Store is the engine facade. It is safe for concurrent use; one Store owns
// its data directory exclusively.
type Store struct {
	config *config.Config
	log    *slog.Logger

	alloc      *seq.Allocator
	normalizer *normalize.Normalizer
	journal    *journal.Writer
	temporal   *index.Temporal
	types      *index.TypeIndex
	spatial    *index.Spatial
	cache      *cache.Cache
	retention  *retention.Manager
	analytics  *analytics.Service

	// scanGroup collapses concurrent journal scans triggered by cache misses.
	scanGroup singleflight.Group

	sketchMu sync.Mutex
	latency  *ddsketch.DDSketch

	ingested    atomic.Int64
	ingestFails atomic.Int64
	queries     atomic.Int64

	// indexedSeq is the highest sequence number inserted into the indices.
	// Persisted with each snapshot flush so reopen knows where replay starts.
	indexedSeq atomic.Int64

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open initializes a store over cfg.DataDir. Opening is idempotent with
// respect to on-disk state: directories and the live journal are created if
// absent, the sequence counter recovers from the journal tail, index
// snapshots are loaded, and any journal tail the snapshots do not cover is
// re-indexed.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		config: cfg,
		log:    logging.Component("store"),
		alloc:  seq.New(),
		cache:  cache.New(cfg.Cache.Capacity),
		ctx:    ctx,
		cancel: cancel,
	}

	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		s.latency = sketch
	}

	overflow := journal.Block
	if cfg.Journal.Overflow == "drop_oldest" {
		overflow = journal.DropOldest
	}
	w, err := journal.NewWriter(cfg.JournalDir(), journal.Options{
		QueueCapacity:  cfg.Journal.QueueCapacity,
		Overflow:       overflow,
		SyncMode:       cfg.Journal.SyncMode,
		MaxRetries:     cfg.Journal.MaxRetries,
		RetryBaseDelay: cfg.Journal.RetryBaseDelay,
		AutoDrain:      true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s.journal = w

	s.recoverSeq()
	s.normalizer = normalize.New(s.alloc.Next, normalize.DefaultOptions())

	s.temporal = index.NewTemporal(cfg.TemporalSnapshotPath())
	s.types = index.NewTypeIndex(cfg.TypeSnapshotPath())
	s.spatial = index.NewSpatial(cfg.SpatialSnapshotPath())
	s.loadIndexes()

	s.retention = retention.New(cfg, w, s.recordRotation)
	s.retention.SetArchiveConverter(func(logPath, destDir string) (string, error) {
		res, err := archive.ExportFile(logPath, destDir, archive.Options{
			Compression: cfg.Archive.Compression,
		})
		return res.Dest, err
	})

	a, err := analytics.New(cfg)
	if err != nil {
		s.log.Warn("analytics unavailable", "error", err)
	} else {
		s.analytics = a
	}

	s.startWorkers()

	s.log.Info("store opened",
		"data_dir", cfg.DataDir, "last_seq", s.alloc.Current(),
		"temporal_entries", s.temporal.Len())
	return s, nil
}

// recoverSeq seeds the allocator. The live journal tail is authoritative;
// when the live file is empty the newest rotated archive is consulted, then
// the advisory snapshot.
func (s *Store) recoverSeq() {
	livePath := filepath.Join(s.config.JournalDir(), journal.LiveName)
	s.alloc.Recover(livePath, s.config.SeqStatePath())
	if s.alloc.Current() > 0 {
		return
	}

	for _, tier := range []event.Tier{event.TierWarm, event.TierCold} {
		archives, err := journal.ListArchives(s.config.TierDir(tier.String()))
		if err != nil {
			continue
		}
		for i := len(archives) - 1; i >= 0; i-- {
			if last, err := journal.TailLastSeq(archives[i]); err == nil && last > 0 {
				s.alloc.Reset(last)
				return
			}
		}
	}
}

// loadIndexes restores index snapshots and re-indexes the journal tail the
// snapshots do not cover. Snapshots flush periodically while the journal is
// the durability boundary, so a crash routinely leaves the snapshots a few
// events behind; the persisted watermark says where replay must start. A
// corrupt snapshot resets that index and is logged, never fatal.
func (s *Store) loadIndexes() {
	var loadFailed bool
	for name, load := range map[string]func() error{
		"temporal": s.temporal.Load,
		"type":     s.types.Load,
		"spatial":  s.spatial.Load,
	} {
		if err := load(); err != nil {
			loadFailed = true
			if errors.IsCorrupt(err) {
				s.log.Warn("index snapshot corrupt, rebuilding", "index", name, "error", err)
			} else {
				s.log.Warn("index snapshot unreadable, rebuilding", "index", name, "error", err)
			}
		}
	}

	mark := s.loadIndexMark()
	if loadFailed || s.temporal.Len() == 0 {
		// A reset or missing snapshot invalidates the watermark's coverage
		// claim; replay everything. Inserts dedupe per id, so the indices
		// that did load are unharmed.
		mark = 0
	}
	s.indexedSeq.Store(mark)

	if s.alloc.Current() > mark {
		s.replayJournal(mark)
	}
}

// replayJournal re-indexes every journal event with a sequence number past
// afterSeq, rotated archives oldest-first and then the live file. Index
// inserts are idempotent per id, so replaying a little too far back is
// harmless.
func (s *Store) replayJournal(afterSeq int64) {
	start := time.Now()
	var replayed int64

	replay := func(path string) {
		if afterSeq > 0 {
			if last, err := journal.TailLastSeq(path); err == nil && last <= afterSeq {
				return
			}
		}
		stats, err := journal.ScanFile(path, func(e *event.UnifiedEvent) bool {
			if e.Seq > afterSeq {
				s.indexEvent(e)
				replayed++
			}
			return true
		})
		if err != nil {
			s.log.Warn("index replay scan failed", "path", path, "error", err)
		}
		if stats.CorruptLines > 0 {
			s.log.Warn("corrupt journal lines skipped during replay",
				"path", path, "lines", stats.CorruptLines)
		}
	}

	for _, tier := range []event.Tier{event.TierCold, event.TierWarm} {
		archives, err := journal.ListArchives(s.config.TierDir(tier.String()))
		if err != nil {
			continue
		}
		for _, p := range archives {
			replay(p)
		}
	}
	replay(filepath.Join(s.config.JournalDir(), journal.LiveName))

	s.log.Info("indexes replayed from journal",
		"after_seq", afterSeq, "events", replayed, "elapsed", time.Since(start))
}

// indexMark is the snapshot-coverage watermark persisted next to the index
// snapshots.
type indexMark struct {
	LastIndexedSeq int64 `json:"last_indexed_seq"`
	Timestamp      int64 `json:"timestamp"`
}

func (s *Store) loadIndexMark() int64 {
	data, err := os.ReadFile(s.config.IndexStatePath())
	if err != nil {
		return 0
	}
	var m indexMark
	if err := json.Unmarshal(data, &m); err != nil {
		s.log.Warn("index watermark corrupt, replaying full journal", "error", err)
		return 0
	}
	return m.LastIndexedSeq
}

func (s *Store) saveIndexMark(seq int64) error {
	data, err := json.Marshal(indexMark{LastIndexedSeq: seq, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode index watermark: %w", err)
	}
	path := s.config.IndexStatePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write index watermark: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index watermark: %w", err)
	}
	return nil
}

func (s *Store) indexEvent(e *event.UnifiedEvent) {
	s.temporal.Insert(e.Timestamp, e.ID)
	s.types.Insert(e.Type, e.ID)
	if e.IndexedFields != nil {
		s.spatial.Insert(e.IndexedFields, e.ID)
	}

	for {
		cur := s.indexedSeq.Load()
		if e.Seq <= cur || s.indexedSeq.CompareAndSwap(cur, e.Seq) {
			return
		}
	}
}

// =============================================================================
// Workers
// =============================================================================

func (s *Store) startWorkers() {
	s.wg.Add(3)
	go s.indexFlushLoop()
	go s.seqSnapshotLoop()
	go s.retentionLoop()
}

func (s *Store) indexFlushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Timers.IndexFlush)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.flushIndexes(); err != nil {
				s.log.Warn("index flush failed", "error", err)
			}
		}
	}
}

// flushIndexes persists all three snapshots and then the coverage watermark.
// The watermark is captured before the flush starts, so it never claims
// events a snapshot might have missed; replay past a stale watermark is
// idempotent.
func (s *Store) flushIndexes() error {
	mark := s.indexedSeq.Load()

	var g errgroup.Group
	g.Go(s.temporal.Flush)
	g.Go(s.types.Flush)
	g.Go(s.spatial.Flush)
	if err := g.Wait(); err != nil {
		return err
	}
	return s.saveIndexMark(mark)
}

func (s *Store) seqSnapshotLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Timers.SeqSnapshot)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.alloc.Snapshot(s.config.SeqStatePath()); err != nil {
				s.log.Warn("sequence snapshot failed", "error", err)
			}
		}
	}
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()

	// One pass at startup, then on the configured interval.
	s.retention.CheckOnce(time.Now())

	ticker := time.NewTicker(s.config.Timers.RetentionCheck)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.retention.CheckOnce(time.Now())
		}
	}
}

// =============================================================================
// Ingest
// =============================================================================

// Ingest normalizes one raw record and persists it. The journal append is the
// durability boundary: an error there fails the ingest and nothing is
// indexed. Normalization itself never rejects input.
func (s *Store) Ingest(ctx context.Context, raw []byte, source event.Source) (*event.UnifiedEvent, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	e := s.normalizer.Normalize(raw, source)

	if err := s.journal.Append(e); err != nil {
		s.ingestFails.Add(1)
		return nil, fmt.Errorf("append journal: %w", err)
	}

	s.indexEvent(e)
	s.cache.Put(e)

	s.ingested.Add(1)
	s.observeLatency(time.Since(start))
	return e, nil
}

func (s *Store) observeLatency(d time.Duration) {
	if s.latency == nil {
		return
	}
	s.sketchMu.Lock()
	s.latency.Add(float64(d.Microseconds()) / 1000.0)
	s.sketchMu.Unlock()
}

// recordRotation appends the bookkeeping record for a completed rotation. It
// runs before the archived file enters purge accounting, so a crash between
// rotation and purge leaves evidence in the journal.
func (s *Store) recordRotation(archivePath string) {
	raw, err := json.Marshal(map[string]any{
		"timestamp": time.Now().UnixMilli(),
		"action":    "rotate",
		"archive":   filepath.Base(archivePath),
	})
	if err != nil {
		return
	}
	if _, err := s.Ingest(context.Background(), raw, event.SourceEngine); err != nil {
		s.log.Warn("rotation bookkeeping record failed", "error", err)
	}
}

// RotateNow forces a journal rotation regardless of size.
func (s *Store) RotateNow() (string, error) {
	if s.closed.Load() {
		return "", errors.ErrStoreClosed
	}
	return s.retention.RotateNow(time.Now())
}

// Flush drains the journal queue and persists index snapshots.
func (s *Store) Flush() error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}
	if err := s.journal.Flush(); err != nil {
		return err
	}
	return s.flushIndexes()
}

// SQL runs a raw analytics query over the archived tier.
func (s *Store) SQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}
	if s.analytics == nil {
		return nil, fmt.Errorf("analytics unavailable")
	}
	return s.analytics.ExecuteSQL(ctx, query)
}

// =============================================================================
// Shutdown
// =============================================================================

// Close shuts the store down losslessly: workers stop, queued records drain
// to the journal, the sequence counter and every index snapshot persist.
// Close is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.alloc.Snapshot(s.config.SeqStatePath()); err != nil {
		record(fmt.Errorf("sequence snapshot: %w", err))
	}

	record(s.flushIndexes())

	record(s.journal.Close())
	if s.analytics != nil {
		record(s.analytics.Close())
	}

	s.log.Info("store closed", "last_seq", s.alloc.Current())
	return firstErr
}

// =============================================================================
// Helpers
// =============================================================================

// hasGlobMeta reports whether a spatial query value needs glob matching
// rather than an exact lookup.
func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
