package mil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/devtrail/memindex/internal/config"
	"github.com/devtrail/memindex/internal/errors"
	"github.com/devtrail/memindex/internal/event"
	"github.com/devtrail/memindex/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func openStore(t *testing.T, cfg *config.Config) *Store {
	t.Helper()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func ingestFS(t *testing.T, s *Store, ts int64, path string) *event.UnifiedEvent {
	t.Helper()
	raw := testutil.RawRecord(t, map[string]any{
		"change_type": "modify",
		"path":        path,
		"timestamp":   ts,
	})
	e, err := s.Ingest(context.Background(), raw, event.SourceFilesystem)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return e
}

func TestIngestAssignsIdentity(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	a := ingestFS(t, s, 1700000001000, "src/a.go")
	b := ingestFS(t, s, 1700000002000, "src/b.go")

	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Errorf("ids not unique: %q %q", a.ID, b.ID)
	}
	if b.Seq != a.Seq+1 {
		t.Errorf("seq not contiguous: %d then %d", a.Seq, b.Seq)
	}
	if a.Type != event.TypeFileModify {
		t.Errorf("type = %v", a.Type)
	}
}

func TestQueryTemporal(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	var ids []string
	for i := int64(0); i < 5; i++ {
		e := ingestFS(t, s, 1700000000000+i*1000, fmt.Sprintf("src/f%d.go", i))
		ids = append(ids, e.ID)
	}

	// Inclusive on both bounds.
	events, err := s.QueryTemporal(context.Background(), 1700000001000, 1700000003000, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.ID != ids[i+1] {
			t.Errorf("position %d: %s, want %s", i, e.ID, ids[i+1])
		}
	}

	// Inverted bounds are an error, not an empty result.
	if _, err := s.QueryTemporal(context.Background(), 200, 100, QueryOptions{}); !errors.Is(err, errors.ErrInvalidRange) {
		t.Errorf("inverted range = %v, want ErrInvalidRange", err)
	}
}

func TestQueryOrderingTies(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	// Same timestamp, distinct sequence numbers: sequence breaks the tie.
	for i := 0; i < 4; i++ {
		ingestFS(t, s, 1700000005000, fmt.Sprintf("src/t%d.go", i))
	}

	events, err := s.QueryTemporal(context.Background(), 1700000005000, 1700000005000, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("sequence order broken: %d after %d", events[i].Seq, events[i-1].Seq)
		}
	}
}

func TestQueryByFile(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	ingestFS(t, s, 1700000001000, "src/auth/login.go")
	ingestFS(t, s, 1700000002000, "src/auth/token.go")
	ingestFS(t, s, 1700000003000, "docs/readme.md")

	exact, err := s.QueryByFile(context.Background(), "src/auth/login.go", QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(exact) != 1 {
		t.Errorf("exact match = %d events", len(exact))
	}

	globbed, err := s.QueryByFile(context.Background(), "src/auth/*.go", QueryOptions{})
	if err != nil {
		t.Fatalf("glob query: %v", err)
	}
	if len(globbed) != 2 {
		t.Errorf("glob match = %d events", len(globbed))
	}

	byModule, err := s.QueryByModule(context.Background(), "src", QueryOptions{})
	if err != nil {
		t.Fatalf("module query: %v", err)
	}
	if len(byModule) != 2 {
		t.Errorf("module match = %d events", len(byModule))
	}

	byDir, err := s.QueryByDirectory(context.Background(), "src/auth", QueryOptions{})
	if err != nil {
		t.Fatalf("directory query: %v", err)
	}
	if len(byDir) != 2 {
		t.Errorf("directory match = %d events", len(byDir))
	}
}

func TestQueryByTypeWithFilters(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	ingestFS(t, s, 1700000001000, "src/a.go")
	commit := testutil.RawRecord(t, map[string]any{
		"action":    "commit",
		"message":   "rework indexing",
		"files":     []string{"src/a.go"},
		"timestamp": 1700000002000,
	})
	if _, err := s.Ingest(context.Background(), commit, event.SourceGit); err != nil {
		t.Fatalf("ingest commit: %v", err)
	}

	commits, err := s.QueryByType(context.Background(), event.TypeCommit, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(commits) != 1 || commits[0].Source != event.SourceGit {
		t.Fatalf("commits = %+v", commits)
	}

	// File filter intersects.
	filtered, err := s.QueryByType(context.Background(), event.TypeCommit, QueryOptions{
		Files: []string{"src/other.go"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(filtered) != 0 {
		t.Errorf("filter leaked %d events", len(filtered))
	}

	limited, err := s.QueryTemporal(context.Background(), 0, 1800000000000, QueryOptions{Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d events", len(limited))
	}
}

func TestGet(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	e := ingestFS(t, s, 1700000001000, "src/a.go")

	got, err := s.Get(context.Background(), e.ID)
	if err != nil || got.Seq != e.Seq {
		t.Fatalf("get = (%+v, %v)", got, err)
	}
	if _, err := s.Get(context.Background(), "no-such-id"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing id = %v, want ErrNotFound", err)
	}
}

func TestCloseReopenRecovery(t *testing.T) {
	cfg := testConfig(t)

	s := openStore(t, cfg)
	var lastSeq int64
	var anchorID string
	for i := int64(0); i < 10; i++ {
		e := ingestFS(t, s, 1700000000000+i*1000, fmt.Sprintf("src/f%d.go", i))
		lastSeq = e.Seq
		anchorID = e.ID
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Second open continues the sequence and sees the old events.
	s2 := openStore(t, cfg)
	defer s2.Close()

	e := ingestFS(t, s2, 1700000020000, "src/new.go")
	if e.Seq != lastSeq+1 {
		t.Errorf("seq after reopen = %d, want %d", e.Seq, lastSeq+1)
	}

	// Cache is cold after reopen: resolution falls back to the journal.
	got, err := s2.Get(context.Background(), anchorID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Seq != lastSeq {
		t.Errorf("recovered event seq = %d", got.Seq)
	}

	events, err := s2.QueryTemporal(context.Background(), 1700000000000, 1700000030000, QueryOptions{})
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if len(events) != 11 {
		t.Errorf("got %d events after reopen, want 11", len(events))
	}
}

func TestReopenWithoutSnapshotsRebuilds(t *testing.T) {
	cfg := testConfig(t)

	s := openStore(t, cfg)
	for i := int64(0); i < 5; i++ {
		ingestFS(t, s, 1700000000000+i*1000, fmt.Sprintf("src/f%d.go", i))
	}
	if err := s.journal.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	// Simulate a crash: journal persisted, index snapshots never written.
	s.cancel()
	s.wg.Wait()
	s.closed.Store(true)
	if err := s.journal.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}
	if s.analytics != nil {
		s.analytics.Close()
	}

	s2 := openStore(t, cfg)
	defer s2.Close()

	events, err := s2.QueryTemporal(context.Background(), 0, 1800000000000, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("rebuilt index returned %d events, want 5", len(events))
	}
}

func TestReopenAfterCrashReindexesJournalTail(t *testing.T) {
	cfg := testConfig(t)

	s := openStore(t, cfg)
	ingestFS(t, s, 1700000001000, "src/a.go")
	ingestFS(t, s, 1700000002000, "src/b.go")
	// Snapshots and the coverage watermark now hold the first two events.
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// A third event reaches the journal but never the snapshots.
	tail := ingestFS(t, s, 1700000003000, "src/c.go")
	if err := s.journal.Flush(); err != nil {
		t.Fatalf("journal flush: %v", err)
	}
	s.cancel()
	s.wg.Wait()
	s.closed.Store(true)
	if err := s.journal.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}
	if s.analytics != nil {
		s.analytics.Close()
	}

	s2 := openStore(t, cfg)
	defer s2.Close()

	events, err := s2.QueryTemporal(context.Background(), 0, 1800000000000, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("temporal query after crash = %d events, want 3", len(events))
	}
	if events[2].ID != tail.ID {
		t.Errorf("tail event missing from temporal index: %+v", events)
	}

	// No event is indexed twice even though replay overlaps the snapshots.
	seen := make(map[string]int)
	for _, e := range events {
		seen[e.ID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("event %s indexed %d times", id, n)
		}
	}

	byType, err := s2.QueryByType(context.Background(), event.TypeFileModify, QueryOptions{})
	if err != nil {
		t.Fatalf("type query: %v", err)
	}
	if len(byType) != 3 {
		t.Errorf("type query after crash = %d events, want 3", len(byType))
	}

	byFile, err := s2.QueryByFile(context.Background(), "src/c.go", QueryOptions{})
	if err != nil {
		t.Fatalf("file query: %v", err)
	}
	if len(byFile) != 1 {
		t.Errorf("tail event missing from spatial index: %d events", len(byFile))
	}
}

func TestBuildContextForLLM(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	base := int64(1700000000000)
	ingestFS(t, s, base-10_000, "src/before.go")
	anchor := ingestFS(t, s, base, "src/anchor.go")
	ingestFS(t, s, base+10_000, "src/after.go")
	ingestFS(t, s, base+120_000, "src/outside.go")

	window, err := s.BuildContextForLLM(context.Background(), anchor.ID, 60_000)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}

	if window.Anchor.ID != anchor.ID {
		t.Errorf("anchor = %s", window.Anchor.ID)
	}
	if len(window.Events) != 3 {
		t.Fatalf("window holds %d events, want 3", len(window.Events))
	}
	for i := 1; i < len(window.Events); i++ {
		if window.Events[i].Timestamp < window.Events[i-1].Timestamp {
			t.Fatal("window events out of chronological order")
		}
	}

	sum := window.Summary
	if sum.TotalEvents != 3 {
		t.Errorf("summary total = %d", sum.TotalEvents)
	}
	if sum.ByType["file_modify"] != 3 {
		t.Errorf("summary by type = %v", sum.ByType)
	}
	if len(sum.Files) != 3 {
		t.Errorf("summary files = %v", sum.Files)
	}
	if !strings.Contains(sum.Text, "chronological") {
		t.Errorf("summary text = %q", sum.Text)
	}
	// Structural summary only: no interpretive vocabulary.
	for _, banned := range []string{"caused", "correlat", "pattern", "likely"} {
		if strings.Contains(strings.ToLower(sum.Text), banned) {
			t.Errorf("summary text contains %q: %s", banned, sum.Text)
		}
	}

	if _, err := s.BuildContextForLLM(context.Background(), "missing", 1000); err == nil {
		t.Error("missing anchor must error")
	}
}

func TestBuildContextForLLM_NowAnchored(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	now := time.Now().UnixMilli()
	ingestFS(t, s, now-1000, "src/recent.go")
	ingestFS(t, s, now-600_000, "src/old.go")

	// Empty anchor id: the window centers on the current time.
	window, err := s.BuildContextForLLM(context.Background(), "", 60_000)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if window.Anchor != nil {
		t.Errorf("anchor = %+v, want nil", window.Anchor)
	}
	if len(window.Events) != 1 {
		t.Fatalf("window holds %d events, want 1", len(window.Events))
	}
	if window.Events[0].IndexedFields.Files[0] != "src/recent.go" {
		t.Errorf("wrong event in window: %+v", window.Events[0])
	}
	if window.StartMs >= window.EndMs || now < window.StartMs || now > window.EndMs {
		t.Errorf("window [%d, %d] does not bracket now=%d", window.StartMs, window.EndMs, now)
	}
	if window.Summary.TotalEvents != 1 {
		t.Errorf("summary total = %d", window.Summary.TotalEvents)
	}
}

func TestRotateWritesBookkeepingRecord(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	ingestFS(t, s, 1700000001000, "src/a.go")

	archivePath, err := s.RotateNow()
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if archivePath == "" {
		t.Fatal("empty archive path")
	}

	marks, err := s.QueryByType(context.Background(), event.TypeRetentionMark, QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(marks) != 1 {
		t.Fatalf("bookkeeping records = %d, want 1", len(marks))
	}
	if marks[0].Source != event.SourceEngine || marks[0].Category != event.CategoryBookkeeping {
		t.Errorf("bookkeeping record = %+v", marks[0])
	}
}

func TestOperationsAfterClose(t *testing.T) {
	s := openStore(t, testConfig(t))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := s.Ingest(context.Background(), []byte("{}"), event.SourceChat); !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("ingest = %v", err)
	}
	if _, err := s.QueryTemporal(context.Background(), 0, 1, QueryOptions{}); !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("query = %v", err)
	}
	// Idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestStats(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	for i := int64(0); i < 20; i++ {
		ingestFS(t, s, 1700000000000+i, "src/a.go")
	}
	if _, err := s.QueryByFile(context.Background(), "src/a.go", QueryOptions{}); err != nil {
		t.Fatalf("query: %v", err)
	}

	st := s.Stats()
	if st.EventsIngested != 20 || st.LastSeq != 20 {
		t.Errorf("counters = %+v", st)
	}
	if st.QueriesExecuted != 1 {
		t.Errorf("queries = %d", st.QueriesExecuted)
	}
	if st.TemporalEntries != 20 {
		t.Errorf("temporal entries = %d", st.TemporalEntries)
	}
	if st.IngestP50Ms < 0 {
		t.Errorf("latency p50 = %f", st.IngestP50Ms)
	}
	if st.Cache.Count != 20 {
		t.Errorf("cache count = %d", st.Cache.Count)
	}
}

func TestConcurrentIngestAndQuery(t *testing.T) {
	s := openStore(t, testConfig(t))
	defer s.Close()

	h := testutil.NewTestHelper(t)
	for g := 0; g < 4; g++ {
		h.Add(1)
		go func(g int) {
			defer h.Done()
			for i := 0; i < 100; i++ {
				raw := []byte(fmt.Sprintf(
					`{"change_type":"modify","path":"src/g%d/f%d.go","timestamp":%d}`,
					g, i, 1700000000000+int64(i)))
				if _, err := s.Ingest(context.Background(), raw, event.SourceFilesystem); err != nil {
					h.Errorf("ingest: %v", err)
					return
				}
			}
		}(g)
	}
	for q := 0; q < 2; q++ {
		h.Add(1)
		go func() {
			defer h.Done()
			for i := 0; i < 50; i++ {
				if _, err := s.QueryTemporal(context.Background(), 0, 1800000000000, QueryOptions{}); err != nil {
					h.Errorf("query: %v", err)
					return
				}
			}
		}()
	}
	h.Wait()

	events, err := s.QueryTemporal(context.Background(), 0, 1800000000000, QueryOptions{})
	if err != nil {
		t.Fatalf("final query: %v", err)
	}
	if len(events) != 400 {
		t.Errorf("got %d events, want 400", len(events))
	}

	// Every sequence number appears exactly once.
	seen := make(map[int64]bool)
	for _, e := range events {
		if seen[e.Seq] {
			t.Fatalf("sequence %d duplicated", e.Seq)
		}
		seen[e.Seq] = true
	}
}
