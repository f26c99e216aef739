package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devtrail/memindex/internal/config"
	"github.com/devtrail/memindex/internal/event"
)

// fakeWriter satisfies JournalWriter without a real journal.
type fakeWriter struct {
	size    int64
	rotated []string
}

func (f *fakeWriter) Rotate(archivePath string) error {
	f.rotated = append(f.rotated, archivePath)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(archivePath, []byte("{}\n"), 0644); err != nil {
		return err
	}
	f.size = 0
	return nil
}

func (f *fakeWriter) LiveSize() (int64, error) {
	return f.size, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	return cfg
}

// place writes an archive file stamped at ts into a tier directory.
func place(t *testing.T, cfg *config.Config, tier event.Tier, ts time.Time, size int) string {
	t.Helper()
	path := filepath.Join(cfg.TierDir(tier.String()), ArchiveName(ts))
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("place archive: %v", err)
	}
	return path
}

func TestRotateWhenOverSizeLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Hot.MaxSizeMB = 1

	w := &fakeWriter{size: 2 * 1024 * 1024}
	var marks []string
	m := New(cfg, w, func(archivePath string) { marks = append(marks, archivePath) })

	m.CheckOnce(time.Now())

	if len(w.rotated) != 1 {
		t.Fatalf("rotations = %d, want 1", len(w.rotated))
	}
	if filepath.Dir(w.rotated[0]) != cfg.TierDir(event.TierWarm.String()) {
		t.Errorf("rotated into %s, want warm tier", w.rotated[0])
	}
	// Bookkeeping callback fires for every rotation, before purge accounting.
	if len(marks) != 1 || marks[0] != w.rotated[0] {
		t.Errorf("bookkeeping marks = %v", marks)
	}
}

func TestNoRotateUnderLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Hot.MaxSizeMB = 64

	w := &fakeWriter{size: 1024}
	m := New(cfg, w, nil)
	m.CheckOnce(time.Now())

	if len(w.rotated) != 0 {
		t.Errorf("rotations = %d, want 0", len(w.rotated))
	}
}

func TestAgeDemotionChain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Warm.MaxAgeDays = 30

	now := time.Now()
	oldPath := place(t, cfg, event.TierWarm, now.Add(-40*24*time.Hour), 10)
	freshPath := place(t, cfg, event.TierWarm, now.Add(-1*24*time.Hour), 10)

	m := New(cfg, &fakeWriter{}, nil)
	m.CheckOnce(now)

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("expired file must leave the warm tier")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Error("fresh file must stay in the warm tier")
	}

	// Demoted, not deleted: it landed in cold under the same name.
	demoted := filepath.Join(cfg.TierDir(event.TierCold.String()), filepath.Base(oldPath))
	if _, err := os.Stat(demoted); err != nil {
		t.Errorf("demoted file missing from cold tier: %v", err)
	}
}

func TestArchivedTierDeletes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Archived.MaxAgeDays = 365

	now := time.Now()
	ancient := place(t, cfg, event.TierArchived, now.Add(-400*24*time.Hour), 10)

	m := New(cfg, &fakeWriter{}, nil)
	results := m.CheckOnce(now)

	if _, err := os.Stat(ancient); !os.IsNotExist(err) {
		t.Error("expired archived file must be deleted")
	}
	var deleted int
	for _, r := range results {
		deleted += r.FilesDeleted
	}
	if deleted != 1 {
		t.Errorf("deletions = %d", deleted)
	}
}

func TestSizeLimitShedsOldestFirst(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Warm.MaxAgeDays = 0
	cfg.Retention.Warm.MaxSizeMB = 1

	now := time.Now()
	const half = 600 * 1024
	oldest := place(t, cfg, event.TierWarm, now.Add(-3*time.Hour), half)
	middle := place(t, cfg, event.TierWarm, now.Add(-2*time.Hour), half)
	newest := place(t, cfg, event.TierWarm, now.Add(-1*time.Hour), half)

	m := New(cfg, &fakeWriter{}, nil)
	m.CheckOnce(now)

	// 3 x 600KB against a 1MB cap: the two oldest demote.
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("oldest file must be shed")
	}
	if _, err := os.Stat(middle); !os.IsNotExist(err) {
		t.Error("middle file must be shed")
	}
	if _, err := os.Stat(newest); err != nil {
		t.Error("newest file must survive")
	}
}

func TestHotTierNeverCleaned(t *testing.T) {
	cfg := testConfig(t)

	m := New(cfg, &fakeWriter{}, nil)
	results := m.CheckOnce(time.Now())

	for _, r := range results {
		if r.Tier == event.TierHot {
			t.Fatal("hot tier must never appear in cleanup results")
		}
	}
}

func TestArchiveConverter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Cold.MaxAgeDays = 90

	now := time.Now()
	src := place(t, cfg, event.TierCold, now.Add(-100*24*time.Hour), 10)

	var converted []string
	m := New(cfg, &fakeWriter{}, nil)
	m.SetArchiveConverter(func(logPath, destDir string) (string, error) {
		dest := filepath.Join(destDir, "converted.parquet")
		converted = append(converted, logPath)
		return dest, os.WriteFile(dest, []byte("pq"), 0644)
	})

	m.CheckOnce(now)

	if len(converted) != 1 || converted[0] != src {
		t.Fatalf("converter calls = %v", converted)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source journal must be removed after conversion")
	}
	dest := filepath.Join(cfg.TierDir(event.TierArchived.String()), "converted.parquet")
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("converted file missing: %v", err)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Warm.MaxAgeDays = 1

	now := time.Now()
	old := place(t, cfg, event.TierWarm, now.Add(-10*24*time.Hour), 10)

	m := New(cfg, &fakeWriter{}, nil)
	results := m.DryRun(now)

	if _, err := os.Stat(old); err != nil {
		t.Error("dry run must not move files")
	}
	var demoted int
	for _, r := range results {
		demoted += r.FilesDemoted
	}
	if demoted != 1 {
		t.Errorf("dry run demotions = %d, want 1", demoted)
	}
}

func TestParseArchiveTime(t *testing.T) {
	ts := time.Date(2026, 8, 31, 12, 30, 45, 500*int(time.Millisecond), time.UTC)
	name := ArchiveName(ts)

	parsed, err := parseArchiveTime(name)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("parsed %v, want %v", parsed, ts)
	}

	if _, err := parseArchiveTime("random.log"); err == nil {
		t.Error("non-archive names must not parse")
	}
}
