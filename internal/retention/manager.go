// Package retention implements log rotation and per-tier retention.
//
// The live journal rotates into the warm tier when it exceeds its size
// limit. Archived files demote warm -> cold -> archived as they age out of a
// tier, and leave the archived tier by deletion. Hot data is never purged.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devtrail/memindex/internal/config"
	"github.com/devtrail/memindex/internal/event"
	"github.com/devtrail/memindex/internal/logging"
)

// archiveStampLayout is embedded in archive file names; name order is
// rotation-time order.
const archiveStampLayout = "20060102T150405.000"

// JournalWriter is the slice of the journal writer the manager drives.
type JournalWriter interface {
	Rotate(archivePath string) error
	LiveSize() (int64, error)
}

// Manager checks retention once at startup and then on a fixed interval,
// driven by the engine's lifecycle.
type Manager struct {
	mu     sync.Mutex
	config *config.Config
	writer JournalWriter

	// onRotate emits the retention bookkeeping record for a completed
	// rotation. It runs before the archived file enters purge accounting.
	onRotate func(archivePath string)

	// convert, when set, transforms a journal file entering the archived
	// tier into columnar form instead of renaming it. It returns the path
	// of the produced file.
	convert func(logPath, destDir string) (string, error)

	log   interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}
	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime   time.Time
	Rotations     int64
	FilesDemoted  int64
	FilesDeleted  int64
	BytesFreed    int64
	FilesSkipped  int64
	Errors        int64
}

// TierResult holds the outcome of one tier's cleanup pass.
type TierResult struct {
	Tier         event.Tier
	FilesDemoted int
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// New creates a retention manager. onRotate may be nil.
func New(cfg *config.Config, writer JournalWriter, onRotate func(archivePath string)) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		config:   cfg,
		writer:   writer,
		onRotate: onRotate,
		log:      logging.Component("retention"),
	}
}

// SetArchiveConverter installs the converter applied to journal files
// entering the archived tier. Must be called before the first cleanup pass.
func (m *Manager) SetArchiveConverter(fn func(logPath, destDir string) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convert = fn
}

// ArchiveName returns the archive file name for a rotation at ts.
func ArchiveName(ts time.Time) string {
	return fmt.Sprintf("events-%s.log", ts.UTC().Format(archiveStampLayout))
}

// CheckOnce runs one full retention pass: rotate the live journal if it is
// over the hot size limit, then clean every purgeable tier. Safe to run
// concurrently with ongoing ingestion.
func (m *Manager) CheckOnce(now time.Time) []TierResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = now

	if err := m.rotateIfNeeded(now); err != nil {
		m.stats.Errors++
		m.log.Warn("rotation check failed", "error", err)
	}

	var results []TierResult
	for _, tier := range event.AllTiers() {
		if !tier.Purgeable() {
			continue
		}
		result := m.cleanupTier(tier, now, false)
		results = append(results, result)

		m.stats.FilesDemoted += int64(result.FilesDemoted)
		m.stats.FilesDeleted += int64(result.FilesDeleted)
		m.stats.BytesFreed += result.BytesFreed
		m.stats.FilesSkipped += int64(result.FilesSkipped)
		m.stats.Errors += int64(len(result.Errors))
	}
	return results
}

// RotateNow forces a rotation regardless of size.
func (m *Manager) RotateNow(now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotate(now)
}

// rotateIfNeeded rotates when the live journal exceeds the hot size limit.
func (m *Manager) rotateIfNeeded(now time.Time) error {
	limit := m.config.Retention.Hot.MaxSizeMB
	if limit <= 0 || m.writer == nil {
		return nil
	}

	size, err := m.writer.LiveSize()
	if err != nil {
		return err
	}
	if size < limit*1024*1024 {
		return nil
	}

	_, err = m.rotate(now)
	return err
}

func (m *Manager) rotate(now time.Time) (string, error) {
	if m.writer == nil {
		return "", fmt.Errorf("no journal writer attached")
	}

	archivePath := filepath.Join(m.config.TierDir(event.TierWarm.String()), ArchiveName(now))
	if err := m.writer.Rotate(archivePath); err != nil {
		return "", fmt.Errorf("rotate journal: %w", err)
	}
	m.stats.Rotations++
	m.log.Info("journal rotated", "archive", archivePath)

	// Bookkeeping before the archive enters purge accounting.
	if m.onRotate != nil {
		m.onRotate(archivePath)
	}
	return archivePath, nil
}

// DryRun simulates cleanup of every purgeable tier without touching files.
func (m *Manager) DryRun(now time.Time) []TierResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []TierResult
	for _, tier := range event.AllTiers() {
		if !tier.Purgeable() {
			continue
		}
		results = append(results, m.cleanupTier(tier, now, true))
	}
	return results
}

// cleanupTier demotes or deletes expired files in one tier, then enforces
// the tier size limit oldest-first.
func (m *Manager) cleanupTier(tier event.Tier, now time.Time, dryRun bool) TierResult {
	result := TierResult{Tier: tier}

	limits := m.config.Retention.Limits(tier.String())
	tierDir := m.config.TierDir(tier.String())

	files, err := listArchiveFiles(tierDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list %s: %w", tierDir, err))
		}
		return result
	}

	var cutoff time.Time
	if limits.MaxAgeDays > 0 {
		cutoff = now.Add(-time.Duration(limits.MaxAgeDays) * 24 * time.Hour)
	}

	var kept []archiveFile
	for _, file := range files {
		stamp, err := parseArchiveTime(file.name)
		if err != nil {
			result.FilesSkipped++
			continue
		}

		if cutoff.IsZero() || stamp.After(cutoff) {
			kept = append(kept, file)
			continue
		}

		if err := m.expire(tier, file, dryRun, &result); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	// Size limit: shed oldest first until the tier fits.
	if limits.MaxSizeMB > 0 {
		maxBytes := limits.MaxSizeMB * 1024 * 1024
		var total int64
		for _, f := range kept {
			total += f.size
		}
		for i := 0; total > maxBytes && i < len(kept); i++ {
			if err := m.expire(tier, kept[i], dryRun, &result); err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			total -= kept[i].size
		}
	}

	return result
}

// expire moves a file to the next tier, or deletes it from the terminal
// tier. Demoted files keep their name, preserving rotation-time ordering.
func (m *Manager) expire(tier event.Tier, file archiveFile, dryRun bool, result *TierResult) error {
	next := tier.Next()

	if next == tier || tier == event.TierArchived {
		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				return fmt.Errorf("delete %s: %w", file.path, err)
			}
		}
		result.FilesDeleted++
		result.BytesFreed += file.size
		return nil
	}

	destDir := m.config.TierDir(next.String())
	dest := filepath.Join(destDir, file.name)
	if !dryRun {
		if err := os.MkdirAll(destDir, 0755); err != nil {
			return fmt.Errorf("create %s tier dir: %w", next, err)
		}
		if next == event.TierArchived && m.convert != nil && filepath.Ext(file.name) == ".log" {
			converted, err := m.convert(file.path, destDir)
			if err != nil {
				return fmt.Errorf("archive %s: %w", file.path, err)
			}
			if err := os.Remove(file.path); err != nil {
				return fmt.Errorf("remove archived source %s: %w", file.path, err)
			}
			m.log.Info("journal archived", "source", file.path, "dest", converted)
			result.FilesDemoted++
			result.BytesFreed += file.size
			return nil
		}
		if err := os.Rename(file.path, dest); err != nil {
			return fmt.Errorf("demote %s: %w", file.path, err)
		}
	}
	result.FilesDemoted++
	result.BytesFreed += file.size
	return nil
}

// archiveFile holds information about one archived file.
type archiveFile struct {
	name string
	path string
	size int64
}

// listArchiveFiles lists archive files in a tier directory, oldest first.
func listArchiveFiles(dir string) ([]archiveFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []archiveFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch filepath.Ext(name) {
		case ".log", ".parquet":
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, archiveFile{
			name: name,
			path: filepath.Join(dir, name),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})
	return files, nil
}

// parseArchiveTime extracts the rotation timestamp from an archive name.
func parseArchiveTime(name string) (time.Time, error) {
	base := name[:len(name)-len(filepath.Ext(name))]
	stamp, ok := strings.CutPrefix(base, "events-")
	if !ok {
		return time.Time{}, fmt.Errorf("not an archive name: %s", name)
	}
	return time.Parse(archiveStampLayout, stamp)
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// DiskUsage holds per-tier disk usage.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// GetDiskUsage returns disk usage for each purgeable tier.
func (m *Manager) GetDiskUsage() map[event.Tier]DiskUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := make(map[event.Tier]DiskUsage)
	for _, tier := range event.AllTiers() {
		if !tier.Purgeable() {
			continue
		}
		files, err := listArchiveFiles(m.config.TierDir(tier.String()))
		if err != nil {
			continue
		}
		var total int64
		for _, f := range files {
			total += f.size
		}
		usage[tier] = DiskUsage{FileCount: len(files), TotalSize: total}
	}
	return usage
}
