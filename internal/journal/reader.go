package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/devtrail/memindex/internal/event"
)

// maxLineSize bounds a single journal line. Payloads are preserved verbatim,
// so chat transcripts and build output can make lines large.
const maxLineSize = 16 * 1024 * 1024

// ScanStats reports the outcome of a journal scan.
type ScanStats struct {
	LinesRead    int64
	EventsRead   int64
	CorruptLines int64
}

// ScanFile reads a journal file line by line, invoking fn for each decodable
// event. Corrupt or unparsable lines are counted and skipped, never fatal to
// the scan. fn returning false stops early.
func ScanFile(path string, fn func(*event.UnifiedEvent) bool) (ScanStats, error) {
	var stats ScanStats

	f, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	for sc.Scan() {
		stats.LinesRead++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		e, err := event.DecodeLine(line)
		if err != nil {
			stats.CorruptLines++
			continue
		}
		stats.EventsRead++

		if !fn(e) {
			return stats, nil
		}
	}

	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("scan journal %s: %w", path, err)
	}
	return stats, nil
}

// ReadAll reads every decodable event from a journal file in order.
func ReadAll(path string) ([]*event.UnifiedEvent, ScanStats, error) {
	var events []*event.UnifiedEvent
	stats, err := ScanFile(path, func(e *event.UnifiedEvent) bool {
		events = append(events, e)
		return true
	})
	return events, stats, err
}

// TailLastSeq returns the highest sequence number in the file, scanning the
// whole journal. The tail of the durable log is the authoritative source for
// sequence recovery.
func TailLastSeq(path string) (int64, error) {
	var last int64
	_, err := ScanFile(path, func(e *event.UnifiedEvent) bool {
		if e.Seq > last {
			last = e.Seq
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

// ListArchives returns the archived journal files under dir in name order
// (archive names embed their rotation time, so name order is time order).
func ListArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".log" || name == LiveName {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}

	sort.Strings(paths)
	return paths, nil
}
