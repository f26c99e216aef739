// Package archive exports rotated journal files to Parquet for the archived
// tier. Exports are flat rows readable by any Parquet consumer; list fields
// are carried as JSON strings.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/devtrail/memindex/internal/event"
	"github.com/devtrail/memindex/internal/journal"
)

// Options configures the Parquet export.
type Options struct {
	// Compression algorithm: zstd, snappy, gzip, none.
	Compression string
}

// DefaultOptions returns default export options.
func DefaultOptions() Options {
	return Options{Compression: "zstd"}
}

func codecFor(name string) compress.Codec {
	switch name {
	case "snappy":
		return &parquet.Snappy
	case "gzip":
		return &parquet.Gzip
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Zstd
	}
}

// Row is one event in Parquet form.
type Row struct {
	ID           string `parquet:"id,zstd"`
	Seq          int64  `parquet:"seq"`
	Timestamp    int64  `parquet:"ts"`
	Type         string `parquet:"type,zstd"`
	Source       string `parquet:"source,zstd"`
	Category     string `parquet:"category,zstd"`
	SourceFormat string `parquet:"source_format,optional,zstd"`
	Payload      string `parquet:"payload,optional,zstd"`
	Files        string `parquet:"files,optional,zstd"`
	Modules      string `parquet:"modules,optional,zstd"`
	Directories  string `parquet:"directories,optional,zstd"`
	Keywords     string `parquet:"keywords,optional,zstd"`
}

// ToRow converts a canonical event to its Parquet row.
func ToRow(e *event.UnifiedEvent) Row {
	row := Row{
		ID:           e.ID,
		Seq:          e.Seq,
		Timestamp:    e.Timestamp,
		Type:         e.Type.String(),
		Source:       e.Source.String(),
		Category:     e.Category.String(),
		SourceFormat: e.SourceFormat,
		Payload:      string(e.Payload),
	}
	if f := e.IndexedFields; f != nil {
		row.Files = encodeList(f.Files)
		row.Modules = encodeList(f.Modules)
		row.Directories = encodeList(f.Directories)
		row.Keywords = encodeList(f.Keywords)
	}
	return row
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}

// Writer writes event rows to one Parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[Row]
	rowCount int64
	closed   bool
}

// NewWriter creates a Parquet writer at path.
func NewWriter(path string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	w := parquet.NewGenericWriter[Row](f,
		parquet.Compression(codecFor(opts.Compression)))

	return &Writer{path: path, file: f, writer: w}, nil
}

// Write appends events to the file.
func (w *Writer) Write(events []*event.UnifiedEvent) error {
	if len(events) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("archive writer closed")
	}

	rows := make([]Row, len(events))
	for i, e := range events {
		rows[i] = ToRow(e)
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close finalizes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// ExportResult reports the outcome of one journal-to-Parquet export.
type ExportResult struct {
	Source       string
	Dest         string
	RowsExported int64
	CorruptLines int64
}

// ExportFile converts one rotated journal archive into a Parquet file in the
// destination directory. Corrupt lines are skipped, matching query-path
// behavior. The source file is left untouched; retention handles its
// lifecycle.
func ExportFile(journalPath, destDir string, opts Options) (ExportResult, error) {
	base := filepath.Base(journalPath)
	dest := filepath.Join(destDir, strings.TrimSuffix(base, filepath.Ext(base))+".parquet")

	result := ExportResult{Source: journalPath, Dest: dest}

	w, err := NewWriter(dest, opts)
	if err != nil {
		return result, err
	}

	const batchSize = 1024
	batch := make([]*event.UnifiedEvent, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	var writeErr error
	stats, err := journal.ScanFile(journalPath, func(e *event.UnifiedEvent) bool {
		batch = append(batch, e)
		if len(batch) == batchSize {
			if writeErr = flush(); writeErr != nil {
				return false
			}
		}
		return true
	})
	result.CorruptLines = stats.CorruptLines

	if err == nil && writeErr == nil {
		writeErr = flush()
	}
	if cerr := w.Close(); cerr != nil && err == nil && writeErr == nil {
		err = cerr
	}
	if err == nil {
		err = writeErr
	}
	if err != nil {
		os.Remove(dest)
		return result, err
	}

	result.RowsExported = w.RowCount()
	return result, nil
}
