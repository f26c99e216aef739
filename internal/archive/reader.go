package archive

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/devtrail/memindex/internal/event"
)

// Reader reads event rows back from a Parquet archive.
type Reader struct {
	file   *os.File
	reader *parquet.GenericReader[Row]
}

// NewReader opens a Parquet archive for reading.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	return &Reader{
		file:   f,
		reader: parquet.NewGenericReader[Row](pf),
	}, nil
}

// ReadAll reads every row in the file.
func (r *Reader) ReadAll() ([]Row, error) {
	count := r.reader.NumRows()
	if count == 0 {
		return nil, nil
	}

	rows := make([]Row, count)
	read := 0
	for read < int(count) {
		n, err := r.reader.Read(rows[read:])
		read += n
		if err != nil {
			if read == int(count) {
				break
			}
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}
	return rows[:read], nil
}

// NumRows returns the total row count.
func (r *Reader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close releases the reader.
func (r *Reader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("close reader: %w", err)
	}
	return r.file.Close()
}

// ToEvent converts a Parquet row back to a canonical event.
func (row Row) ToEvent() *event.UnifiedEvent {
	typ, err := event.ParseType(row.Type)
	if err != nil {
		typ = event.TypeUnknown
	}
	src, err := event.ParseSource(row.Source)
	if err != nil {
		src = event.SourceEngine
	}
	cat, err := event.ParseCategory(row.Category)
	if err != nil {
		cat = event.CategoryOther
	}
	e := &event.UnifiedEvent{
		ID:           row.ID,
		Seq:          row.Seq,
		Timestamp:    row.Timestamp,
		Type:         typ,
		Source:       src,
		Category:     cat,
		SourceFormat: row.SourceFormat,
	}
	if row.Payload != "" {
		e.Payload = json.RawMessage(row.Payload)
	}

	fields := &event.IndexedFields{
		Files:       decodeList(row.Files),
		Modules:     decodeList(row.Modules),
		Directories: decodeList(row.Directories),
		Keywords:    decodeList(row.Keywords),
	}
	if !fields.Empty() {
		e.IndexedFields = fields
	}
	return e
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil
	}
	return values
}
