// Package analytics provides SQL queries over Parquet archives.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/devtrail/memindex/internal/config"
	"github.com/devtrail/memindex/internal/event"
)

// Service runs DuckDB queries against the archived tier's Parquet files.
type Service struct {
	mu sync.RWMutex

	config *config.Config
	db     *sql.DB

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// EventQuery defines parameters for querying archived events.
type EventQuery struct {
	StartMs int64
	EndMs   int64
	Type    string
	Source  string
	File    string
	Limit   int
}

// New creates the analytics service backed by an in-memory DuckDB database.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.Analytics.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Analytics.MemoryLimit))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		config: cfg,
		db:     db,
	}, nil
}

// Close closes the service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// archivePattern returns the glob over archived Parquet files, or "" if the
// tier directory holds none yet. DuckDB errors on an empty glob.
func (s *Service) archivePattern() string {
	dir := s.config.TierDir(event.TierArchived.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".parquet" {
			return filepath.Join(dir, "*.parquet")
		}
	}
	return ""
}

// QueryEvents queries archived events matching the given filters, ordered by
// timestamp then sequence.
func (s *Service) QueryEvents(ctx context.Context, q EventQuery) ([]event.UnifiedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := s.archivePattern()
	if pattern == "" {
		return nil, nil
	}

	query := `
		SELECT id, seq, ts, type, source, category, source_format, payload
		FROM read_parquet($1)
		WHERE ts >= $2 AND ts <= $3
	`
	args := []interface{}{pattern, q.StartMs, q.EndMs}

	if q.Type != "" {
		args = append(args, q.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if q.Source != "" {
		args = append(args, q.Source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}
	if q.File != "" {
		// files is a JSON array string; containment check matches the quoted
		// path inside it.
		args = append(args, "%\""+q.File+"\"%")
		query += fmt.Sprintf(" AND files LIKE $%d", len(args))
	}

	query += " ORDER BY ts, seq"

	limit := q.Limit
	if limit <= 0 || (s.config.Analytics.MaxRows > 0 && limit > s.config.Analytics.MaxRows) {
		limit = s.config.Analytics.MaxRows
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query archives: %w", err)
	}
	defer rows.Close()

	results, err := s.scanEvents(rows)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, nil
}

// scanEvents scans rows into UnifiedEvent values.
func (s *Service) scanEvents(rows *sql.Rows) ([]event.UnifiedEvent, error) {
	var results []event.UnifiedEvent

	for rows.Next() {
		var (
			e                 event.UnifiedEvent
			typ, src, cat     string
			sourceFmt, payload sql.NullString
		)

		err := rows.Scan(&e.ID, &e.Seq, &e.Timestamp, &typ, &src, &cat, &sourceFmt, &payload)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if e.Type, err = event.ParseType(typ); err != nil {
			e.Type = event.TypeUnknown
		}
		if e.Source, err = event.ParseSource(src); err != nil {
			e.Source = event.SourceEngine
		}
		if e.Category, err = event.ParseCategory(cat); err != nil {
			e.Category = event.CategoryOther
		}
		if sourceFmt.Valid {
			e.SourceFormat = sourceFmt.String
		}
		if payload.Valid && payload.String != "" {
			e.Payload = []byte(payload.String)
		}

		results = append(results, e)
	}

	return results, rows.Err()
}

// ExecuteSQL executes a raw SQL query. Useful for ad-hoc inspection of the
// archived tier.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}

// GetStats returns query statistics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
