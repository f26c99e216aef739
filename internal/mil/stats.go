package mil

import (
	"github.com/devtrail/memindex/internal/cache"
	"github.com/devtrail/memindex/internal/journal"
	"github.com/devtrail/memindex/internal/retention"
)

// StoreStats is a point-in-time snapshot of the whole engine.
type StoreStats struct {
	LastSeq         int64
	EventsIngested  int64
	IngestFailures  int64
	QueriesExecuted int64

	// Ingest latency percentiles in milliseconds, normalize through cache
	// insert. Zero when no ingest has happened yet.
	IngestP50Ms float64
	IngestP95Ms float64
	IngestP99Ms float64

	TemporalEntries int
	TypeEntries     int
	SpatialKeys     int

	Journal   journal.WriterStats
	Cache     cache.Stats
	Retention retention.Stats
}

// Stats returns current statistics.
func (s *Store) Stats() StoreStats {
	st := StoreStats{
		LastSeq:         s.alloc.Current(),
		EventsIngested:  s.ingested.Load(),
		IngestFailures:  s.ingestFails.Load(),
		QueriesExecuted: s.queries.Load(),
		TemporalEntries: s.temporal.Len(),
		TypeEntries:     s.types.Len(),
		SpatialKeys:     s.spatial.Len(),
		Journal:         s.journal.Stats(),
		Cache:           s.cache.Stats(),
		Retention:       s.retention.Stats(),
	}

	if s.latency != nil {
		s.sketchMu.Lock()
		if p50, err := s.latency.GetValueAtQuantile(0.50); err == nil {
			st.IngestP50Ms = p50
		}
		if p95, err := s.latency.GetValueAtQuantile(0.95); err == nil {
			st.IngestP95Ms = p95
		}
		if p99, err := s.latency.GetValueAtQuantile(0.99); err == nil {
			st.IngestP99Ms = p99
		}
		s.sketchMu.Unlock()
	}
	return st
}
