package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one published sample. Readers always see a whole snapshot;
// there is no partial update.
type Snapshot struct {
	Time   time.Time
	Record Record
}

// Store keeps the most recently published record plus the status code of the
// last report attempt. Single writer (the sample loop), many readers.
type Store struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[Snapshot]

	reportStatus atomic.Int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Publish replaces the current snapshot. The record is sanitized on the way
// in, so readers never observe an invariant-violating record.
func (s *Store) Publish(t time.Time, r Record) Snapshot {
	snap := Snapshot{Time: t, Record: r.Sanitize()}
	s.mu.Lock()
	s.snap.Store(&snap)
	s.mu.Unlock()
	return snap
}

// Snapshot returns the current sample, if any has been published.
func (s *Store) Snapshot() (Snapshot, bool) {
	p := s.snap.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}

// SetReportStatus records the HTTP status of the last report attempt.
func (s *Store) SetReportStatus(code int) {
	s.reportStatus.Store(int64(code))
}

// ReportStatus returns the HTTP status of the last report attempt, or zero
// when no report has been sent yet.
func (s *Store) ReportStatus() int {
	return int(s.reportStatus.Load())
}
