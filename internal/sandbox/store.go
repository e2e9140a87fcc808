package sandbox

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arrowship/arrowship/pkg/transport"
)

// Batch is one stored submission.
type Batch struct {
	RequestID  string
	Table      string
	Rows       []transport.Row
	ReceivedAt time.Time
}

// Store is a thread-safe in-memory row store keyed by table. Submissions are
// deduplicated by request ID so a retried request is stored once. A
// background goroutine (Run) evicts batches older than the retention.
type Store struct {
	mu        sync.RWMutex
	tables    map[string][]*Batch
	seen      map[string]struct{}
	retention time.Duration
	now       func() time.Time
}

// NewStore creates a Store. A zero retention keeps batches forever.
func NewStore(retention time.Duration) *Store {
	return &Store{
		tables:    make(map[string][]*Batch),
		seen:      make(map[string]struct{}),
		retention: retention,
		now:       time.Now,
	}
}

// Put stores rows for table. It returns false when requestID was already
// stored for table.
func (s *Store) Put(table, requestID string, rows []transport.Row) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requestID != "" {
		key := table + "\x00" + requestID
		if _, dup := s.seen[key]; dup {
			return false
		}
		s.seen[key] = struct{}{}
	}
	s.tables[table] = append(s.tables[table], &Batch{
		RequestID:  requestID,
		Table:      table,
		Rows:       rows,
		ReceivedAt: s.now(),
	})
	return true
}

// Batches returns the stored batches for table in arrival order.
func (s *Store) Batches(table string) []*Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Batch(nil), s.tables[table]...)
}

// Rows returns every stored row for table in arrival order.
func (s *Store) Rows(table string) []transport.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []transport.Row
	for _, b := range s.tables[table] {
		out = append(out, b.Rows...)
	}
	return out
}

// Count returns the number of stored rows for table.
func (s *Store) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, b := range s.tables[table] {
		n += len(b.Rows)
	}
	return n
}

// Tables returns the names of tables holding data, sorted.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables))
	for t := range s.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Reset drops everything.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string][]*Batch)
	s.seen = make(map[string]struct{})
}

// Evict removes batches received at or before now minus the retention and
// returns how many were removed.
func (s *Store) Evict(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.retention)
	removed := 0
	for table, batches := range s.tables {
		kept := batches[:0]
		for _, b := range batches {
			if b.ReceivedAt.After(cutoff) {
				kept = append(kept, b)
				continue
			}
			delete(s.seen, table+"\x00"+b.RequestID)
			removed++
		}
		if len(kept) == 0 {
			delete(s.tables, table)
		} else {
			s.tables[table] = kept
		}
	}
	return removed
}

// Run evicts expired batches at half the retention interval (minimum one
// second) until ctx is cancelled. It returns at once when retention is zero.
func (s *Store) Run(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	interval := s.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("sandbox: evicted stale batches", "count", n)
			}
		}
	}
}
