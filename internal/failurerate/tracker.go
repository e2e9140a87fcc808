package failurerate

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// Tracker holds per-table failure windows.
type Tracker struct {
	cfg    config.FailureRateConfig
	jitter func(max time.Duration) time.Duration

	mu     sync.Mutex
	tables map[string]*tableState
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithJitter replaces the random jitter source. f receives the configured
// maximum and returns the jitter to add to the cooldown.
func WithJitter(f func(max time.Duration) time.Duration) Option {
	return func(t *Tracker) { t.jitter = f }
}

// New returns a Tracker for cfg, or nil when cfg is disabled.
func New(cfg config.FailureRateConfig, opts ...Option) *Tracker {
	if !cfg.Enabled {
		return nil
	}
	t := &Tracker{
		cfg:    cfg,
		jitter: randomJitter,
		tables: make(map[string]*tableState),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// tableState is one table's current window.
type tableState struct {
	windowStart time.Time
	rows        int
	failures    int
	pausedUntil time.Time
}

func (t *Tracker) stateFor(table string, now time.Time) *tableState {
	st, ok := t.tables[table]
	if !ok {
		st = &tableState{windowStart: now}
		t.tables[table] = st
	}
	if now.Sub(st.windowStart) >= t.cfg.Window {
		st.windowStart = now
		st.rows = 0
		st.failures = 0
	}
	return st
}

// Check returns a transient ConnectionError while table is paused.
func (t *Tracker) Check(table string, now time.Time) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tables[table]
	if !ok || !now.Before(st.pausedUntil) {
		return nil
	}
	return ingesterr.New(ingesterr.KindConnection,
		"table %s paused after high failure rate, resumes in %s", table, st.pausedUntil.Sub(now).Round(time.Millisecond))
}

// PausedUntil reports when the current pause for table ends, if any.
func (t *Tracker) PausedUntil(table string, now time.Time) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.tables[table]
	if !ok || !now.Before(st.pausedUntil) {
		return time.Time{}, false
	}
	return st.pausedUntil, true
}

// Record adds one transmission outcome for table: sent rows, of which
// failures failed for network-class reasons. It returns true when the
// outcome starts a new pause.
func (t *Tracker) Record(table string, sent, failures int, now time.Time) bool {
	if t == nil || sent <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateFor(table, now)
	st.rows += sent
	st.failures += failures

	if st.rows < t.cfg.MinRows || now.Before(st.pausedUntil) {
		return false
	}
	rate := float64(st.failures) / float64(st.rows)
	if rate <= t.cfg.Threshold {
		return false
	}

	pause := t.cfg.Cooldown + t.jitter(t.cfg.Jitter)
	st.pausedUntil = now.Add(pause)
	slog.Warn("failurerate: pausing table",
		"table", table, "rows", st.rows, "failures", st.failures,
		"rate", rate, "pause", pause)

	// The pause consumes the window; the next one starts clean.
	st.windowStart = now
	st.rows = 0
	st.failures = 0
	return true
}

// NetworkFailures counts the rows in failed that count against the window.
func NetworkFailures(failed []ingesterr.FailedRow) int {
	var n int
	for _, r := range failed {
		if IsNetworkKind(r.Kind) {
			n++
		}
	}
	return n
}

// IsNetworkKind reports whether k is a network-class failure.
func IsNetworkKind(k ingesterr.Kind) bool {
	return k == ingesterr.KindConnection || k == ingesterr.KindTransmission
}
