package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arrowship/arrowship/internal/convert"
	"github.com/arrowship/arrowship/internal/debugcapture"
	"github.com/arrowship/arrowship/internal/failurerate"
	"github.com/arrowship/arrowship/internal/metrics"
	"github.com/arrowship/arrowship/pkg/auth"
	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/transport"
)

// Engine sends batches for one configuration. It is safe for concurrent use.
type Engine struct {
	cfg config.Config

	transport transport.Transport
	auth      *auth.Manager
	ownsAuth  bool
	capture   *debugcapture.Capture
	metrics   *metrics.Recorder
	tracker   *failurerate.Tracker
	converter convert.Converter

	now   func() time.Time
	newID func() string

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport replaces the transport built from transport.kind.
// The engine takes ownership and closes it on Shutdown.
func WithTransport(t transport.Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithAuth shares an existing token manager. The engine does not close a
// shared manager on Shutdown, and does not count its refreshes: build it
// with auth.WithRefreshHook to record them once for all sharing engines.
func WithAuth(m *auth.Manager) Option {
	return func(e *Engine) { e.auth = m }
}

// WithMetrics records send metrics in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithFailureTracker replaces the tracker built from failure_rate, e.g. to
// share one tracker between engines writing the same table.
func WithFailureTracker(t *failurerate.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithConverter replaces the default row converter.
func WithConverter(c convert.Converter) Option {
	return func(e *Engine) { e.converter = c }
}

// WithClock replaces time.Now for latency and failure-rate windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRequestIDs replaces the request ID generator.
func WithRequestIDs(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New validates cfg and builds an Engine. Configuration problems are
// returned as ConfigurationError.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		tracker: failurerate.New(cfg.FailureRate),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}

	if e.auth == nil {
		m, err := auth.NewManager(cfg, auth.WithRefreshHook(func() { e.metrics.TokenRefresh(1) }))
		if err != nil {
			return nil, err
		}
		e.auth = m
		e.ownsAuth = true
	}

	if !cfg.WriterDisabled && e.transport == nil {
		t, err := transport.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.transport = t
	}

	e.capture = debugcapture.New(cfg.Debug)

	slog.Info("engine: ready",
		"endpoint", cfg.Endpoint,
		"table", cfg.Table,
		"transport", cfg.Transport.Kind,
		"dry_run", cfg.WriterDisabled,
		"debug", cfg.Debug.Enabled,
	)
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config { return e.cfg }

// DryRun reports whether the engine only captures batches.
func (e *Engine) DryRun() bool { return e.cfg.WriterDisabled }

// Shutdown closes the transport and capture files and clears cached tokens
// owned by the engine. Later calls to Send fail. Shutdown is idempotent and
// returns the first call's error.
func (e *Engine) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.closed.Store(true)

		var errs []error
		if e.transport != nil {
			if err := e.transport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close transport: %w", err))
			}
		}
		if err := e.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close debug capture: %w", err))
		}
		if e.ownsAuth {
			e.auth.Close()
		}
		e.shutdownErr = errors.Join(errs...)
		slog.Info("engine: shut down", "table", e.cfg.Table, "err", e.shutdownErr)
	})
	return e.shutdownErr
}
