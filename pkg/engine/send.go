package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/cenkalti/backoff/v4"

	"github.com/arrowship/arrowship/internal/failurerate"
	"github.com/arrowship/arrowship/internal/metrics"
	"github.com/arrowship/arrowship/pkg/batch"
	"github.com/arrowship/arrowship/pkg/ingesterr"
	"github.com/arrowship/arrowship/pkg/result"
	"github.com/arrowship/arrowship/pkg/transport"
)

// Send transmits rec and returns its result. The result is never nil.
//
// The error is non-nil only for process-level failures: configuration or
// conversion problems, permanent rejections of the whole request, exhausted
// retries and cancellation. It is the same error the result carries.
// Rejected rows never produce an error.
func (e *Engine) Send(ctx context.Context, rec arrow.Record) (*result.TransmissionResult, error) {
	start := e.now()
	diag := result.Diagnostics{RequestID: e.newID()}

	fail := func(err *ingesterr.Error) (*result.TransmissionResult, error) {
		diag.Latency = e.now().Sub(start)
		e.metrics.Batch(e.cfg.Table, metrics.OutcomeFailed, 0, 0, diag.Latency)
		slog.Error("engine: send failed",
			"table", e.cfg.Table, "request_id", diag.RequestID,
			"attempts", diag.Attempts, "err", err)
		return result.Failed(err, diag), err
	}

	if e.closed.Load() {
		return fail(ingesterr.New(ingesterr.KindConfiguration, "engine is shut down"))
	}
	if rec == nil {
		diag.Attempts = 1
		return fail(ingesterr.New(ingesterr.KindConversion, "nil record"))
	}
	diag.BatchSizeBytes = batch.SizeBytes(rec)

	e.capture.Batch(e.cfg.Table, rec)

	conv, err := e.converter.Record(rec)
	if err != nil {
		diag.Attempts = 1
		return fail(ingesterr.As(err))
	}
	e.capture.Rows(e.cfg.Table, diag.RequestID, conv.Rows)

	outcome := result.Outcome{Failed: conv.Failed}

	if e.cfg.WriterDisabled {
		for _, r := range conv.Rows {
			outcome.Successful = append(outcome.Successful, r.Index)
		}
		return e.done(outcome, diag, start, metrics.OutcomeDryRun), nil
	}

	if len(conv.Rows) == 0 {
		return e.done(outcome, diag, start, ""), nil
	}

	req := &transport.Request{
		Table:     e.cfg.Table,
		RequestID: diag.RequestID,
		Rows:      conv.Rows,
	}
	resp, attempts, serr := e.sendWithRetry(ctx, req)
	diag.Attempts = attempts
	if serr != nil {
		return fail(serr)
	}

	outcome.Successful = resp.Accepted
	outcome.Failed = append(outcome.Failed, resp.Rejected...)
	return e.done(outcome, diag, start, ""), nil
}

// done builds a completed result and records it. An empty outcome label is
// derived from the row counts.
func (e *Engine) done(o result.Outcome, diag result.Diagnostics, start time.Time, label string) *result.TransmissionResult {
	diag.Latency = e.now().Sub(start)
	res := result.Completed(o, diag)

	if label == "" {
		switch {
		case !res.Success():
			label = metrics.OutcomeFailed
		case res.HasFailedRows():
			label = metrics.OutcomePartial
		default:
			label = metrics.OutcomeSuccess
		}
	}
	e.metrics.Batch(e.cfg.Table, label, res.SuccessfulCount(), res.FailedCount(), diag.Latency)

	level := slog.LevelInfo
	if res.HasFailedRows() {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "engine: batch sent",
		"table", e.cfg.Table,
		"request_id", diag.RequestID,
		"outcome", label,
		"rows", res.TotalRows(),
		"failed", res.FailedCount(),
		"attempts", diag.Attempts,
		"latency", diag.Latency,
	)
	return res
}

// sendWithRetry runs attempts until one produces row outcomes, a failure is
// not retryable, the attempt budget is spent or ctx ends. It returns the
// number of attempts made.
func (e *Engine) sendWithRetry(ctx context.Context, req *transport.Request) (*transport.Response, int, *ingesterr.Error) {
	bo := newBackOff(e.cfg.Retry)
	maxAttempts := e.cfg.Retry.MaxAttempts

	for attempt := 1; ; attempt++ {
		resp, err := e.attempt(ctx, req)
		if err == nil {
			return resp, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, cancelled(ctx)
		}
		if !err.Retryable() {
			return nil, attempt, err
		}

		delay := bo.NextBackOff()
		if attempt >= maxAttempts || delay == backoff.Stop {
			return nil, attempt, &ingesterr.Error{
				Kind:    ingesterr.KindRetryExhausted,
				Message: fmt.Sprintf("all %d retry attempts exhausted, last error", maxAttempts),
				Err:     err,
			}
		}

		e.metrics.Retry(err.Kind.String())
		slog.Warn("engine: attempt failed, retrying",
			"table", req.Table,
			"request_id", req.RequestID,
			"attempt", attempt,
			"retry_in", delay,
			"err", err,
		)
		if serr := sleep(ctx, delay); serr != nil {
			return nil, attempt, cancelled(ctx)
		}
	}
}

func cancelled(ctx context.Context) *ingesterr.Error {
	return ingesterr.Wrap(ingesterr.KindTransmission, ctx.Err(), "transmission cancelled")
}

// attempt is one pass through Authenticating, Sending and Evaluating.
func (e *Engine) attempt(ctx context.Context, req *transport.Request) (*transport.Response, *ingesterr.Error) {
	if err := e.tracker.Check(req.Table, e.now()); err != nil {
		return nil, ingesterr.As(err)
	}

	token, err := e.auth.Acquire(ctx)
	if err != nil {
		return nil, ingesterr.As(err)
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.Transport.Timeout)
	defer cancel()

	sent := *req
	sent.Token = token
	resp, err := e.transport.Ingest(actx, &sent)
	if err != nil {
		ierr := ingesterr.As(err)
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			ierr = ingesterr.Wrap(ingesterr.KindConnection, err, "attempt timed out after %s", e.cfg.Transport.Timeout)
		}
		if ierr.Kind == ingesterr.KindAuthentication && ierr.Temporary && token != "" {
			e.auth.Invalidate(token)
		}
		if failurerate.IsNetworkKind(ierr.Kind) {
			e.recordRate(req.Table, len(req.Rows), len(req.Rows))
		}
		return nil, ierr
	}

	e.recordRate(req.Table, len(req.Rows), failurerate.NetworkFailures(resp.Rejected))
	return resp, nil
}

func (e *Engine) recordRate(table string, sent, failures int) {
	if e.tracker.Record(table, sent, failures, e.now()) {
		e.metrics.Pause(table)
	}
}
