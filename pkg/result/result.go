package result

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// Outcome is the per-row answer to one submission: indices of accepted rows
// and the rejected rows with their reasons.
type Outcome struct {
	Successful []int
	Failed     []ingesterr.FailedRow
}

// Diagnostics describes how a result was reached.
type Diagnostics struct {
	Attempts       int
	Latency        time.Duration
	BatchSizeBytes int64
	RequestID      string
}

// TransmissionResult is the read-only outcome of one Send call.
type TransmissionResult struct {
	success    bool
	message    string
	err        *ingesterr.Error
	diag       Diagnostics
	successful []int
	failed     []ingesterr.FailedRow
}

// Completed builds the result of a submission that produced per-row outcomes.
// Row indices are copied and sorted ascending.
func Completed(o Outcome, d Diagnostics) *TransmissionResult {
	successful := append([]int(nil), o.Successful...)
	sort.Ints(successful)
	failed := append([]ingesterr.FailedRow(nil), o.Failed...)
	sort.SliceStable(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })

	r := &TransmissionResult{
		diag:       d,
		successful: successful,
		failed:     failed,
	}
	total := len(successful) + len(failed)
	r.success = total == 0 || len(successful) > 0

	switch {
	case len(failed) == 0:
	case len(successful) == 0:
		r.message = fmt.Sprintf("all %d rows rejected", total)
	default:
		r.message = fmt.Sprintf("partial success: %d of %d rows rejected", len(failed), total)
	}
	return r
}

// Failed builds the result of a submission that never produced per-row
// outcomes. It carries no row data.
func Failed(err *ingesterr.Error, d Diagnostics) *TransmissionResult {
	r := &TransmissionResult{err: err, diag: d}
	if err != nil {
		r.message = err.Error()
	}
	return r
}

// Success reports whether the submission as a whole is acceptable: at least
// one row was accepted, or the batch was empty.
func (r *TransmissionResult) Success() bool { return r.success }

// Message is a human-readable summary; empty when every row was accepted.
func (r *TransmissionResult) Message() string { return r.message }

// Err returns the process-level failure, or nil.
func (r *TransmissionResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// ErrorKind returns the kind of the process-level failure, or KindUnknown.
func (r *TransmissionResult) ErrorKind() ingesterr.Kind {
	if r.err == nil {
		return ingesterr.KindUnknown
	}
	return r.err.Kind
}

func (r *TransmissionResult) Attempts() int            { return r.diag.Attempts }
func (r *TransmissionResult) Latency() time.Duration   { return r.diag.Latency }
func (r *TransmissionResult) BatchSizeBytes() int64    { return r.diag.BatchSizeBytes }
func (r *TransmissionResult) RequestID() string        { return r.diag.RequestID }
func (r *TransmissionResult) Diagnostics() Diagnostics { return r.diag }
func (r *TransmissionResult) SuccessfulCount() int     { return len(r.successful) }
func (r *TransmissionResult) FailedCount() int         { return len(r.failed) }
func (r *TransmissionResult) TotalRows() int           { return len(r.successful) + len(r.failed) }

// SuccessfulRows returns a copy of the accepted row indices, ascending.
func (r *TransmissionResult) SuccessfulRows() []int {
	return append([]int(nil), r.successful...)
}

// FailedRows returns a copy of the rejected rows, ordered by index.
func (r *TransmissionResult) FailedRows() []ingesterr.FailedRow {
	return append([]ingesterr.FailedRow(nil), r.failed...)
}

type resultJSON struct {
	Success         bool                  `json:"success"`
	Message         string                `json:"message,omitempty"`
	Error           string                `json:"error,omitempty"`
	ErrorKind       string                `json:"error_kind,omitempty"`
	Attempts        int                   `json:"attempts"`
	LatencyMS       int64                 `json:"latency_ms"`
	BatchSizeBytes  int64                 `json:"batch_size_bytes"`
	RequestID       string                `json:"request_id,omitempty"`
	TotalRows       int                   `json:"total_rows"`
	SuccessfulCount int                   `json:"successful_count"`
	FailedCount     int                   `json:"failed_count"`
	SuccessfulRows  []int                 `json:"successful_rows,omitempty"`
	FailedRows      []ingesterr.FailedRow `json:"failed_rows,omitempty"`
}

// MarshalJSON encodes the result with snake_case field names. Failed rows
// use their "<Kind>: <message>" string form.
func (r *TransmissionResult) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Success:         r.success,
		Message:         r.message,
		Attempts:        r.diag.Attempts,
		LatencyMS:       r.diag.Latency.Milliseconds(),
		BatchSizeBytes:  r.diag.BatchSizeBytes,
		RequestID:       r.diag.RequestID,
		TotalRows:       r.TotalRows(),
		SuccessfulCount: r.SuccessfulCount(),
		FailedCount:     r.FailedCount(),
		SuccessfulRows:  r.successful,
		FailedRows:      r.failed,
	}
	if r.err != nil {
		out.Error = r.err.Error()
		out.ErrorKind = r.err.Kind.String()
	}
	return json.Marshal(out)
}
