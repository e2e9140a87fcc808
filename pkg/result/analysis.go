package result

import (
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"

	"github.com/arrowship/arrowship/pkg/batch"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// Statistics summarises a result's row outcomes.
type Statistics struct {
	TotalRows       int            `json:"total_rows"`
	SuccessfulCount int            `json:"successful_count"`
	FailedCount     int            `json:"failed_count"`
	SuccessRate     float64        `json:"success_rate"`
	FailureRate     float64        `json:"failure_rate"`
	ErrorTypeCounts map[string]int `json:"error_type_counts"`
}

// IsPartialSuccess reports whether some rows were accepted and some rejected.
func (r *TransmissionResult) IsPartialSuccess() bool {
	return len(r.successful) > 0 && len(r.failed) > 0
}

func (r *TransmissionResult) HasFailedRows() bool     { return len(r.failed) > 0 }
func (r *TransmissionResult) HasSuccessfulRows() bool { return len(r.successful) > 0 }

// FailedRowIndices returns the rejected row indices in ascending order.
func (r *TransmissionResult) FailedRowIndices() []int {
	out := make([]int, len(r.failed))
	for i, f := range r.failed {
		out[i] = f.Index
	}
	return out
}

// SuccessfulRowIndices returns the accepted row indices in ascending order.
func (r *TransmissionResult) SuccessfulRowIndices() []int {
	return r.SuccessfulRows()
}

// FailedRowIndicesByKind returns the indices of rejected rows of kind k.
func (r *TransmissionResult) FailedRowIndicesByKind(k ingesterr.Kind) []int {
	out := []int{}
	for _, f := range r.failed {
		if f.Kind == k {
			out = append(out, f.Index)
		}
	}
	return out
}

// GroupErrorsByType maps each kind tag ("ConversionError", ...) to the
// ascending indices of rejected rows of that kind. Rows whose reason carried
// no recognised tag are grouped under "Unknown".
func (r *TransmissionResult) GroupErrorsByType() map[string][]int {
	groups := make(map[string][]int)
	for _, f := range r.failed {
		tag := f.Kind.String()
		groups[tag] = append(groups[tag], f.Index)
	}
	return groups
}

// ErrorTypes returns the keys of GroupErrorsByType in sorted order.
func (r *TransmissionResult) ErrorTypes() []string {
	groups := r.GroupErrorsByType()
	out := make([]string, 0, len(groups))
	for tag := range groups {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// ErrorMessages returns "<Kind>: <message>" for every rejected row, in row
// order.
func (r *TransmissionResult) ErrorMessages() []string {
	out := make([]string, len(r.failed))
	for i, f := range r.failed {
		out[i] = f.String()
	}
	return out
}

// ErrorStatistics computes rates and per-kind counts. With zero rows the
// success rate is 1.0 and the failure rate 0.0.
func (r *TransmissionResult) ErrorStatistics() Statistics {
	s := Statistics{
		TotalRows:       r.TotalRows(),
		SuccessfulCount: r.SuccessfulCount(),
		FailedCount:     r.FailedCount(),
		SuccessRate:     1.0,
		FailureRate:     0.0,
		ErrorTypeCounts: make(map[string]int),
	}
	if s.TotalRows > 0 {
		s.SuccessRate = float64(s.SuccessfulCount) / float64(s.TotalRows)
		s.FailureRate = float64(s.FailedCount) / float64(s.TotalRows)
	}
	for tag, rows := range r.GroupErrorsByType() {
		s.ErrorTypeCounts[tag] = len(rows)
	}
	return s
}

// ExtractFailedBatch returns the rejected rows of rec, or nil when there are
// none. rec must be the record the result was produced for. The caller must
// Release the returned record.
func (r *TransmissionResult) ExtractFailedBatch(rec arrow.Record) (arrow.Record, error) {
	return r.ExtractFailedBatchWith(memory.DefaultAllocator, rec)
}

// ExtractSuccessfulBatch is ExtractFailedBatch for accepted rows.
func (r *TransmissionResult) ExtractSuccessfulBatch(rec arrow.Record) (arrow.Record, error) {
	return r.ExtractSuccessfulBatchWith(memory.DefaultAllocator, rec)
}

// ExtractFailedBatchWith is ExtractFailedBatch with an explicit allocator.
func (r *TransmissionResult) ExtractFailedBatchWith(mem memory.Allocator, rec arrow.Record) (arrow.Record, error) {
	if err := r.checkRecord(rec); err != nil {
		return nil, err
	}
	return batch.ExtractWith(mem, rec, r.FailedRowIndices())
}

// ExtractSuccessfulBatchWith is ExtractSuccessfulBatch with an explicit
// allocator.
func (r *TransmissionResult) ExtractSuccessfulBatchWith(mem memory.Allocator, rec arrow.Record) (arrow.Record, error) {
	if err := r.checkRecord(rec); err != nil {
		return nil, err
	}
	return batch.ExtractWith(mem, rec, r.successful)
}

func (r *TransmissionResult) checkRecord(rec arrow.Record) error {
	if r.TotalRows() == 0 {
		return nil
	}
	if rec == nil {
		return fmt.Errorf("result: nil record for a result with %d rows", r.TotalRows())
	}
	if rec.NumRows() != int64(r.TotalRows()) {
		return fmt.Errorf("result: record has %d rows, result covers %d", rec.NumRows(), r.TotalRows())
	}
	return nil
}
