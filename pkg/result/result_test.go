package result

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowship/arrowship/internal/arrowtest"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

func fr(index int, text string) ingesterr.FailedRow {
	return ingesterr.ParseFailedRow(index, text)
}

func mixedResult() *TransmissionResult {
	return Completed(Outcome{
		Successful: []int{5, 6, 7, 8, 9},
		Failed: []ingesterr.FailedRow{
			fr(4, "ConversionError: e"),
			fr(0, "ConversionError: a"),
			fr(1, "TransmissionError: b"),
			fr(2, "ConversionError: c"),
			fr(3, "ConnectionError: d"),
		},
	}, Diagnostics{Attempts: 1, Latency: 12 * time.Millisecond, BatchSizeBytes: 640})
}

func assertCountInvariants(t *testing.T, r *TransmissionResult) {
	t.Helper()
	assert.Equal(t, r.TotalRows(), r.SuccessfulCount()+r.FailedCount())
	assert.Len(t, r.SuccessfulRows(), r.SuccessfulCount())
	assert.Len(t, r.FailedRows(), r.FailedCount())
	assert.Equal(t, r.SuccessfulCount() > 0 && r.FailedCount() > 0, r.IsPartialSuccess())
}

func TestCompleted_AllAccepted(t *testing.T) {
	r := Completed(Outcome{Successful: []int{2, 0, 1}}, Diagnostics{Attempts: 3})
	assertCountInvariants(t, r)

	assert.True(t, r.Success())
	assert.NoError(t, r.Err())
	assert.Empty(t, r.Message())
	assert.Equal(t, 3, r.Attempts())
	assert.Equal(t, []int{0, 1, 2}, r.SuccessfulRowIndices())
	assert.False(t, r.HasFailedRows())
	assert.False(t, r.IsPartialSuccess())
}

func TestCompleted_PartialSuccess(t *testing.T) {
	r := mixedResult()
	assertCountInvariants(t, r)

	assert.True(t, r.Success())
	assert.True(t, r.IsPartialSuccess())
	assert.True(t, r.HasFailedRows())
	assert.True(t, r.HasSuccessfulRows())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.FailedRowIndices())
	assert.Contains(t, r.Message(), "partial success")
}

func TestCompleted_AllRejected(t *testing.T) {
	r := Completed(Outcome{Failed: []ingesterr.FailedRow{fr(0, "TransmissionError: no")}}, Diagnostics{Attempts: 1})
	assertCountInvariants(t, r)

	assert.False(t, r.Success())
	assert.NoError(t, r.Err(), "row rejection is not a process-level error")
	assert.False(t, r.IsPartialSuccess())
	assert.Contains(t, r.Message(), "all 1 rows rejected")
}

func TestCompleted_EmptyBatch(t *testing.T) {
	r := Completed(Outcome{}, Diagnostics{Attempts: 1})
	assertCountInvariants(t, r)

	assert.True(t, r.Success())
	assert.Zero(t, r.TotalRows())
	assert.Empty(t, r.FailedRowIndices())
	assert.Empty(t, r.SuccessfulRowIndices())
}

func TestFailed_CarriesNoRows(t *testing.T) {
	cause := ingesterr.New(ingesterr.KindConnection, "reset")
	err := ingesterr.Wrap(ingesterr.KindRetryExhausted, cause, "all 5 retry attempts exhausted")
	r := Failed(err, Diagnostics{Attempts: 5})
	assertCountInvariants(t, r)

	assert.False(t, r.Success())
	assert.Equal(t, 5, r.Attempts())
	assert.Equal(t, ingesterr.KindRetryExhausted, r.ErrorKind())
	assert.ErrorIs(t, r.Err(), ingesterr.ErrConnection)
	assert.Zero(t, r.TotalRows())
}

func TestAccessors_ReturnCopies(t *testing.T) {
	r := mixedResult()
	rows := r.SuccessfulRows()
	rows[0] = 99
	assert.Equal(t, 5, r.SuccessfulRows()[0])

	failed := r.FailedRows()
	failed[0].Index = 99
	assert.Equal(t, 0, r.FailedRows()[0].Index)
}

// --- Error analysis ---

func TestGroupErrorsByType(t *testing.T) {
	r := mixedResult()
	groups := r.GroupErrorsByType()

	assert.Equal(t, map[string][]int{
		"ConversionError":   {0, 2, 4},
		"TransmissionError": {1},
		"ConnectionError":   {3},
	}, groups)
	assert.Equal(t, []string{"ConnectionError", "ConversionError", "TransmissionError"}, r.ErrorTypes())

	// Grouping is a partition of the failed rows.
	n := 0
	for _, idx := range groups {
		n += len(idx)
	}
	assert.Equal(t, r.FailedCount(), n)
}

func TestGroupErrorsByType_UnknownPrefix(t *testing.T) {
	r := Completed(Outcome{Failed: []ingesterr.FailedRow{
		fr(0, "something odd"),
		fr(1, "ConversionError: bad"),
	}}, Diagnostics{})

	groups := r.GroupErrorsByType()
	assert.Equal(t, []int{0}, groups["Unknown"])
	assert.Equal(t, []int{1}, groups["ConversionError"])
}

func TestFailedRowIndicesByKind(t *testing.T) {
	r := mixedResult()
	assert.Equal(t, []int{0, 2, 4}, r.FailedRowIndicesByKind(ingesterr.KindConversion))
	assert.Equal(t, []int{3}, r.FailedRowIndicesByKind(ingesterr.KindConnection))
	assert.Empty(t, r.FailedRowIndicesByKind(ingesterr.KindAuthentication))
}

func TestErrorMessages(t *testing.T) {
	r := mixedResult()
	assert.Equal(t, []string{
		"ConversionError: a",
		"TransmissionError: b",
		"ConversionError: c",
		"ConnectionError: d",
		"ConversionError: e",
	}, r.ErrorMessages())
}

func TestErrorStatistics(t *testing.T) {
	s := mixedResult().ErrorStatistics()

	assert.Equal(t, 10, s.TotalRows)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)
	assert.InDelta(t, 0.5, s.FailureRate, 1e-9)
	assert.InDelta(t, 1.0, s.SuccessRate+s.FailureRate, 1e-9)
	assert.Equal(t, map[string]int{"ConversionError": 3, "TransmissionError": 1, "ConnectionError": 1}, s.ErrorTypeCounts)
}

func TestErrorStatistics_ZeroRows(t *testing.T) {
	for name, r := range map[string]*TransmissionResult{
		"empty batch": Completed(Outcome{}, Diagnostics{}),
		"failed":      Failed(ingesterr.New(ingesterr.KindAuthentication, "denied"), Diagnostics{Attempts: 1}),
	} {
		t.Run(name, func(t *testing.T) {
			s := r.ErrorStatistics()
			assert.Equal(t, 1.0, s.SuccessRate)
			assert.Equal(t, 0.0, s.FailureRate)
			assert.Empty(t, s.ErrorTypeCounts)
		})
	}
}

// --- Extraction ---

func TestExtract_QuarantineSplit(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := arrowtest.Record(mem, 10)
	defer rec.Release()

	r := Completed(Outcome{
		Successful: []int{0, 2, 4, 5, 6, 8, 9},
		Failed: []ingesterr.FailedRow{
			fr(1, "ConversionError: x"),
			fr(3, "ConversionError: y"),
			fr(7, "TransmissionError: z"),
		},
	}, Diagnostics{Attempts: 1})

	failed, err := r.ExtractFailedBatchWith(mem, rec)
	require.NoError(t, err)
	defer failed.Release()
	ok, err := r.ExtractSuccessfulBatchWith(mem, rec)
	require.NoError(t, err)
	defer ok.Release()

	assert.Equal(t, []int64{1, 3, 7}, arrowtest.IDs(failed))
	assert.Equal(t, []int64{0, 2, 4, 5, 6, 8, 9}, arrowtest.IDs(ok))
	assert.Equal(t, int64(r.TotalRows()), failed.NumRows()+ok.NumRows())
}

func TestExtract_AbsentWhenCountZero(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := arrowtest.Record(mem, 3)
	defer rec.Release()

	r := Completed(Outcome{Successful: []int{0, 1, 2}}, Diagnostics{Attempts: 1})

	failed, err := r.ExtractFailedBatchWith(mem, rec)
	require.NoError(t, err)
	assert.Nil(t, failed)

	ok, err := r.ExtractSuccessfulBatchWith(mem, rec)
	require.NoError(t, err)
	defer ok.Release()
	assert.EqualValues(t, 3, ok.NumRows())
}

func TestExtract_RecordMismatch(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := arrowtest.Record(mem, 4)
	defer rec.Release()

	r := Completed(Outcome{Successful: []int{0, 1}}, Diagnostics{})
	_, err := r.ExtractSuccessfulBatchWith(mem, rec)
	require.Error(t, err)
}

// --- JSON ---

func TestMarshalJSON(t *testing.T) {
	r := Completed(Outcome{
		Successful: []int{0},
		Failed:     []ingesterr.FailedRow{fr(1, "ConversionError: null id")},
	}, Diagnostics{Attempts: 2, Latency: 1500 * time.Millisecond, BatchSizeBytes: 64, RequestID: "req-1"})

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"message": "partial success: 1 of 2 rows rejected",
		"attempts": 2,
		"latency_ms": 1500,
		"batch_size_bytes": 64,
		"request_id": "req-1",
		"total_rows": 2,
		"successful_count": 1,
		"failed_count": 1,
		"successful_rows": [0],
		"failed_rows": [{"index": 1, "error": "ConversionError: null id"}]
	}`, string(data))
}

func TestMarshalJSON_Failed(t *testing.T) {
	r := Failed(ingesterr.New(ingesterr.KindAuthentication, "invalid client"), Diagnostics{Attempts: 1})
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "AuthenticationError", got["error_kind"])
	assert.Equal(t, "AuthenticationError: invalid client", got["error"])
	assert.NotContains(t, got, "failed_rows")
}
