package batch

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
)

// run is a half-open row range [start, end).
type run struct{ start, end int64 }

// Extract returns the rows of rec at indices, allocating from
// memory.DefaultAllocator.
func Extract(rec arrow.Record, indices []int) (arrow.Record, error) {
	return ExtractWith(memory.DefaultAllocator, rec, indices)
}

// ExtractWith is Extract with an explicit allocator.
func ExtractWith(mem memory.Allocator, rec arrow.Record, indices []int) (arrow.Record, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	runs, err := toRuns(indices, rec.NumRows())
	if err != nil {
		return nil, err
	}

	cols := make([]arrow.Array, rec.NumCols())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()

	for i, col := range rec.Columns() {
		c, err := gather(mem, col, runs)
		if err != nil {
			return nil, fmt.Errorf("batch: column %q: %w", rec.ColumnName(i), err)
		}
		cols[i] = c
	}

	return array.NewRecord(rec.Schema(), cols, int64(len(indices))), nil
}

// toRuns validates indices and collapses them into contiguous ranges.
func toRuns(indices []int, numRows int64) ([]run, error) {
	runs := make([]run, 0, 4)
	prev := -1
	for _, idx := range indices {
		if idx < 0 || int64(idx) >= numRows {
			return nil, fmt.Errorf("batch: row index %d out of range [0, %d)", idx, numRows)
		}
		if idx <= prev {
			return nil, fmt.Errorf("batch: row indices must be strictly ascending (%d after %d)", idx, prev)
		}
		if n := len(runs); n > 0 && runs[n-1].end == int64(idx) {
			runs[n-1].end++
		} else {
			runs = append(runs, run{start: int64(idx), end: int64(idx) + 1})
		}
		prev = idx
	}
	return runs, nil
}

// gather builds one column from runs. A single run is a zero-copy slice.
func gather(mem memory.Allocator, col arrow.Array, runs []run) (arrow.Array, error) {
	if len(runs) == 1 {
		return array.NewSlice(col, runs[0].start, runs[0].end), nil
	}

	parts := make([]arrow.Array, len(runs))
	for i, r := range runs {
		parts[i] = array.NewSlice(col, r.start, r.end)
	}
	defer func() {
		for _, p := range parts {
			p.Release()
		}
	}()

	return array.Concatenate(parts, mem)
}

// SizeBytes returns the total length of every buffer backing rec, including
// child buffers of nested types. Sliced records report the size of the
// buffers they reference, not just the visible rows.
func SizeBytes(rec arrow.Record) int64 {
	if rec == nil {
		return 0
	}
	var n int64
	for _, col := range rec.Columns() {
		n += dataSize(col.Data())
	}
	return n
}

func dataSize(d arrow.ArrayData) int64 {
	if d == nil {
		return 0
	}
	var n int64
	for _, b := range d.Buffers() {
		if b != nil {
			n += int64(b.Len())
		}
	}
	for _, c := range d.Children() {
		n += dataSize(c)
	}
	return n
}
