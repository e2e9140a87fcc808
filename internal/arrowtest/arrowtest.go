// Package arrowtest builds small Arrow records for tests.
package arrowtest

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
)

// Schema is the schema of records returned by Record: a non-nullable int64
// "id", a nullable utf8 "name" and a float64 "score".
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "score", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// Record returns an n-row record where row i has id=i, name="row-i" and
// score=i*1.5. The caller must Release it.
func Record(mem memory.Allocator, n int) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	ids := b.Field(0).(*array.Int64Builder)
	names := b.Field(1).(*array.StringBuilder)
	scores := b.Field(2).(*array.Float64Builder)
	for i := 0; i < n; i++ {
		ids.Append(int64(i))
		names.Append(fmt.Sprintf("row-%d", i))
		scores.Append(float64(i) * 1.5)
	}
	return b.NewRecord()
}

// IDs returns the "id" column of rec as a slice.
func IDs(rec arrow.Record) []int64 {
	if rec == nil {
		return nil
	}
	col := rec.Column(0).(*array.Int64)
	out := make([]int64, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out
}

// Names returns the "name" column of rec as a slice.
func Names(rec arrow.Record) []string {
	if rec == nil {
		return nil
	}
	col := rec.Column(1).(*array.String)
	out := make([]string, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out
}
