package convert

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"

	"github.com/arrowship/arrowship/pkg/ingesterr"
	"github.com/arrowship/arrowship/pkg/transport"
)

// DefaultMaxRowBytes is the largest encoded row the service accepts.
const DefaultMaxRowBytes = 4 << 20

// Result is the outcome of converting one record.
type Result struct {
	Rows   []transport.Row
	Failed []ingesterr.FailedRow
}

// Converter converts records. The zero value uses DefaultMaxRowBytes.
type Converter struct {
	// MaxRowBytes caps the JSON-encoded size of a row. Zero means
	// DefaultMaxRowBytes; negative disables the check.
	MaxRowBytes int
}

// Record converts rec with the default Converter.
func Record(rec arrow.Record) (*Result, error) {
	return Converter{}.Record(rec)
}

// Record converts every row of rec. The returned error is a batch-level
// ConversionError; row-level problems are in Result.Failed.
func (c Converter) Record(rec arrow.Record) (*Result, error) {
	schema := rec.Schema()
	for _, f := range schema.Fields() {
		if err := checkType(f.Type, f.Name); err != nil {
			return nil, err
		}
	}

	getters := make([]getter, rec.NumCols())
	for i, col := range rec.Columns() {
		g, err := newGetter(col, schema.Field(i))
		if err != nil {
			return nil, err
		}
		getters[i] = g
	}

	limit := c.MaxRowBytes
	if limit == 0 {
		limit = DefaultMaxRowBytes
	}

	n := int(rec.NumRows())
	res := &Result{Rows: make([]transport.Row, 0, n)}
	for row := 0; row < n; row++ {
		values := make(map[string]any, len(getters))
		var rowErr error
		for i, g := range getters {
			v, err := g(row)
			if err != nil {
				rowErr = fmt.Errorf("field %q: %w", schema.Field(i).Name, err)
				break
			}
			values[schema.Field(i).Name] = v
		}
		if rowErr == nil && limit > 0 {
			rowErr = checkSize(values, limit)
		}
		if rowErr != nil {
			res.Failed = append(res.Failed, ingesterr.NewFailedRow(row, ingesterr.KindConversion, "%v", rowErr))
			continue
		}
		res.Rows = append(res.Rows, transport.Row{Index: row, Values: values})
	}
	return res, nil
}

func checkSize(values map[string]any, limit int) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if len(data) > limit {
		return fmt.Errorf("row size %d bytes exceeds limit of %d bytes", len(data), limit)
	}
	return nil
}

// checkType rejects column types that cannot be encoded.
func checkType(dt arrow.DataType, path string) error {
	switch dt.ID() {
	case arrow.NULL, arrow.BOOL,
		arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT32, arrow.FLOAT64,
		arrow.STRING, arrow.LARGE_STRING,
		arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY,
		arrow.DATE32, arrow.DATE64, arrow.TIMESTAMP:
		return nil
	case arrow.LIST:
		return checkType(dt.(*arrow.ListType).Elem(), path+"[]")
	case arrow.STRUCT:
		for _, f := range dt.(*arrow.StructType).Fields() {
			if err := checkType(f.Type, path+"."+f.Name); err != nil {
				return err
			}
		}
		return nil
	case arrow.DECIMAL128, arrow.DECIMAL256:
		return ingesterr.New(ingesterr.KindConversion, "column %q: decimal types are not supported, cast to float64 or string", path)
	default:
		return ingesterr.New(ingesterr.KindConversion, "column %q: unsupported type %s", path, dt)
	}
}

// getter returns the value at row i of one array.
type getter func(i int) (any, error)

// newGetter wraps arr with null handling for field.
func newGetter(arr arrow.Array, field arrow.Field) (getter, error) {
	value, err := valueGetter(arr)
	if err != nil {
		return nil, err
	}
	nullable := field.Nullable
	return func(i int) (any, error) {
		if arr.IsNull(i) {
			if !nullable {
				return nil, fmt.Errorf("null value in non-nullable field")
			}
			return nil, nil
		}
		return value(i)
	}, nil
}

func valueGetter(arr arrow.Array) (getter, error) {
	switch a := arr.(type) {
	case *array.Null:
		return func(int) (any, error) { return nil, nil }, nil
	case *array.Boolean:
		return func(i int) (any, error) { return a.Value(i), nil }, nil
	case *array.Int8:
		return func(i int) (any, error) { return int64(a.Value(i)), nil }, nil
	case *array.Int16:
		return func(i int) (any, error) { return int64(a.Value(i)), nil }, nil
	case *array.Int32:
		return func(i int) (any, error) { return int64(a.Value(i)), nil }, nil
	case *array.Int64:
		return func(i int) (any, error) { return a.Value(i), nil }, nil
	case *array.Uint8:
		return func(i int) (any, error) { return uint64(a.Value(i)), nil }, nil
	case *array.Uint16:
		return func(i int) (any, error) { return uint64(a.Value(i)), nil }, nil
	case *array.Uint32:
		return func(i int) (any, error) { return uint64(a.Value(i)), nil }, nil
	case *array.Uint64:
		return func(i int) (any, error) { return a.Value(i), nil }, nil
	case *array.Float32:
		return func(i int) (any, error) { return finite(float64(a.Value(i))) }, nil
	case *array.Float64:
		return func(i int) (any, error) { return finite(a.Value(i)) }, nil
	case *array.String:
		return func(i int) (any, error) { return a.Value(i), nil }, nil
	case *array.LargeString:
		return func(i int) (any, error) { return a.Value(i), nil }, nil
	case *array.Binary:
		return func(i int) (any, error) { return base64.StdEncoding.EncodeToString(a.Value(i)), nil }, nil
	case *array.LargeBinary:
		return func(i int) (any, error) { return base64.StdEncoding.EncodeToString(a.Value(i)), nil }, nil
	case *array.FixedSizeBinary:
		return func(i int) (any, error) { return base64.StdEncoding.EncodeToString(a.Value(i)), nil }, nil
	case *array.Date32:
		return func(i int) (any, error) { return a.Value(i).ToTime().Format("2006-01-02"), nil }, nil
	case *array.Date64:
		return func(i int) (any, error) { return a.Value(i).ToTime().Format("2006-01-02"), nil }, nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return func(i int) (any, error) {
			return a.Value(i).ToTime(unit).UTC().Format(time.RFC3339Nano), nil
		}, nil
	case *array.List:
		return listGetter(a)
	case *array.Struct:
		return structGetter(a)
	default:
		return nil, ingesterr.New(ingesterr.KindConversion, "unsupported array type %s", arr.DataType())
	}
}

func listGetter(a *array.List) (getter, error) {
	elemField := a.DataType().(*arrow.ListType).ElemField()
	elem, err := newGetter(a.ListValues(), elemField)
	if err != nil {
		return nil, err
	}
	offsets := a.Offsets()
	base := a.Data().Offset()
	return func(i int) (any, error) {
		start, end := int(offsets[base+i]), int(offsets[base+i+1])
		out := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			v, err := elem(j)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", j-start, err)
			}
			out = append(out, v)
		}
		return out, nil
	}, nil
}

func structGetter(a *array.Struct) (getter, error) {
	st := a.DataType().(*arrow.StructType)
	fields := st.Fields()
	children := make([]getter, len(fields))
	for k, f := range fields {
		g, err := newGetter(a.Field(k), f)
		if err != nil {
			return nil, err
		}
		children[k] = g
	}
	return func(i int) (any, error) {
		out := make(map[string]any, len(children))
		for k, g := range children {
			v, err := g(i)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fields[k].Name, err)
			}
			out[fields[k].Name] = v
		}
		return out, nil
	}, nil
}

func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float %v", f)
	}
	return f, nil
}
