// Package convert turns Arrow records into wire rows.
//
// Each row becomes a transport.Row whose Values map column names to plain Go
// values: bool, int64, uint64, float64, string (binary as base64, dates as
// 2006-01-02, timestamps as RFC 3339 in UTC), []any for lists and
// map[string]any for structs. Null values in nullable fields become nil.
//
// Problems are reported at two levels. A column type that cannot be encoded
// at all fails the whole batch with a ConversionError before any row is
// touched. Problems confined to one row (a null in a non-nullable field, a
// NaN or infinite float, a row over the size limit) become row-level
// ConversionError entries and the remaining rows are still converted.
package convert
