// Package batch cuts Arrow records into sub-records by row index.
//
// Extract(rec, indices) returns a new record holding exactly the listed rows,
// in order, with the original schema. Indices must be strictly ascending and
// inside [0, rec.NumRows()). An empty index set returns a nil record and no
// error. Contiguous runs of indices become zero-copy slices; records built
// from several runs are concatenated into fresh buffers from the supplied
// allocator. The caller owns the returned record and must Release it.
//
// SizeBytes reports the buffer footprint of a record, used for the
// batch_size_bytes diagnostic.
//
// EncodeStream and ReadStreams handle files of concatenated Arrow IPC
// streams, one record batch per stream.
package batch
