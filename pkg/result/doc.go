// Package result holds the immutable outcome of one Send call and the
// row-level analysis built on it.
//
// A TransmissionResult is created once by the engine, through Completed (the
// service answered with per-row outcomes, or the run was a dry run) or Failed
// (a process-level failure such as exhausted retries), and is read-only
// afterwards. Every result satisfies:
//
//	TotalRows() == SuccessfulCount() + FailedCount()
//	len(SuccessfulRows()) == SuccessfulCount()
//	len(FailedRows()) == FailedCount()
//
// Success() is true when any row was accepted, and also for an empty batch.
// A batch with some rejected rows is a partial success, not an error; the
// rejected rows are data in FailedRows() and can be cut out of the original
// record with ExtractFailedBatch for quarantine.
package result
