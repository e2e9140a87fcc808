// Package debugcapture writes every attempted batch to local files so a
// failed or dry-run send can be inspected and replayed.
//
// Layout under debug.output_dir:
//
//	arrowship/arrow/<table>.arrows   concatenated Arrow IPC streams, one per batch
//	arrowship/rows/<table>.jsonl     encoded rows, one JSON object per line (debug.rows)
//
// Files rotate by size via lumberjack and keep debug.max_files_retained
// backups. Capture never fails a send: write errors are logged and dropped.
package debugcapture
