// Package spool sends Arrow IPC files dropped into a directory and sorts
// their rows into done and quarantine outputs.
//
// Every *.arrows file holds one or more concatenated IPC streams. Each record
// is sent in order through a Sender (normally an *engine.Engine). Accepted
// rows are appended to done/<file>; rejected rows, and whole records whose
// send failed, go to quarantine/<file> together with
// quarantine/<file>.errors.json listing the result of every record. The
// source file is removed once its outputs are written. Unreadable files are
// moved to quarantine unchanged.
//
// Producers should write to a temporary name and rename to *.arrows when the
// file is complete; Run reacts to the Create event the rename produces. Files
// are processed with bounded concurrency, records within a file sequentially.
package spool
