// Package failurerate pauses sends to a table whose recent rows keep failing
// for network-class reasons.
//
// A Tracker keeps one sliding window per table of rows sent and rows that
// failed with ConnectionError or TransmissionError. Once a window holds at
// least MinRows rows and the failure fraction exceeds Threshold, the table is
// paused for Cooldown plus a random jitter of up to Jitter. Check reports a
// transient ConnectionError while the pause lasts. Windows older than Window
// start over.
//
// Like the rest of the engine state, a Tracker is owned by its caller and is
// safe for concurrent use. All methods accept an explicit time so tests never
// sleep. A nil *Tracker never pauses.
package failurerate
