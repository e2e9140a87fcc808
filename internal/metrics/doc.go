// Package metrics records transmission metrics in a Prometheus registry.
//
// Each Recorder owns its registry, so several engines in one process never
// collide. Methods on a nil *Recorder are no-ops, which lets callers that do
// not care about metrics pass nothing.
//
// Dump writes the registry in the Prometheus text exposition format, and
// Parse reads it back into metric families.
package metrics
