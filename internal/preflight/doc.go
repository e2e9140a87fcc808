// Package preflight checks that the ingestion endpoint is reachable and
// reports on its TLS certificate before any batch is sent.
package preflight
