// Package sandbox is a local implementation of the ingestion service, used by
// tests and by the ingest-sandbox binary for dry runs against a real
// endpoint.
//
// A Service answers both transports: Handler serves
// POST /v1/tables/{table}/rows (JSON or CBOR, optionally gzipped) and the
// OAuth token endpoint /oidc/v1/token, and RegisterGRPC registers IngestRows
// on a gRPC server. Accepted rows are kept in an in-memory Store.
//
// When client credentials are configured, every ingest call needs a bearer
// token issued by the token endpoint; otherwise all calls pass through.
// Rules reject individual rows with a classified reason, and queued Faults
// make whole requests fail, which is how the engine's retry paths are
// exercised end to end.
package sandbox
