// Package transport sends converted rows to the ingestion service and turns
// its answer into per-row outcomes.
//
// Transport is the engine's only view of the wire. Two implementations exist:
//
//   - HTTPTransport: POST {endpoint}/v1/tables/{table}/rows with a JSON or
//     CBOR body (optionally gzip-compressed), bearer token and X-Request-Id.
//   - GRPCTransport: unary /arrowship.ingest.v1.IngestService/IngestRows
//     carrying google.protobuf.Struct messages, bearer token in metadata.
//
// Request-level failures are returned as *ingesterr.Error values. How HTTP
// statuses and gRPC codes map onto error kinds is pluggable through
// StatusClassifier and CodeClassifier; the defaults are:
//
//	401 / Unauthenticated            AuthenticationError, Temporary
//	403 / PermissionDenied           AuthenticationError
//	408, 429, 5xx / Unavailable,
//	  DeadlineExceeded, Aborted,
//	  ResourceExhausted               ConnectionError
//	400, 413, 422 / InvalidArgument  TransmissionError
//
// A response that omits a row that was sent marks that row rejected with
// TransmissionError "no acknowledgement".
package transport
