// Package ingesterr defines the closed set of error kinds used by the
// transmission engine and its collaborators.
//
// Process-level failures are *Error values carrying a Kind, a message, an
// optional wrapped cause and a Temporary flag. Retry decisions are made from
// Kind and Temporary via Retryable(), never from message text.
//
// Row-level failures are FailedRow values: a row index plus a Kind and a
// message. They are data, not errors returned to the caller. A FailedRow
// serialises to the "<Kind>: <message>" form at the external boundary
// (String, MarshalJSON) and ParseFailedRow reverses it; rows whose text has no
// recognised prefix parse to KindUnknown.
package ingesterr
