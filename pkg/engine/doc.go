// Package engine sends Arrow record batches to the ingestion service.
//
// An Engine is built once per configuration with New and used for any number
// of concurrent Send calls. Each Send converts the record to wire rows,
// obtains a token, submits the rows through a transport.Transport and turns
// the per-row answer into a result.TransmissionResult. Shutdown releases the
// transport, debug capture files and cached tokens; it is idempotent.
//
// Send moves through Authenticating, Sending and Evaluating on every attempt.
// ConnectionError and transient AuthenticationError or TokenRefreshError
// failures are retried with exponential backoff between retry.base_delay and
// retry.max_delay, up to retry.max_attempts attempts in total; exhaustion
// yields RetryExhausted wrapping the last error. ConfigurationError,
// ConversionError and permanent failures are returned at once. Each attempt
// runs under its own transport.timeout, and an expired attempt counts as a
// ConnectionError.
//
// Rows rejected by the service are data, not errors: a batch with some
// rejected rows is a successful Send whose result lists them.
//
// With writer_disabled the engine never authenticates or sends. Send then
// only writes debug capture files and reports every convertible row as
// accepted.
package engine
