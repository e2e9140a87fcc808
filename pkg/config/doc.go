// Package config loads, validates and watches the arrowship configuration
// file (arrowship.yaml).
//
// Top-level types:
//   - Config: endpoint, table, catalog_url, credentials, writer_disabled,
//     debug, retry, transport, failure_rate, log
//   - Credentials: OAuth client id plus a secret given inline or via
//     client_secret_env; Secret() resolves from the environment
//   - DebugConfig, RetryConfig, TransportConfig, TLSConfig, FailureRateConfig
//
// Load(path) reads the YAML file, applies defaults (5 attempts, 100ms..30s
// backoff, 30s attempt timeout, http/json transport, 1% failure threshold over
// at least 100 rows), then runs Validate. LoadEnv() builds the same structure
// from ARROWSHIP_* environment variables.
//
// Validate checks rules in a fixed order and returns the first violation as
// an ingesterr ConfigurationError. It has no side effects and may be called
// any number of times.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It re-adds the watch after every
// reload so atomic-save editors (vim, VS Code) keep working.
package config
