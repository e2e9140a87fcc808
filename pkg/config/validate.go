package config

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/arrowship/arrowship/pkg/ingesterr"
)

var tablePart = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate checks cfg and returns the first violated rule as a
// ConfigurationError. Rules are checked in this order:
//
//  1. endpoint is a well-formed https URL
//  2. table is non-empty
//  3. writer_disabled requires debug.enabled
//  4. debug.enabled requires debug.output_dir
//  5. table has one to three dot-separated parts of [A-Za-z0-9_]
//  6. retry.max_attempts >= 1 and 0 < base_delay <= max_delay
//  7. credentials are both set or both empty
//  8. catalog_url, when set, is a well-formed https URL
//  9. transport kind, encoding and timeout are valid
//  10. failure_rate.threshold is in (0, 1] when enabled
func Validate(cfg Config) error {
	if err := checkHTTPS("endpoint", cfg.Endpoint); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return invalid("table is required")
	}
	if cfg.WriterDisabled && !cfg.Debug.Enabled {
		return invalid("writer_disabled requires debug.enabled: a dry run must produce debug output")
	}
	if cfg.Debug.Enabled && strings.TrimSpace(cfg.Debug.OutputDir) == "" {
		return invalid("debug.output_dir is required when debug.enabled is true")
	}

	parts := strings.Split(cfg.Table, ".")
	if len(parts) > 3 {
		return invalid("table %q: expected table, schema.table or catalog.schema.table", cfg.Table)
	}
	for _, p := range parts {
		if !tablePart.MatchString(p) {
			return invalid("table %q: each part must be non-empty ASCII letters, digits or underscores", cfg.Table)
		}
	}

	if cfg.Retry.MaxAttempts < 1 {
		return invalid("retry.max_attempts must be at least 1, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay <= 0 {
		return invalid("retry.base_delay must be positive")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return invalid("retry.max_delay (%v) must not be less than retry.base_delay (%v)",
			cfg.Retry.MaxDelay, cfg.Retry.BaseDelay)
	}

	hasID := cfg.Credentials.ClientID != ""
	hasSecret := cfg.Credentials.Secret() != ""
	if hasID != hasSecret {
		return invalid("credentials.client_id and credentials.client_secret must be set together")
	}

	if cfg.CatalogURL != "" {
		if err := checkHTTPS("catalog_url", cfg.CatalogURL); err != nil {
			return err
		}
	}

	switch cfg.Transport.Kind {
	case TransportHTTP, TransportGRPC:
	default:
		return invalid("transport.kind: unknown kind %q", cfg.Transport.Kind)
	}
	switch cfg.Transport.Encoding {
	case EncodingJSON, EncodingCBOR:
	default:
		return invalid("transport.encoding: unknown encoding %q", cfg.Transport.Encoding)
	}
	if cfg.Transport.Timeout <= 0 {
		return invalid("transport.timeout must be positive")
	}
	if (cfg.Transport.TLS.CertFile == "") != (cfg.Transport.TLS.KeyFile == "") {
		return invalid("transport.tls.cert_file and transport.tls.key_file must be set together")
	}

	if cfg.FailureRate.Enabled {
		if cfg.FailureRate.Threshold <= 0 || cfg.FailureRate.Threshold > 1 {
			return invalid("failure_rate.threshold must be in (0, 1], got %v", cfg.FailureRate.Threshold)
		}
		if cfg.FailureRate.MinRows < 1 || cfg.FailureRate.Window <= 0 || cfg.FailureRate.Cooldown < 0 || cfg.FailureRate.Jitter < 0 {
			return invalid("failure_rate: min_rows and window must be positive, cooldown and jitter non-negative")
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("log.level: unknown level %q", cfg.Log.Level)
	}

	return nil
}

func checkHTTPS(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return invalid("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("%s %q is not a valid URL: %v", field, raw, err)
	}
	if u.Scheme != "https" {
		return invalid("%s must use https, got %q", field, raw)
	}
	if u.Host == "" {
		return invalid("%s %q has no host", field, raw)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return ingesterr.New(ingesterr.KindConfiguration, format, args...)
}
