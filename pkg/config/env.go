package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables read by LoadEnv.
const (
	EnvEndpoint       = "ARROWSHIP_ENDPOINT"
	EnvTable          = "ARROWSHIP_TABLE"
	EnvCatalogURL     = "ARROWSHIP_CATALOG_URL"
	EnvClientID       = "ARROWSHIP_CLIENT_ID"
	EnvClientSecret   = "ARROWSHIP_CLIENT_SECRET"
	EnvWriterDisabled = "ARROWSHIP_WRITER_DISABLED"
	EnvDebugEnabled   = "ARROWSHIP_DEBUG_ENABLED"
	EnvDebugOutputDir = "ARROWSHIP_DEBUG_OUTPUT_DIR"
	EnvDebugMaxSizeMB = "ARROWSHIP_DEBUG_MAX_FILE_SIZE_MB"
	EnvMaxAttempts    = "ARROWSHIP_RETRY_MAX_ATTEMPTS"
	EnvBaseDelay      = "ARROWSHIP_RETRY_BASE_DELAY"
	EnvMaxDelay       = "ARROWSHIP_RETRY_MAX_DELAY"
	EnvTransport      = "ARROWSHIP_TRANSPORT"
	EnvTimeout        = "ARROWSHIP_TIMEOUT"
	EnvLogLevel       = "ARROWSHIP_LOG_LEVEL"
)

// LoadEnv builds a Config from ARROWSHIP_* environment variables on top of
// Defaults, then validates it. ARROWSHIP_ENDPOINT and ARROWSHIP_TABLE are
// required; everything else is optional.
func LoadEnv() (*Config, error) {
	return loadEnv(os.LookupEnv)
}

func loadEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var firstErr error
	fail := func(key, v string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("config: %s=%q: %w", key, v, err)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(key, v, err)
				return
			}
			*dst = d
		}
	}

	if _, ok := lookup(EnvEndpoint); !ok {
		return nil, fmt.Errorf("config: %s is required", EnvEndpoint)
	}
	if _, ok := lookup(EnvTable); !ok {
		return nil, fmt.Errorf("config: %s is required", EnvTable)
	}

	str(EnvEndpoint, &cfg.Endpoint)
	str(EnvTable, &cfg.Table)
	str(EnvCatalogURL, &cfg.CatalogURL)
	str(EnvClientID, &cfg.Credentials.ClientID)
	str(EnvClientSecret, &cfg.Credentials.ClientSecret)
	boolean(EnvWriterDisabled, &cfg.WriterDisabled)
	boolean(EnvDebugEnabled, &cfg.Debug.Enabled)
	str(EnvDebugOutputDir, &cfg.Debug.OutputDir)
	integer(EnvDebugMaxSizeMB, &cfg.Debug.MaxFileSizeMB)
	integer(EnvMaxAttempts, &cfg.Retry.MaxAttempts)
	duration(EnvBaseDelay, &cfg.Retry.BaseDelay)
	duration(EnvMaxDelay, &cfg.Retry.MaxDelay)
	str(EnvTransport, &cfg.Transport.Kind)
	duration(EnvTimeout, &cfg.Transport.Timeout)
	str(EnvLogLevel, &cfg.Log.Level)

	if firstErr != nil {
		return nil, firstErr
	}
	if err := Validate(*cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
