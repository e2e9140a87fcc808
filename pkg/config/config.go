package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = 100 * time.Millisecond
	DefaultMaxDelay         = 30 * time.Second
	DefaultTimeout          = 30 * time.Second
	DefaultMaxFileSizeMB    = 10
	DefaultMaxFilesRetained = 10

	DefaultFailureThreshold = 0.01
	DefaultFailureMinRows   = 100
	DefaultFailureWindow    = 5 * time.Minute
	DefaultFailureCooldown  = 30 * time.Second
	DefaultFailureJitter    = 15 * time.Second
)

// Transport kinds and encodings.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"

	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Config is the full engine configuration. Fields map 1:1 to
// arrowship.example.yaml.
type Config struct {
	// Endpoint is the https base URL of the ingestion service.
	Endpoint string `yaml:"endpoint"`

	// Table is the destination: table, schema.table or catalog.schema.table.
	Table string `yaml:"table"`

	// CatalogURL is the base URL of the OAuth token issuer. Tokens are
	// requested from {catalog_url}/oidc/v1/token.
	CatalogURL string `yaml:"catalog_url"`

	Credentials Credentials `yaml:"credentials"`

	// WriterDisabled turns Send into a dry run: no auth, no network, only
	// debug capture.
	WriterDisabled bool `yaml:"writer_disabled"`

	Debug       DebugConfig       `yaml:"debug"`
	Retry       RetryConfig       `yaml:"retry"`
	Transport   TransportConfig   `yaml:"transport"`
	FailureRate FailureRateConfig `yaml:"failure_rate"`
	Log         LogConfig         `yaml:"log"`
}

// Credentials is an OAuth client-credentials pair.
type Credentials struct {
	ClientID string `yaml:"client_id"`

	// ClientSecret may be given inline; ClientSecretEnv names an environment
	// variable holding it instead and takes precedence when set.
	ClientSecret    string `yaml:"client_secret"`
	ClientSecretEnv string `yaml:"client_secret_env"`
}

// Secret returns the client secret, resolving ClientSecretEnv first.
func (c Credentials) Secret() string {
	if c.ClientSecretEnv != "" {
		if v := os.Getenv(c.ClientSecretEnv); v != "" {
			return v
		}
	}
	return c.ClientSecret
}

// IsSet reports whether both halves of the pair are present.
func (c Credentials) IsSet() bool {
	return c.ClientID != "" && c.Secret() != ""
}

// DebugConfig controls on-disk capture of attempted batches.
type DebugConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`

	// Rows also captures the encoded wire rows as JSON lines.
	Rows bool `yaml:"rows"`

	MaxFileSizeMB    int `yaml:"max_file_size_mb"`
	MaxFilesRetained int `yaml:"max_files_retained"`
}

// RetryConfig bounds the engine's attempt loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// TransportConfig selects and tunes the wire transport.
type TransportConfig struct {
	// Kind is one of: http | grpc.
	Kind string `yaml:"kind"`

	// Encoding is one of: json | cbor. Only used by the http transport.
	Encoding string `yaml:"encoding"`

	// Gzip compresses http request bodies.
	Gzip bool `yaml:"gzip"`

	// Timeout applies to each attempt separately.
	Timeout time.Duration `yaml:"timeout"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig holds client TLS dial options. CertFile and KeyFile together
// enable mTLS.
type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// InsecureSkipVerify disables certificate verification.
	// Only use this against a local sandbox.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// FailureRateConfig configures the per-table failure-rate pause.
type FailureRateConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold float64       `yaml:"threshold"`
	MinRows   int           `yaml:"min_rows"`
	Window    time.Duration `yaml:"window"`
	Cooldown  time.Duration `yaml:"cooldown"`
	Jitter    time.Duration `yaml:"jitter"`
}

// LogConfig holds the log level: debug | info | warn | error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of Defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := Validate(*cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Debug: DebugConfig{
			MaxFileSizeMB:    DefaultMaxFileSizeMB,
			MaxFilesRetained: DefaultMaxFilesRetained,
		},
		Retry: RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBaseDelay,
			MaxDelay:    DefaultMaxDelay,
		},
		Transport: TransportConfig{
			Kind:     TransportHTTP,
			Encoding: EncodingJSON,
			Timeout:  DefaultTimeout,
		},
		FailureRate: FailureRateConfig{
			Threshold: DefaultFailureThreshold,
			MinRows:   DefaultFailureMinRows,
			Window:    DefaultFailureWindow,
			Cooldown:  DefaultFailureCooldown,
			Jitter:    DefaultFailureJitter,
		},
		Log: LogConfig{Level: "info"},
	}
}
