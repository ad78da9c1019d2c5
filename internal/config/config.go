// ABOUTME: Configuration loading and parsing for chatwoot-relay
// ABOUTME: Supports YAML files with environment variable expansion, Chatwoot env overlays and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Stream modes
const (
	StreamModeHub  = "hub"
	StreamModePoll = "poll"
)

// Config represents the complete chatwoot-relay configuration
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Chatwoot        ChatwootConfig        `yaml:"chatwoot"`
	Stream          StreamConfig          `yaml:"stream"`
	Cache           CacheConfig           `yaml:"cache"`
	Auth            AuthConfig            `yaml:"auth"`
	RateLimit       RateLimitConfig       `yaml:"ratelimit"`
	EmailValidation EmailValidationConfig `yaml:"email_validation"`
	Logging         LoggingConfig         `yaml:"logging"`
	Metrics         MetricsConfig         `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChatwootConfig holds the remote platform credentials.
type ChatwootConfig struct {
	BaseURL      string `yaml:"base_url"`
	AccountID    string `yaml:"account_id"`
	APIToken     string `yaml:"api_token"`
	WebhookToken string `yaml:"webhook_token"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// Missing returns the names of the credentials needed for privileged API calls
// that are not set, in a stable order.
func (c ChatwootConfig) Missing() []string {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "CHATWOOT_BASE_URL")
	}
	if c.AccountID == "" {
		missing = append(missing, "CHATWOOT_ACCOUNT_ID")
	}
	if c.APIToken == "" {
		missing = append(missing, "CHATWOOT_API_TOKEN")
	}
	return missing
}

// StreamConfig holds SSE lifecycle and polling configuration
type StreamConfig struct {
	// Mode is "hub" (webhook-pushed) or "poll" (standalone polling).
	Mode string `yaml:"mode"`
	// BootstrapPoll runs the poll loops in hub mode until the first webhook
	// for a conversation arrives.
	BootstrapPoll bool `yaml:"bootstrap_poll"`

	Lease               time.Duration `yaml:"-"`
	DrainGrace          time.Duration `yaml:"-"`
	PingInterval        time.Duration `yaml:"-"`
	MessagePollInterval time.Duration `yaml:"-"`
	LabelPollInterval   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	LeaseRaw               string `yaml:"lease"`
	DrainGraceRaw          string `yaml:"drain_grace"`
	PingIntervalRaw        string `yaml:"ping_interval"`
	MessagePollIntervalRaw string `yaml:"message_poll_interval"`
	LabelPollIntervalRaw   string `yaml:"label_poll_interval"`
}

// CacheConfig bounds the process-lifetime lookups
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"-"`
	TTLRaw     string        `yaml:"ttl"`
}

// AuthConfig holds stream token configuration. Stream tokens are disabled
// when the secret is empty.
type AuthConfig struct {
	StreamTokenSecret string        `yaml:"stream_token_secret"`
	StreamTokenTTL    time.Duration `yaml:"-"`
	StreamTokenTTLRaw string        `yaml:"stream_token_ttl"`
}

// RateLimitConfig holds per-client limits for the public POST endpoints.
// A zero RPS disables limiting. TrustProxy keys clients by the hop the
// fronting proxy appended to X-Forwarded-For instead of the peer address;
// enable it only when every request arrives through that proxy.
type RateLimitConfig struct {
	RPS        float64 `yaml:"rps"`
	Burst      int     `yaml:"burst"`
	TrustProxy bool    `yaml:"trust_proxy"`
}

// EmailValidationConfig points at the third-party email validator
type EmailValidationConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every default applied and no file.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "localhost:8080"},
		Database: DatabaseConfig{Path: "relay.db"},
		Chatwoot: ChatwootConfig{RequestTimeout: 30 * time.Second},
		Stream: StreamConfig{
			Mode:                StreamModeHub,
			BootstrapPoll:       true,
			Lease:               280 * time.Second,
			DrainGrace:          250 * time.Millisecond,
			PingInterval:        25 * time.Second,
			MessagePollInterval: 1500 * time.Millisecond,
			LabelPollInterval:   8000 * time.Millisecond,
		},
		Cache: CacheConfig{MaxEntries: 10_000, TTL: 30 * time.Minute},
		Auth:  AuthConfig{StreamTokenTTL: 10 * time.Minute},
		EmailValidation: EmailValidationConfig{
			URL:     "https://rapid-email-verifier.fly.dev",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, the CHATWOOT_*
// variables overlay the file, and unset values fall back to Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	return finish(cfg)
}

// FromEnv builds a configuration from defaults and environment variables only.
// Used when no config file exists, which is the usual container deployment.
func FromEnv() (*Config, error) {
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyEnv overlays well-known environment variables onto the configuration.
// Set variables win over file values.
func (c *Config) ApplyEnv() error {
	overlay := []struct {
		env string
		dst *string
	}{
		{"CHATWOOT_BASE_URL", &c.Chatwoot.BaseURL},
		{"CHATWOOT_ACCOUNT_ID", &c.Chatwoot.AccountID},
		{"CHATWOOT_API_TOKEN", &c.Chatwoot.APIToken},
		{"CHATWOOT_WEBHOOK_TOKEN", &c.Chatwoot.WebhookToken},
		{"RELAY_HTTP_ADDR", &c.Server.HTTPAddr},
		{"RELAY_DB_PATH", &c.Database.Path},
		{"RELAY_STREAM_TOKEN_SECRET", &c.Auth.StreamTokenSecret},
	}
	for _, o := range overlay {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
	c.Chatwoot.BaseURL = strings.TrimRight(c.Chatwoot.BaseURL, "/")

	intervals := []struct {
		env string
		dst *time.Duration
	}{
		{"CHATWOOT_MESSAGE_POLL_INTERVAL_MS", &c.Stream.MessagePollInterval},
		{"CHATWOOT_LABEL_POLL_INTERVAL_MS", &c.Stream.LabelPollInterval},
	}
	for _, iv := range intervals {
		raw := strings.TrimSpace(os.Getenv(iv.env))
		if raw == "" {
			continue
		}
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer number of milliseconds: %w", iv.env, err)
		}
		*iv.dst = time.Duration(ms) * time.Millisecond
	}

	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// Chatwoot credentials are optional here; handlers report them as missing per request.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Stream.Mode {
	case StreamModeHub, StreamModePoll:
	default:
		return fmt.Errorf("stream.mode must be %q or %q, got %q", StreamModeHub, StreamModePoll, c.Stream.Mode)
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"stream.lease", c.Stream.Lease},
		{"stream.ping_interval", c.Stream.PingInterval},
		{"stream.message_poll_interval", c.Stream.MessagePollInterval},
		{"stream.label_poll_interval", c.Stream.LabelPollInterval},
		{"cache.ttl", c.Cache.TTL},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if c.Stream.DrainGrace < 0 || c.Stream.DrainGrace >= c.Stream.Lease {
		return fmt.Errorf("stream.drain_grace must be non-negative and shorter than stream.lease")
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}

	if c.Auth.StreamTokenSecret != "" && len(c.Auth.StreamTokenSecret) < 32 {
		return fmt.Errorf("auth.stream_token_secret must be at least 32 bytes")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
// Empty raw values keep the defaults.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"chatwoot.request_timeout", cfg.Chatwoot.RequestTimeoutRaw, &cfg.Chatwoot.RequestTimeout},
		{"stream.lease", cfg.Stream.LeaseRaw, &cfg.Stream.Lease},
		{"stream.drain_grace", cfg.Stream.DrainGraceRaw, &cfg.Stream.DrainGrace},
		{"stream.ping_interval", cfg.Stream.PingIntervalRaw, &cfg.Stream.PingInterval},
		{"stream.message_poll_interval", cfg.Stream.MessagePollIntervalRaw, &cfg.Stream.MessagePollInterval},
		{"stream.label_poll_interval", cfg.Stream.LabelPollIntervalRaw, &cfg.Stream.LabelPollInterval},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
		{"auth.stream_token_ttl", cfg.Auth.StreamTokenTTLRaw, &cfg.Auth.StreamTokenTTL},
		{"email_validation.timeout", cfg.EmailValidation.TimeoutRaw, &cfg.EmailValidation.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
