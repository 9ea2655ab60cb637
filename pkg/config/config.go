// Package config provides environment-based configuration for the agent gateway.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Journal driver names accepted by Validate.
const (
	JournalDriverSQLite   = "sqlite"
	JournalDriverPostgres = "postgres"
	JournalDriverNone     = "none"
)

// Config holds all configuration for the gateway.
type Config struct {
	// Server configuration
	ListenHost      string
	ListenPort      int
	ShutdownTimeout time.Duration

	// Upstream Agents API
	AgentBaseURL string
	// AgentAPIKey is the configured default credential. It is used only
	// when an inbound call carries no credential at all (single-tenant
	// and local deployments).
	AgentAPIKey  string
	AgentTimeout time.Duration

	// Token sealing
	// TokenSecret seeds the token sealing key. When empty the gateway
	// generates an ephemeral key at startup and previously minted tokens
	// stop working across restarts.
	TokenSecret string
	// TokenTTL is surfaced for deployments that want to plan for token
	// expiry. Decode does not enforce a lifetime yet; the value is
	// accepted and validated but otherwise unused.
	TokenTTL time.Duration

	// APIKeyHeader is the name of the primary direct-key header.
	APIKeyHeader string

	// Encrypted credentials file (optional)
	CredentialsFile string
	// AgeIdentity is the age secret key used to decrypt CredentialsFile.
	// Format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgeIdentity string

	// Poll configures the task watcher used by wait_task and the event streams.
	Poll PollConfig

	// Journal configures the invocation journal.
	Journal JournalConfig
}

// PollConfig holds task polling configuration.
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Timeout     time.Duration
}

// JournalConfig holds invocation journal configuration.
type JournalConfig struct {
	// Driver is one of "sqlite", "postgres" or "none".
	Driver string
	// Path is the sqlite database file (sqlite driver only).
	Path string
	// DSN is the postgres connection string (postgres driver only).
	DSN string
	// Retention is how long invocation rows are kept before purging.
	Retention time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenHost:      getEnv("GATEWAY_HOST", "0.0.0.0"),
		ListenPort:      getIntEnv("GATEWAY_PORT", 8484),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		AgentBaseURL:    getEnv("AGENT_API_URL", "https://agents.narvana.dev"),
		AgentAPIKey:     getEnv("AGENT_API_KEY", ""),
		AgentTimeout:    getDurationEnv("AGENT_TIMEOUT", 60*time.Second),
		TokenSecret:     getEnv("GATEWAY_TOKEN_SECRET", ""),
		TokenTTL:        getDurationEnv("TOKEN_TTL", 30*24*time.Hour),
		APIKeyHeader:    getEnv("API_KEY_HEADER", "X-Api-Key"),
		CredentialsFile: getEnv("CREDENTIALS_FILE", ""),
		AgeIdentity:     getEnv("CREDENTIALS_AGE_IDENTITY", ""),
		Poll: PollConfig{
			Interval:    getDurationEnv("POLL_INTERVAL", 2*time.Second),
			MaxInterval: getDurationEnv("POLL_MAX_INTERVAL", 15*time.Second),
			Timeout:     getDurationEnv("POLL_TIMEOUT", 30*time.Minute),
		},
		Journal: JournalConfig{
			Driver:    getEnv("JOURNAL_DRIVER", JournalDriverSQLite),
			Path:      getEnv("JOURNAL_PATH", defaultJournalPath()),
			DSN:       getEnv("JOURNAL_DSN", ""),
			Retention: getDurationEnv("JOURNAL_RETENTION", 30*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable. An empty
// TokenSecret is valid: the gateway then seals tokens with an ephemeral
// key that dies with the process.
func (c *Config) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("GATEWAY_PORT must be between 1 and 65535, got %d", c.ListenPort)
	}

	u, err := url.Parse(c.AgentBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AGENT_API_URL %q is not a valid URL", c.AgentBaseURL)
	}

	switch c.Journal.Driver {
	case JournalDriverSQLite:
		if c.Journal.Path == "" {
			return fmt.Errorf("JOURNAL_PATH is required for the sqlite journal driver")
		}
	case JournalDriverPostgres:
		if c.Journal.DSN == "" {
			return fmt.Errorf("JOURNAL_DSN is required for the postgres journal driver")
		}
	case JournalDriverNone:
	default:
		return fmt.Errorf("JOURNAL_DRIVER must be sqlite, postgres or none, got %q", c.Journal.Driver)
	}

	if c.CredentialsFile != "" && c.AgeIdentity == "" {
		return fmt.Errorf("CREDENTIALS_AGE_IDENTITY is required when CREDENTIALS_FILE is set")
	}

	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate, useful for testing.
func LoadWithDefaults() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = &Config{
			ListenHost:      "127.0.0.1",
			ListenPort:      8484,
			ShutdownTimeout: 30 * time.Second,
			AgentBaseURL:    "https://agents.narvana.dev",
			AgentTimeout:    60 * time.Second,
			TokenTTL:        30 * 24 * time.Hour,
			APIKeyHeader:    "X-Api-Key",
			Poll: PollConfig{
				Interval:    2 * time.Second,
				MaxInterval: 15 * time.Second,
				Timeout:     30 * time.Minute,
			},
			Journal: JournalConfig{
				Driver:    JournalDriverNone,
				Retention: 30 * 24 * time.Hour,
			},
		}
	}
	return cfg
}

// defaultJournalPath places the sqlite journal under the OS state
// directory, falling back to the working directory when unavailable.
func defaultJournalPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/agent-gateway/journal.db"
	}
	return "agent-gateway-journal.db"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
