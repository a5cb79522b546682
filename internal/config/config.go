// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/coordi/internal/store"
)

// Credential store backends.
const (
	CredentialStoreSQLite = store.BackendSQLite
	CredentialStoreMemory = store.BackendMemory
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	APIBaseURL       string // Backend origin serving /api/propose, /api/search/outfit and /api/login
	ImageBaseURL     string // Origin used to resolve relative image URLs; empty = APIBaseURL
	ImageStripPrefix string // Redundant path prefix the backend emits in image URLs
	LoginPath        string
	RequestTimeout   time.Duration
	CredentialStore  string
	CredentialDBPath string
	SessionIdleTTL   time.Duration
	RateLimit        RateLimitConfig
	ConversationLog  ConversationLogConfig
}

// RateLimitConfig bounds how fast a single dialogue session may submit turns.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled    bool
	Dir        string
	QueueSize  int
	MaxSizeMB  int
	MaxBackups int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		APIBaseURL:       strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:5000"), "/"),
		ImageBaseURL:     strings.TrimRight(getEnv("IMAGE_BASE_URL", ""), "/"),
		ImageStripPrefix: getEnv("IMAGE_STRIP_PREFIX", ""),
		LoginPath:        getEnv("LOGIN_PATH", "/login"),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		CredentialStore:  strings.ToLower(getEnv("CREDENTIAL_STORE", CredentialStoreSQLite)),
		CredentialDBPath: getEnv("CREDENTIAL_DB_PATH", "./data/credentials.db"),
		SessionIdleTTL:   getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 5),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:    getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:        getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize:  queueSize,
			MaxSizeMB:  getEnvInt("CONVERSATION_LOG_MAX_SIZE_MB", 10),
			MaxBackups: getEnvInt("CONVERSATION_LOG_MAX_BACKUPS", 5),
		},
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = cfg.APIBaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}
	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.APIBaseURL)
	}
	if c.ImageBaseURL != "" {
		if u, err := url.Parse(c.ImageBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("IMAGE_BASE_URL must be an absolute URL, got %q", c.ImageBaseURL)
		}
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must start with '/'")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	switch c.CredentialStore {
	case CredentialStoreSQLite:
		if c.CredentialDBPath == "" {
			return fmt.Errorf("CREDENTIAL_DB_PATH cannot be empty")
		}
	case CredentialStoreMemory:
	default:
		return fmt.Errorf("CREDENTIAL_STORE must be %q or %q", CredentialStoreSQLite, CredentialStoreMemory)
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins the local server accepts.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
