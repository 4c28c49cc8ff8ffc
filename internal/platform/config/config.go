package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs from the environment.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string

	Registry RegistryConfig
	Audit    AuditConfig

	// AdminJWTKey signs and verifies admin bearer tokens for sync endpoints.
	AdminJWTKey string

	// ConfirmInterval is how often the confirmation poller sweeps.
	ConfirmInterval time.Duration
	// ConfirmCacheTTL bounds how long a pulled registry status is reused.
	ConfirmCacheTTL time.Duration
}

// RegistryConfig configures the Isometric registry adapter and transport.
type RegistryConfig struct {
	BaseURL     string
	APIKey      string
	ProjectID   string
	AutoRetry   bool
	MaxRetries  int
	RetryDelay  time.Duration
	CallTimeout time.Duration
}

// AuditConfig configures the Kafka audit trail. Empty brokers disable it.
type AuditConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:        envOr("CHARLOG_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Registry: RegistryConfig{
			BaseURL:     envOr("ISOMETRIC_BASE_URL", "https://api.isometric.com"),
			APIKey:      os.Getenv("ISOMETRIC_API_KEY"),
			ProjectID:   os.Getenv("ISOMETRIC_PROJECT_ID"),
			AutoRetry:   os.Getenv("ISOMETRIC_AUTO_RETRY") != "false",
			MaxRetries:  envInt("ISOMETRIC_MAX_RETRIES", 2),
			RetryDelay:  envDuration("ISOMETRIC_RETRY_DELAY", 2*time.Second),
			CallTimeout: envDuration("ISOMETRIC_CALL_TIMEOUT", 15*time.Second),
		},
		Audit: AuditConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("AUDIT_TOPIC", "charlog.audit"),
		},
		AdminJWTKey:     os.Getenv("ADMIN_JWT_KEY"),
		ConfirmInterval: envDuration("CONFIRM_INTERVAL", 15*time.Minute),
		ConfirmCacheTTL: envDuration("CONFIRM_CACHE_TTL", 10*time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
