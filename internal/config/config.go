// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/botdash/internal/discord"
	"github.com/ashureev/botdash/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	DataDir     string
	StoreDriver string
	DBPath      string
	WebDir      string // serve pages from disk instead of the embedded tree
	SetupKey    string
	EnvFile     string
	LegacyToken string // DISCORD_BOT_TOKEN

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	TrialTimeout         time.Duration

	GatewayURL string
	Intents    int

	CookieSecure   bool
	AllowedOrigins []string
	LogLevel       slog.Level
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "3000"),
		DataDir:              getEnv("DATA_DIR", "./data"),
		StoreDriver:          strings.ToLower(getEnv("STORE_DRIVER", store.DriverJSON)),
		DBPath:               getEnv("DB_PATH", "./data/dashboard.db"),
		WebDir:               getEnv("WEB_DIR", ""),
		SetupKey:             getEnv("SETUP_KEY", ""),
		EnvFile:              getEnv("ENV_FILE", ".env"),
		LegacyToken:          strings.TrimSpace(getEnv("DISCORD_BOT_TOKEN", "")),
		SessionTTL:           getEnvDuration("SESSION_TTL", 168*time.Hour),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		TrialTimeout:         getEnvDuration("TRIAL_TIMEOUT", 10*time.Second),
		GatewayURL:           getEnv("DISCORD_GATEWAY_URL", discord.DefaultGatewayURL),
		Intents:              getEnvInt("DISCORD_INTENTS", discord.DefaultIntents),
		CookieSecure:         getEnvBool("COOKIE_SECURE", false),
		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS"),
		LogLevel:             getEnvLevel("LOG_LEVEL", slog.LevelInfo),
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
	switch c.StoreDriver {
	case store.DriverJSON:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR cannot be empty")
		}
	case store.DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", store.DriverJSON, store.DriverSQLite, c.StoreDriver)
	}
	if c.EnvFile == "" {
		return fmt.Errorf("ENV_FILE cannot be empty")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL must be >= 0")
	}
	if c.SessionTTL > 0 && c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.TrialTimeout <= 0 {
		return fmt.Errorf("TRIAL_TIMEOUT must be > 0")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("DISCORD_GATEWAY_URL cannot be empty")
	}
	return nil
}

// SetupEnabled reports whether the legacy token endpoint is usable.
func (c *Config) SetupEnabled() bool {
	return c.SetupKey != ""
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

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
