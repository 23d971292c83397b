package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig holds per-provider connection settings.
type ProviderConfig struct {
	BinanceBaseURL string
	MEXCBaseURL    string

	// IG-style stateful provider. Credentials must all be present for the
	// adapter to authenticate.
	IGBaseURL     string
	IGUsername    string
	IGPassword    string
	IGAPIKey      string
	IGAccountType string // DEMO or LIVE

	Timeout         time.Duration // per-call timeout for stateless providers
	StatefulTimeout time.Duration // shorter timeout for the stateful provider
	BatchSpacing    time.Duration // mandatory spacing between stateful batch calls
}

// HealthConfig holds circuit-breaker thresholds for the health registry.
type HealthConfig struct {
	DegradedThreshold    int
	UnavailableThreshold int
	CooldownBase         time.Duration
	CooldownMax          time.Duration
}

// SessionConfig holds renewal policy for the stateful provider session.
type SessionConfig struct {
	RefreshMargin  time.Duration // renew this long before expiry
	MaxAuthRetries uint64        // transient-failure retries per renewal
}

// NotifyConfig holds the fire-and-forget notifier settings.
type NotifyConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

type Config struct {
	RedisURL string
	// DatabaseURL is optional; without it the symbol metadata store is
	// disabled and resolution falls back to pure normalization.
	DatabaseURL string
	HTTPPort    int

	Provider ProviderConfig
	Health   HealthConfig
	Session  SessionConfig
	Notify   NotifyConfig
}

// Load reads environment variables and application flags (via a local FlagSet),
// strips out any -test.* flags, and validates required fields.
func Load() (*Config, error) {
	// Build a fresh FlagSet so we don't collide with `go test` flags
	fs := flag.NewFlagSet("config", flag.ContinueOnError)

	var redisURL string
	var httpPort int
	fs.StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "Redis connection URL")
	fs.IntVar(&httpPort, "port", 8001, "HTTP listen port")

	// Filter out any -test.* args before parsing
	var appArgs []string
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			continue
		}
		appArgs = append(appArgs, arg)
	}
	if err := fs.Parse(appArgs); err != nil {
		return nil, err
	}

	cfg := &Config{
		RedisURL:    redisURL,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPPort:    httpPort,
		Provider: ProviderConfig{
			BinanceBaseURL:  getEnvOrDefault("BINANCE_BASE_URL", "https://api.binance.com/api/v3"),
			MEXCBaseURL:     getEnvOrDefault("MEXC_BASE_URL", "https://api.mexc.com/api/v3"),
			IGBaseURL:       getEnvOrDefault("IG_BASE_URL", "https://api.ig.com/gateway/deal"),
			IGUsername:      os.Getenv("IG_USERNAME"),
			IGPassword:      os.Getenv("IG_PASSWORD"),
			IGAPIKey:        os.Getenv("IG_API_KEY"),
			IGAccountType:   getEnvOrDefault("IG_ACC_TYPE", "LIVE"),
			Timeout:         getDurationEnvOrDefault("PROVIDER_TIMEOUT", 10*time.Second),
			StatefulTimeout: getDurationEnvOrDefault("IG_TIMEOUT", 8*time.Second),
			BatchSpacing:    getDurationEnvOrDefault("IG_BATCH_SPACING", 250*time.Millisecond),
		},
		Health: HealthConfig{
			DegradedThreshold:    getIntEnvOrDefault("HEALTH_DEGRADED_THRESHOLD", 3),
			UnavailableThreshold: getIntEnvOrDefault("HEALTH_UNAVAILABLE_THRESHOLD", 5),
			CooldownBase:         getDurationEnvOrDefault("HEALTH_COOLDOWN_BASE", 30*time.Second),
			CooldownMax:          getDurationEnvOrDefault("HEALTH_COOLDOWN_MAX", 10*time.Minute),
		},
		Session: SessionConfig{
			RefreshMargin:  getDurationEnvOrDefault("SESSION_REFRESH_MARGIN", 60*time.Second),
			MaxAuthRetries: uint64(getIntEnvOrDefault("SESSION_MAX_AUTH_RETRIES", 4)),
		},
		Notify: NotifyConfig{
			BotToken: os.Getenv("TG_BOT_TOKEN"),
			ChatID:   os.Getenv("TG_CHAT_ID"),
			Enabled:  getBoolEnvOrDefault("TELEGRAM_ENABLED", true),
		},
	}

	// PORT env var overrides flag/default if set
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		if portVal, err := strconv.Atoi(portEnv); err == nil {
			cfg.HTTPPort = portVal
		} else {
			return nil, fmt.Errorf("invalid PORT env var: %v", err)
		}
	}

	// Validate required fields
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("missing required config: REDIS_URL or -redis")
	}
	if cfg.Health.DegradedThreshold <= 0 || cfg.Health.UnavailableThreshold <= cfg.Health.DegradedThreshold {
		return nil, fmt.Errorf("health thresholds must satisfy 0 < degraded < unavailable")
	}

	return cfg, nil
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvOrDefault returns environment variable as int or default
func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getBoolEnvOrDefault returns environment variable as bool or default
func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnvOrDefault returns environment variable as duration or default
func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
