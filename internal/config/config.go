// Package config reads the process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the runtime configuration, read once at startup.
type Config struct {
	DBURL      string
	PolicyPath string
	DevMode    bool

	JWTSecret string
	JWTAlg    string
	JWTVerify bool

	APIHost string
	APIPort string

	IdempotencyTTLHours         int
	IdempotencyCleanupInterval time.Duration
}

// Load reads Config from the environment, applying the defaults spec.md
// names for each variable.
func Load() Config {
	cfg := Config{
		DBURL:      envOrDefault("DB_URL", "file:governor.db?_pragma=foreign_keys(1)"),
		PolicyPath: envOrDefault("GOV_POLICY_PATH", "governance/policy.yaml"),
		DevMode:    devMode(),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTAlg:    envOrDefault("JWT_ALG", "HS256"),
		JWTVerify: envBool("JWT_VERIFY", false),

		APIHost: envOrDefault("API_HOST", "0.0.0.0"),
		APIPort: envOrDefault("API_PORT", "8080"),

		IdempotencyTTLHours:        envInt("IDEMPOTENCY_TTL_HOURS", 24),
		IdempotencyCleanupInterval: envDuration("IDEMPOTENCY_CLEANUP_INTERVAL", 10*time.Minute),
	}
	return cfg
}

// devMode mirrors the teacher's fix-mode-violation style env probing:
// DEV_MODE takes precedence; otherwise APP_ENV of "dev"/"development"/"local"
// enables mutating endpoints.
func devMode() bool {
	if v, ok := os.LookupEnv("DEV_MODE"); ok {
		return envBoolValue(v, false)
	}
	switch strings.ToLower(os.Getenv("APP_ENV")) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return envBoolValue(v, def)
}

func envBoolValue(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
