package api

import (
	"os"
	"time"
)

// ServerConfig is the full replica process configuration, loaded from
// environment variables. Config (embedded) is the part the HTTP server
// itself needs.
type ServerConfig struct {
	Config
	DatabaseURL     string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"
}

// LoadConfig reads configuration from environment variables with sensible
// defaults. REPLICA_JWT_SECRET and REPLICA_PAIR_CODE have no defaults; the
// caller rejects an empty secret.
func LoadConfig() ServerConfig {
	cfg := ServerConfig{
		Config: Config{
			ListenAddr: ":8080",
			TokenTTL:   30 * 24 * time.Hour,
		},
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",
	}

	if v := os.Getenv("REPLICA_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REPLICA_JWT_SECRET"); v != "" {
		cfg.JWTSecret = []byte(v)
	}
	if v := os.Getenv("REPLICA_PAIR_CODE"); v != "" {
		cfg.PairCode = v
	}
	if v := os.Getenv("REPLICA_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TokenTTL = d
		}
	}
	if v := os.Getenv("REPLICA_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("REPLICA_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("REPLICA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}
