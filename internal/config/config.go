// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all explorer server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage backend ("memory", "local", "s3", "postgres", "sqlite")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// SQL storage
	DatabaseURL string
	SQLitePath  string

	// Storage decorators
	CacheEntries  int // 0 disables the content cache
	RetryAttempts int

	// Auth (optional; empty disables bearer-token checks)
	JWTSecret string

	// Workspace created on first start when the registry is empty ("" = none)
	DefaultWorkspace string
}

// Load reads configuration from a .env file (if present) and environment
// variables with defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		StorageBackend:   strings.ToLower(envOr("STORAGE_BACKEND", "local")),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/explorer"),
		S3Endpoint:       envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:         envOr("S3_BUCKET", "explorer"),
		S3AccessKey:      envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3UseSSL:         envBool("S3_USE_SSL", false),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		SQLitePath:       envOr("SQLITE_PATH", "/data/explorer.db"),
		CacheEntries:     envInt("CACHE_ENTRIES", 512),
		RetryAttempts:    envInt("RETRY_ATTEMPTS", 3),
		JWTSecret:        envOr("JWT_SECRET", ""),
		DefaultWorkspace: envOr("DEFAULT_WORKSPACE", "default"),
	}

	switch cfg.StorageBackend {
	case "memory", "local", "s3", "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
