// Package factory builds a decorated storage adapter from configuration.
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/config"
	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/retry"
	"github.com/fruitsalade/explorer/internal/storage"
	"github.com/fruitsalade/explorer/internal/storage/local"
	"github.com/fruitsalade/explorer/internal/storage/memory"
	s3backend "github.com/fruitsalade/explorer/internal/storage/s3"
	"github.com/fruitsalade/explorer/internal/storage/sqlstore"
)

// NewBackendFromConfig creates a bare adapter from a backend type string and
// JSON config.
func NewBackendFromConfig(ctx context.Context, backendType string, raw json.RawMessage) (storage.Adapter, error) {
	switch backendType {
	case "memory":
		return memory.New(), nil
	case "local":
		return local.NewFromJSON(raw)
	case "s3":
		return s3backend.NewFromJSON(ctx, raw)
	case "postgres":
		return sqlstore.NewFromJSON(ctx, sqlstore.Postgres, raw)
	case "sqlite":
		return sqlstore.NewFromJSON(ctx, sqlstore.SQLite, raw)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}

// backendJSON renders the backend section of cfg in the JSON form each
// backend accepts.
func backendJSON(cfg *config.Config) (json.RawMessage, error) {
	var v any
	switch cfg.StorageBackend {
	case "local":
		v = local.Config{RootPath: cfg.LocalStoragePath, CreateDirs: true}
	case "s3":
		v = s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}
	case "postgres":
		v = sqlstore.Config{DSN: cfg.DatabaseURL}
	case "sqlite":
		v = sqlstore.Config{DSN: cfg.SQLitePath}
	default:
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(v)
}

// New creates the configured backend wrapped with instrumentation, retries
// and (when CacheEntries > 0) a content cache.
func New(ctx context.Context, cfg *config.Config) (storage.Adapter, error) {
	raw, err := backendJSON(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode %s config: %w", cfg.StorageBackend, err)
	}
	base, err := NewBackendFromConfig(ctx, cfg.StorageBackend, raw)
	if err != nil {
		return nil, err
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.RetryAttempts
	var a storage.Adapter = storage.WithRetry(storage.Instrument(base), rc)

	if cfg.CacheEntries > 0 {
		cached, err := storage.NewCached(a, cfg.CacheEntries)
		if err != nil {
			base.Close()
			return nil, err
		}
		a = cached
	}

	logging.Info("storage backend ready",
		zap.String("backend", base.Type()),
		zap.Int("cache_entries", cfg.CacheEntries),
		zap.Int("retry_attempts", cfg.RetryAttempts))
	return a, nil
}
