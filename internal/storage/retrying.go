package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/metrics"
	"github.com/fruitsalade/explorer/internal/retry"
)

// Retrying retries adapter calls that fail with an error marked by
// retry.Retryable. Other errors are returned immediately.
type Retrying struct {
	next Adapter
	cfg  retry.Config
}

// WithRetry wraps next so transient failures are retried with backoff.
func WithRetry(next Adapter, cfg retry.Config) *Retrying {
	return &Retrying{next: next, cfg: cfg}
}

// Unwrap returns the wrapped adapter.
func (r *Retrying) Unwrap() Adapter { return r.next }

func (r *Retrying) config(op, path string) retry.Config {
	cfg := r.cfg
	cfg.OnRetry = func(attempt int, err error) {
		metrics.RecordStorageRetry(op)
		logging.Warn("retrying storage operation",
			zap.String("backend", r.next.Type()),
			zap.String("op", op),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return cfg
}

func (r *Retrying) WriteFile(ctx context.Context, path, content string, opts WriteOptions) error {
	return retry.Do(ctx, r.config("write_file", path), func() error {
		return r.next.WriteFile(ctx, path, content, opts)
	})
}

func (r *Retrying) ReadToString(ctx context.Context, path string) (string, error) {
	return retry.DoWithResult(ctx, r.config("read_file", path), func() (string, error) {
		return r.next.ReadToString(ctx, path)
	})
}

func (r *Retrying) ReadDir(ctx context.Context, path string) ([]string, error) {
	return retry.DoWithResult(ctx, r.config("read_dir", path), func() ([]string, error) {
		return r.next.ReadDir(ctx, path)
	})
}

func (r *Retrying) Stat(ctx context.Context, path string) (Stat, error) {
	return retry.DoWithResult(ctx, r.config("stat", path), func() (Stat, error) {
		return r.next.Stat(ctx, path)
	})
}

func (r *Retrying) Rename(ctx context.Context, oldPath, newPath string) error {
	return retry.Do(ctx, r.config("rename", oldPath), func() error {
		return r.next.Rename(ctx, oldPath, newPath)
	})
}

func (r *Retrying) RemoveFile(ctx context.Context, path string) error {
	return retry.Do(ctx, r.config("remove_file", path), func() error {
		return r.next.RemoveFile(ctx, path)
	})
}

func (r *Retrying) RemoveDir(ctx context.Context, path string, opts RemoveOptions) error {
	return retry.Do(ctx, r.config("remove_dir", path), func() error {
		return r.next.RemoveDir(ctx, path, opts)
	})
}

func (r *Retrying) Exists(ctx context.Context, path string) (bool, error) {
	return retry.DoWithResult(ctx, r.config("exists", path), func() (bool, error) {
		return r.next.Exists(ctx, path)
	})
}

func (r *Retrying) CreateDir(ctx context.Context, path string, recursive bool) error {
	return retry.Do(ctx, r.config("create_dir", path), func() error {
		return r.next.CreateDir(ctx, path, recursive)
	})
}

func (r *Retrying) Walk(ctx context.Context, dir string) ([]string, error) {
	return retry.DoWithResult(ctx, r.config("walk", dir), func() ([]string, error) {
		return Walk(ctx, r.next, dir)
	})
}

func (r *Retrying) Type() string { return r.next.Type() }

func (r *Retrying) Close() error { return r.next.Close() }
