package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/metrics"
)

// Instrumented records latency and outcome of every adapter call.
type Instrumented struct {
	next Adapter
}

// Instrument wraps next with Prometheus metrics and debug logging.
func Instrument(next Adapter) *Instrumented {
	return &Instrumented{next: next}
}

// Unwrap returns the wrapped adapter.
func (i *Instrumented) Unwrap() Adapter { return i.next }

func (i *Instrumented) observe(op, path string, start time.Time, err error) {
	d := time.Since(start)
	// a missing path is an answer, not a backend failure
	ok := err == nil || errors.Is(err, ErrNotExist)
	metrics.RecordStorageOperation(i.next.Type(), op, d, ok)
	if err != nil && !ok {
		logging.Warn("storage operation failed",
			zap.String("backend", i.next.Type()),
			zap.String("op", op),
			zap.String("path", path),
			zap.Duration("duration", d),
			zap.Error(err))
		return
	}
	logging.Debug("storage operation",
		zap.String("backend", i.next.Type()),
		zap.String("op", op),
		zap.String("path", path),
		zap.Duration("duration", d))
}

func (i *Instrumented) WriteFile(ctx context.Context, path, content string, opts WriteOptions) error {
	start := time.Now()
	err := i.next.WriteFile(ctx, path, content, opts)
	i.observe("write_file", path, start, err)
	return err
}

func (i *Instrumented) ReadToString(ctx context.Context, path string) (string, error) {
	start := time.Now()
	content, err := i.next.ReadToString(ctx, path)
	i.observe("read_file", path, start, err)
	return content, err
}

func (i *Instrumented) ReadDir(ctx context.Context, path string) ([]string, error) {
	start := time.Now()
	names, err := i.next.ReadDir(ctx, path)
	i.observe("read_dir", path, start, err)
	return names, err
}

func (i *Instrumented) Stat(ctx context.Context, path string) (Stat, error) {
	start := time.Now()
	st, err := i.next.Stat(ctx, path)
	i.observe("stat", path, start, err)
	return st, err
}

func (i *Instrumented) Rename(ctx context.Context, oldPath, newPath string) error {
	start := time.Now()
	err := i.next.Rename(ctx, oldPath, newPath)
	i.observe("rename", oldPath, start, err)
	return err
}

func (i *Instrumented) RemoveFile(ctx context.Context, path string) error {
	start := time.Now()
	err := i.next.RemoveFile(ctx, path)
	i.observe("remove_file", path, start, err)
	return err
}

func (i *Instrumented) RemoveDir(ctx context.Context, path string, opts RemoveOptions) error {
	start := time.Now()
	err := i.next.RemoveDir(ctx, path, opts)
	i.observe("remove_dir", path, start, err)
	return err
}

func (i *Instrumented) Exists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, path)
	i.observe("exists", path, start, err)
	return ok, err
}

func (i *Instrumented) CreateDir(ctx context.Context, path string, recursive bool) error {
	start := time.Now()
	err := i.next.CreateDir(ctx, path, recursive)
	i.observe("create_dir", path, start, err)
	return err
}

func (i *Instrumented) Walk(ctx context.Context, dir string) ([]string, error) {
	start := time.Now()
	paths, err := Walk(ctx, i.next, dir)
	i.observe("walk", dir, start, err)
	return paths, err
}

func (i *Instrumented) Type() string { return i.next.Type() }

func (i *Instrumented) Close() error { return i.next.Close() }
