package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fruitsalade/explorer/internal/metrics"
)

// Cached is a read-through content cache in front of another adapter.
// Writes populate the cache; renames and removals invalidate every cached
// path they touch.
type Cached struct {
	next  Adapter
	cache *lru.Cache[string, string]
}

// NewCached wraps next with an LRU content cache holding up to size files.
func NewCached(next Adapter, size int) (*Cached, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create content cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Unwrap returns the wrapped adapter.
func (c *Cached) Unwrap() Adapter { return c.next }

// Len returns the number of cached files.
func (c *Cached) Len() int { return c.cache.Len() }

func (c *Cached) invalidateTree(dir string) {
	dir = Clean(dir)
	for _, key := range c.cache.Keys() {
		if key == dir || Under(dir, key) {
			c.cache.Remove(key)
		}
	}
}

func (c *Cached) WriteFile(ctx context.Context, path, content string, opts WriteOptions) error {
	path = Clean(path)
	if err := c.next.WriteFile(ctx, path, content, opts); err != nil {
		c.cache.Remove(path)
		return err
	}
	c.cache.Add(path, content)
	return nil
}

func (c *Cached) ReadToString(ctx context.Context, path string) (string, error) {
	path = Clean(path)
	if content, ok := c.cache.Get(path); ok {
		metrics.RecordCacheLookup(true)
		return content, nil
	}
	metrics.RecordCacheLookup(false)

	content, err := c.next.ReadToString(ctx, path)
	if err != nil {
		return "", err
	}
	c.cache.Add(path, content)
	return content, nil
}

func (c *Cached) ReadDir(ctx context.Context, path string) ([]string, error) {
	return c.next.ReadDir(ctx, path)
}

func (c *Cached) Stat(ctx context.Context, path string) (Stat, error) {
	return c.next.Stat(ctx, path)
}

func (c *Cached) Rename(ctx context.Context, oldPath, newPath string) error {
	err := c.next.Rename(ctx, oldPath, newPath)
	c.invalidateTree(oldPath)
	c.invalidateTree(newPath)
	return err
}

func (c *Cached) RemoveFile(ctx context.Context, path string) error {
	err := c.next.RemoveFile(ctx, path)
	c.cache.Remove(Clean(path))
	return err
}

func (c *Cached) RemoveDir(ctx context.Context, path string, opts RemoveOptions) error {
	err := c.next.RemoveDir(ctx, path, opts)
	c.invalidateTree(path)
	return err
}

func (c *Cached) Exists(ctx context.Context, path string) (bool, error) {
	if _, ok := c.cache.Peek(Clean(path)); ok {
		return true, nil
	}
	return c.next.Exists(ctx, path)
}

func (c *Cached) CreateDir(ctx context.Context, path string, recursive bool) error {
	return c.next.CreateDir(ctx, path, recursive)
}

// Walk delegates to the wrapped adapter.
func (c *Cached) Walk(ctx context.Context, dir string) ([]string, error) {
	return Walk(ctx, c.next, dir)
}

func (c *Cached) Type() string { return c.next.Type() }

// Close purges the cache and closes the wrapped adapter.
func (c *Cached) Close() error {
	c.cache.Purge()
	return c.next.Close()
}
