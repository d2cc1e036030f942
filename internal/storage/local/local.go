// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/fruitsalade/explorer/internal/storage"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
}

// Backend implements storage.Adapter on a directory of the local filesystem.
type Backend struct {
	rootPath string
}

// New creates a new local filesystem backend.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve root path %s: %w", cfg.RootPath, err)
	}
	return &Backend{rootPath: root}, nil
}

// NewFromJSON creates a Backend from raw JSON config.
func NewFromJSON(raw json.RawMessage) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg)
}

// fullPath maps an adapter path below the root. Cleaning it as a rooted path
// first drops ".." segments that would climb out of the root.
func (b *Backend) fullPath(p string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(path.Clean("/"+p)))
}

// WriteFile writes content atomically via a temp file and rename.
func (b *Backend) WriteFile(_ context.Context, path, content string, opts storage.WriteOptions) error {
	full := b.fullPath(path)
	dir := filepath.Dir(full)

	if opts.CreateParents {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", path, err)
		}
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return &fs.PathError{Op: "write", Path: path, Err: storage.ErrIsDir}
	}

	tmp, err := os.CreateTemp(dir, ".explorer-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return nil
}

func (b *Backend) ReadToString(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(b.fullPath(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (b *Backend) ReadDir(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(b.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if isTemp(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (b *Backend) Stat(_ context.Context, path string) (storage.Stat, error) {
	info, err := os.Stat(b.fullPath(path))
	if err != nil {
		return storage.Stat{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return storage.Stat{IsFile: info.Mode().IsRegular(), IsDirectory: info.IsDir()}, nil
}

func (b *Backend) Rename(_ context.Context, oldPath, newPath string) error {
	src, dst := storage.Clean(oldPath), storage.Clean(newPath)
	if src == dst {
		return nil
	}
	if storage.Under(src, dst) {
		return &fs.PathError{Op: "rename", Path: newPath, Err: fs.ErrInvalid}
	}
	info, err := os.Stat(b.fullPath(src))
	if err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	if info.IsDir() {
		if _, err := os.Stat(b.fullPath(dst)); err == nil {
			return &fs.PathError{Op: "rename", Path: newPath, Err: storage.ErrExist}
		}
	}
	if err := os.Rename(b.fullPath(src), b.fullPath(dst)); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldPath, newPath, err)
	}
	return nil
}

func (b *Backend) RemoveFile(_ context.Context, path string) error {
	full := b.fullPath(path)
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if info.IsDir() {
		return &fs.PathError{Op: "remove", Path: path, Err: storage.ErrIsDir}
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (b *Backend) RemoveDir(_ context.Context, path string, opts storage.RemoveOptions) error {
	if storage.Clean(path) == "/" {
		return &fs.PathError{Op: "rmdir", Path: path, Err: fs.ErrInvalid}
	}
	full := b.fullPath(path)
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("remove dir %s: %w", path, err)
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "rmdir", Path: path, Err: storage.ErrNotDir}
	}
	if opts.Recursive {
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("remove dir %s: %w", path, err)
		}
		return nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Errorf("remove dir %s: %w", path, err)
	}
	if len(entries) > 0 {
		return &fs.PathError{Op: "rmdir", Path: path, Err: storage.ErrNotEmpty}
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("remove dir %s: %w", path, err)
	}
	return nil
}

func (b *Backend) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(b.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return true, nil
}

func (b *Backend) CreateDir(_ context.Context, path string, recursive bool) error {
	full := b.fullPath(path)
	var err error
	if recursive {
		err = os.MkdirAll(full, 0755)
	} else {
		err = os.Mkdir(full, 0755)
	}
	if err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

// Walk lists the subtree below dir using fastwalk. The callback runs on
// several goroutines, so results are collected under a mutex.
func (b *Backend) Walk(ctx context.Context, dir string) ([]string, error) {
	base := storage.Clean(dir)
	root := b.fullPath(base)
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	} else if !info.IsDir() {
		return nil, &fs.PathError{Op: "walk", Path: dir, Err: storage.ErrNotDir}
	}

	var (
		mu  sync.Mutex
		out []string
	)
	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, root, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if fullPath == root || isTemp(d.Name()) {
			return nil
		}
		rel, relErr := filepath.Rel(b.rootPath, fullPath)
		if relErr != nil {
			return relErr
		}
		p := "/" + filepath.ToSlash(rel)
		if d.IsDir() {
			p += "/"
		}
		mu.Lock()
		out = append(out, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// Root returns the absolute directory backing the adapter.
func (b *Backend) Root() string { return b.rootPath }

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".explorer-") && strings.HasSuffix(name, ".tmp")
}

var _ storage.Walker = (*Backend)(nil)

