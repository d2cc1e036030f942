// Package memory provides an in-process storage backend.
package memory

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/fruitsalade/explorer/internal/storage"
)

// Backend keeps files and directories in maps. The root "/" always exists.
type Backend struct {
	mu    sync.RWMutex
	files map[string]string
	dirs  map[string]struct{}
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		files: make(map[string]string),
		dirs:  map[string]struct{}{"/": {}},
	}
}

func pathErr(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: err}
}

func (b *Backend) isDir(p string) bool {
	_, ok := b.dirs[p]
	return ok
}

func (b *Backend) isFile(p string) bool {
	_, ok := b.files[p]
	return ok
}

func (b *Backend) mkdirAll(p string) error {
	for dir := p; ; dir = storage.Parent(dir) {
		if b.isFile(dir) {
			return pathErr("mkdir", dir, storage.ErrNotDir)
		}
		b.dirs[dir] = struct{}{}
		if dir == "/" {
			return nil
		}
	}
}

func (b *Backend) WriteFile(_ context.Context, path, content string, opts storage.WriteOptions) error {
	p := storage.Clean(path)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isDir(p) {
		return pathErr("write", p, storage.ErrIsDir)
	}
	parent := storage.Parent(p)
	if !b.isDir(parent) {
		if !opts.CreateParents {
			return pathErr("write", p, storage.ErrNotExist)
		}
		if err := b.mkdirAll(parent); err != nil {
			return err
		}
	}
	b.files[p] = content
	return nil
}

func (b *Backend) ReadToString(_ context.Context, path string) (string, error) {
	p := storage.Clean(path)
	b.mu.RLock()
	defer b.mu.RUnlock()

	content, ok := b.files[p]
	if !ok {
		if b.isDir(p) {
			return "", pathErr("read", p, storage.ErrIsDir)
		}
		return "", pathErr("read", p, storage.ErrNotExist)
	}
	return content, nil
}

func (b *Backend) ReadDir(_ context.Context, path string) ([]string, error) {
	p := storage.Clean(path)
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.isDir(p) {
		if b.isFile(p) {
			return nil, pathErr("readdir", p, storage.ErrNotDir)
		}
		return nil, pathErr("readdir", p, storage.ErrNotExist)
	}
	seen := make(map[string]struct{})
	collect := func(key string) {
		if key == p || storage.Parent(key) != p {
			return
		}
		seen[key[strings.LastIndex(key, "/")+1:]] = struct{}{}
	}
	for key := range b.files {
		collect(key)
	}
	for key := range b.dirs {
		collect(key)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) Stat(_ context.Context, path string) (storage.Stat, error) {
	p := storage.Clean(path)
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch {
	case b.isFile(p):
		return storage.Stat{IsFile: true}, nil
	case b.isDir(p):
		return storage.Stat{IsDirectory: true}, nil
	}
	return storage.Stat{}, pathErr("stat", p, storage.ErrNotExist)
}

func (b *Backend) Rename(_ context.Context, oldPath, newPath string) error {
	src, dst := storage.Clean(oldPath), storage.Clean(newPath)
	b.mu.Lock()
	defer b.mu.Unlock()

	if src == dst {
		return nil
	}
	if !b.isDir(storage.Parent(dst)) {
		return pathErr("rename", dst, storage.ErrNotExist)
	}

	if content, ok := b.files[src]; ok {
		if b.isDir(dst) {
			return pathErr("rename", dst, storage.ErrIsDir)
		}
		delete(b.files, src)
		b.files[dst] = content
		return nil
	}
	if !b.isDir(src) {
		return pathErr("rename", src, storage.ErrNotExist)
	}
	if src == "/" || storage.Under(src, dst) {
		return pathErr("rename", dst, fs.ErrInvalid)
	}
	if b.isFile(dst) || b.isDir(dst) {
		return pathErr("rename", dst, storage.ErrExist)
	}

	for key, content := range b.files {
		if storage.Under(src, key) {
			delete(b.files, key)
			b.files[dst+strings.TrimPrefix(key, src)] = content
		}
	}
	for key := range b.dirs {
		if key == src || storage.Under(src, key) {
			delete(b.dirs, key)
			b.dirs[dst+strings.TrimPrefix(key, src)] = struct{}{}
		}
	}
	return nil
}

func (b *Backend) RemoveFile(_ context.Context, path string) error {
	p := storage.Clean(path)
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isFile(p) {
		if b.isDir(p) {
			return pathErr("remove", p, storage.ErrIsDir)
		}
		return pathErr("remove", p, storage.ErrNotExist)
	}
	delete(b.files, p)
	return nil
}

func (b *Backend) RemoveDir(_ context.Context, path string, opts storage.RemoveOptions) error {
	p := storage.Clean(path)
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isDir(p) {
		if b.isFile(p) {
			return pathErr("rmdir", p, storage.ErrNotDir)
		}
		return pathErr("rmdir", p, storage.ErrNotExist)
	}
	if p == "/" {
		return pathErr("rmdir", p, fs.ErrInvalid)
	}

	var fileKeys, dirKeys []string
	for key := range b.files {
		if storage.Under(p, key) {
			fileKeys = append(fileKeys, key)
		}
	}
	for key := range b.dirs {
		if storage.Under(p, key) {
			dirKeys = append(dirKeys, key)
		}
	}
	if !opts.Recursive && len(fileKeys)+len(dirKeys) > 0 {
		return pathErr("rmdir", p, storage.ErrNotEmpty)
	}
	for _, key := range fileKeys {
		delete(b.files, key)
	}
	for _, key := range dirKeys {
		delete(b.dirs, key)
	}
	delete(b.dirs, p)
	return nil
}

func (b *Backend) Exists(_ context.Context, path string) (bool, error) {
	p := storage.Clean(path)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isFile(p) || b.isDir(p), nil
}

func (b *Backend) CreateDir(_ context.Context, path string, recursive bool) error {
	p := storage.Clean(path)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isFile(p) {
		return pathErr("mkdir", p, storage.ErrExist)
	}
	if recursive {
		return b.mkdirAll(p)
	}
	if b.isDir(p) {
		return pathErr("mkdir", p, storage.ErrExist)
	}
	if !b.isDir(storage.Parent(p)) {
		return pathErr("mkdir", p, storage.ErrNotExist)
	}
	b.dirs[p] = struct{}{}
	return nil
}

// Walk returns every path below dir, directories with a trailing slash.
func (b *Backend) Walk(_ context.Context, dir string) ([]string, error) {
	p := storage.Clean(dir)
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.isDir(p) {
		return nil, pathErr("walk", p, storage.ErrNotExist)
	}
	var out []string
	for key := range b.files {
		if storage.Under(p, key) {
			out = append(out, key)
		}
	}
	for key := range b.dirs {
		if storage.Under(p, key) {
			out = append(out, key+"/")
		}
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored files.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.files)
}

func (b *Backend) Type() string { return "memory" }

func (b *Backend) Close() error { return nil }

