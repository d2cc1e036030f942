// Package storage defines the Adapter interface the explorer persists through,
// plus decorators that add caching, retries and instrumentation to any backend.
//
// Adapter paths are absolute and slash-separated ("/projects/demo/src/lib.rs").
// A trailing slash on a directory path is accepted and ignored.
package storage

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/fruitsalade/explorer/internal/pathmodel"
)

var (
	// ErrNotExist is returned (wrapped) when a path is missing.
	ErrNotExist = fs.ErrNotExist

	// ErrExist is returned (wrapped) when a path is unexpectedly present.
	ErrExist = fs.ErrExist

	// ErrIsDir is returned when a file operation targets a directory.
	ErrIsDir = errors.New("is a directory")

	// ErrNotDir is returned when a directory operation targets a file.
	ErrNotDir = errors.New("not a directory")

	// ErrNotEmpty is returned by a non-recursive RemoveDir on a populated directory.
	ErrNotEmpty = errors.New("directory not empty")
)

// WriteOptions controls WriteFile.
type WriteOptions struct {
	CreateParents bool
}

// RemoveOptions controls RemoveDir.
type RemoveOptions struct {
	Recursive bool
}

// Stat describes a stored path.
type Stat struct {
	IsFile      bool `json:"isFile"`
	IsDirectory bool `json:"isDirectory"`
}

// Adapter is a directory-style text store.
type Adapter interface {
	// WriteFile stores content at path, replacing any existing file.
	WriteFile(ctx context.Context, path, content string, opts WriteOptions) error

	// ReadToString returns the content of the file at path.
	ReadToString(ctx context.Context, path string) (string, error)

	// ReadDir returns the sorted names of the direct children of a directory.
	ReadDir(ctx context.Context, path string) ([]string, error)

	// Stat describes path.
	Stat(ctx context.Context, path string) (Stat, error)

	// Rename moves a file or directory (with its contents).
	Rename(ctx context.Context, oldPath, newPath string) error

	// RemoveFile deletes a single file.
	RemoveFile(ctx context.Context, path string) error

	// RemoveDir deletes a directory, and everything in it when Recursive is set.
	RemoveDir(ctx context.Context, path string, opts RemoveOptions) error

	// Exists reports whether path is stored as a file or directory.
	Exists(ctx context.Context, path string) (bool, error)

	// CreateDir creates a directory, with missing parents when recursive.
	CreateDir(ctx context.Context, path string, recursive bool) error

	// Type returns the backend type identifier ("memory", "local", "s3", ...).
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Walker is implemented by backends that can list a whole subtree in one call.
// Walk returns every path below dir: files without a trailing slash,
// directories with one. dir itself is not included.
type Walker interface {
	Walk(ctx context.Context, dir string) ([]string, error)
}

// Clean normalizes an adapter path: leading slash, no duplicate slashes and no
// trailing slash (except for the root "/").
func Clean(path string) string {
	p := pathmodel.Clean(path)
	if p == "/" {
		return p
	}
	return strings.TrimSuffix(p, "/")
}

// Parent returns the directory containing path.
func Parent(path string) string {
	return Clean(pathmodel.ParentPath(Clean(path)))
}

// Under reports whether path lies strictly inside dir.
func Under(dir, path string) bool {
	dir = Clean(dir)
	if dir == "/" {
		return path != "/"
	}
	return strings.HasPrefix(path, dir+"/")
}

// Walk lists the subtree below dir. It uses the backend's Walker when present
// and falls back to recursive ReadDir/Stat calls.
func Walk(ctx context.Context, a Adapter, dir string) ([]string, error) {
	if w, ok := a.(Walker); ok {
		return w.Walk(ctx, dir)
	}
	var out []string
	if err := walkDir(ctx, a, Clean(dir), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walkDir(ctx context.Context, a Adapter, dir string, out *[]string) error {
	names, err := a.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := strings.TrimSuffix(dir, "/") + "/" + name
		st, err := a.Stat(ctx, child)
		if err != nil {
			return err
		}
		if st.IsDirectory {
			*out = append(*out, child+"/")
			if err := walkDir(ctx, a, child, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, child)
	}
	return nil
}

// Unwrap returns the adapter below any decorators.
func Unwrap(a Adapter) Adapter {
	for {
		u, ok := a.(interface{ Unwrap() Adapter })
		if !ok {
			return a
		}
		a = u.Unwrap()
	}
}
