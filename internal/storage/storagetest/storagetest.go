// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/fruitsalade/explorer/internal/storage"
)

// Run exercises the Adapter contract against backends created by newAdapter.
// Each subtest gets a fresh, empty adapter.
func Run(t *testing.T, newAdapter func(t *testing.T) storage.Adapter) {
	t.Helper()
	ctx := context.Background()

	t.Run("WriteRead", func(t *testing.T) {
		a := newAdapter(t)
		mustWrite(t, a, "/projects/demo/src/lib.rs", "fn main() {}")
		got, err := a.ReadToString(ctx, "/projects/demo/src/lib.rs")
		if err != nil {
			t.Fatalf("ReadToString: %v", err)
		}
		if got != "fn main() {}" {
			t.Errorf("content = %q", got)
		}
		mustWrite(t, a, "/projects/demo/src/lib.rs", "")
		if got, _ := a.ReadToString(ctx, "/projects/demo/src/lib.rs"); got != "" {
			t.Errorf("overwritten content = %q", got)
		}
	})

	t.Run("WriteWithoutParents", func(t *testing.T) {
		a := newAdapter(t)
		err := a.WriteFile(ctx, "/missing/dir/x.rs", "x", storage.WriteOptions{})
		if !errors.Is(err, storage.ErrNotExist) {
			t.Errorf("err = %v, want ErrNotExist", err)
		}
	})

	t.Run("ReadMissing", func(t *testing.T) {
		a := newAdapter(t)
		if _, err := a.ReadToString(ctx, "/nope.rs"); !errors.Is(err, storage.ErrNotExist) {
			t.Errorf("err = %v, want ErrNotExist", err)
		}
		if _, err := a.Stat(ctx, "/nope.rs"); !errors.Is(err, storage.ErrNotExist) {
			t.Errorf("Stat err = %v, want ErrNotExist", err)
		}
		ok, err := a.Exists(ctx, "/nope.rs")
		if err != nil || ok {
			t.Errorf("Exists = %v, %v", ok, err)
		}
	})

	t.Run("ReadDirAndStat", func(t *testing.T) {
		a := newAdapter(t)
		mustWrite(t, a, "/p/b.rs", "b")
		mustWrite(t, a, "/p/a.rs", "a")
		mustWrite(t, a, "/p/sub/c.rs", "c")
		if err := a.CreateDir(ctx, "/p/empty", true); err != nil {
			t.Fatalf("CreateDir: %v", err)
		}

		names, err := a.ReadDir(ctx, "/p")
		if err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		want := []string{"a.rs", "b.rs", "empty", "sub"}
		if !reflect.DeepEqual(names, want) {
			t.Errorf("ReadDir = %v, want %v", names, want)
		}

		st, err := a.Stat(ctx, "/p/sub/")
		if err != nil || !st.IsDirectory || st.IsFile {
			t.Errorf("Stat(dir) = %+v, %v", st, err)
		}
		st, err = a.Stat(ctx, "/p/a.rs")
		if err != nil || !st.IsFile || st.IsDirectory {
			t.Errorf("Stat(file) = %+v, %v", st, err)
		}
		if ok, _ := a.Exists(ctx, "/p/empty"); !ok {
			t.Error("empty dir should exist")
		}
	})

	t.Run("RenameFile", func(t *testing.T) {
		a := newAdapter(t)
		mustWrite(t, a, "/p/a.rs", "a")
		if err := a.Rename(ctx, "/p/a.rs", "/p/b.rs"); err != nil {
			t.Fatalf("Rename: %v", err)
		}
		if got, _ := a.ReadToString(ctx, "/p/b.rs"); got != "a" {
			t.Errorf("content = %q", got)
		}
		if ok, _ := a.Exists(ctx, "/p/a.rs"); ok {
			t.Error("source still exists")
		}
	})

	t.Run("RenameDir", func(t *testing.T) {
		a := newAdapter(t)
		mustWrite(t, a, "/projects/a/src/lib.rs", "lib")
		mustWrite(t, a, "/projects/a/src/sub/x.rs", "x")
		mustWrite(t, a, "/projects/ab/keep.rs", "keep")

		if err := a.Rename(ctx, "/projects/a", "/projects/c"); err != nil {
			t.Fatalf("Rename: %v", err)
		}
		if got, _ := a.ReadToString(ctx, "/projects/c/src/sub/x.rs"); got != "x" {
			t.Errorf("moved content = %q", got)
		}
		if ok, _ := a.Exists(ctx, "/projects/a"); ok {
			t.Error("old dir still exists")
		}
		if got, _ := a.ReadToString(ctx, "/projects/ab/keep.rs"); got != "keep" {
			t.Error("sibling with shared name prefix was touched")
		}
	})

	t.Run("RemoveFile", func(t *testing.T) {
		a := newAdapter(t)
		mustWrite(t, a, "/p/a.rs", "a")
		if err := a.RemoveFile(ctx, "/p/a.rs"); err != nil {
			t.Fatalf("RemoveFile: %v", err)
		}
		if ok, _ := a.Exists(ctx, "/p/a.rs"); ok {
			t.Error("file still exists")
		}
		if err := a.RemoveFile(ctx, "/p/a.rs"); !errors.Is(err, storage.ErrNotExist) {
			t.Errorf("second RemoveFile = %v", err)
		}
	})

	t.Run("RemoveDir", func(t *testing.T) {
		a := newAdapter(t)
		mustWrite(t, a, "/p/sub/a.rs", "a")
		mustWrite(t, a, "/pq/b.rs", "b")

		if err := a.RemoveDir(ctx, "/p", storage.RemoveOptions{}); !errors.Is(err, storage.ErrNotEmpty) {
			t.Errorf("non-recursive RemoveDir = %v, want ErrNotEmpty", err)
		}
		if err := a.RemoveDir(ctx, "/p/", storage.RemoveOptions{Recursive: true}); err != nil {
			t.Fatalf("RemoveDir: %v", err)
		}
		if ok, _ := a.Exists(ctx, "/p/sub/a.rs"); ok {
			t.Error("nested file still exists")
		}
		if ok, _ := a.Exists(ctx, "/pq/b.rs"); !ok {
			t.Error("sibling with shared name prefix was removed")
		}
		if err := a.RemoveDir(ctx, "/p", storage.RemoveOptions{Recursive: true}); !errors.Is(err, storage.ErrNotExist) {
			t.Errorf("RemoveDir missing = %v", err)
		}
	})

	t.Run("Walk", func(t *testing.T) {
		a := newAdapter(t)
		mustWrite(t, a, "/projects/a/src/lib.rs", "")
		mustWrite(t, a, "/projects/a/README", "")
		if err := a.CreateDir(ctx, "/projects/a/docs", true); err != nil {
			t.Fatalf("CreateDir: %v", err)
		}

		got, err := storage.Walk(ctx, a, "/projects/a")
		if err != nil {
			t.Fatalf("Walk: %v", err)
		}
		want := []string{
			"/projects/a/README",
			"/projects/a/docs/",
			"/projects/a/src/",
			"/projects/a/src/lib.rs",
		}
		if !reflect.DeepEqual(sorted(got), want) {
			t.Errorf("Walk = %v, want %v", got, want)
		}
	})
}

func mustWrite(t *testing.T, a storage.Adapter, path, content string) {
	t.Helper()
	err := a.WriteFile(context.Background(), path, content, storage.WriteOptions{CreateParents: true})
	if err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
