package memory

import (
	"testing"

	"github.com/fruitsalade/explorer/internal/storage"
	"github.com/fruitsalade/explorer/internal/storage/storagetest"
)

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Adapter { return New() })
}

func TestRenameDirIntoItself(t *testing.T) {
	b := New()
	ctx := t.Context()
	if err := b.CreateDir(ctx, "/a/b", true); err != nil {
		t.Fatal(err)
	}
	if err := b.Rename(ctx, "/a", "/a/b/c"); err == nil {
		t.Error("expected error moving a directory into itself")
	}
}
