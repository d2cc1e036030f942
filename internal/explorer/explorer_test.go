package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/explorer/internal/events"
	"github.com/fruitsalade/explorer/internal/filetree"
	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/models"
	"github.com/fruitsalade/explorer/internal/storage"
	"github.com/fruitsalade/explorer/internal/storage/memory"
	"github.com/fruitsalade/explorer/internal/workspace"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

// newWorkspace returns an explorer on a fresh memory store with workspace
// name active.
func newWorkspace(t *testing.T, name string) (*Explorer, *memory.Backend) {
	t.Helper()
	store := memory.New()
	e, err := New(t.Context(), store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.NewWorkspace(t.Context(), name, WorkspaceOptions{}); err != nil {
		t.Fatalf("NewWorkspace(%q): %v", name, err)
	}
	return e, store
}

func mustCreate(t *testing.T, e *Explorer, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := e.CreateItem(t.Context(), p, "content of "+p, filetree.CreateOptions{}); err != nil {
			t.Fatalf("CreateItem(%q): %v", p, err)
		}
	}
}

func mustOpen(t *testing.T, e *Explorer, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := e.OpenFile(t.Context(), p); err != nil {
			t.Fatalf("OpenFile(%q): %v", p, err)
		}
	}
}

func stored(t *testing.T, a storage.Adapter, path string) (string, bool) {
	t.Helper()
	content, err := a.ReadToString(context.Background(), path)
	if errors.Is(err, storage.ErrNotExist) {
		return "", false
	}
	if err != nil {
		t.Fatalf("ReadToString(%q): %v", path, err)
	}
	return content, true
}

func TestNewWorkspaceDefaults(t *testing.T) {
	e, store := newWorkspace(t, "alpha")

	if e.State() != StateWorkspace {
		t.Errorf("state = %v", e.State())
	}
	if cur, _ := e.CurrentWorkspace(); cur != "alpha" {
		t.Errorf("current workspace = %q", cur)
	}
	if e.Root() != "/projects/alpha/" {
		t.Errorf("root = %q", e.Root())
	}
	if got := e.CurrentFile(); got == nil || got.Path != "/projects/alpha/src/lib.rs" {
		t.Errorf("current file = %+v", got)
	}
	if _, ok := stored(t, store, "/projects/alpha/src/lib.rs"); !ok {
		t.Error("src/lib.rs not written")
	}

	raw, _ := stored(t, store, workspace.RegistryPath)
	var reg models.RegistryFile
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		t.Fatalf("registry: %v", err)
	}
	if !reflect.DeepEqual(reg.AllNames, []string{"alpha"}) || reg.CurrentName == nil || *reg.CurrentName != "alpha" {
		t.Errorf("registry = %s", raw)
	}
}

func TestNewWorkspaceTemplate(t *testing.T) {
	store := memory.New()
	e, err := New(t.Context(), store)
	if err != nil {
		t.Fatal(err)
	}
	opts := WorkspaceOptions{
		TemplateFiles: map[string]string{
			"src/main.rs": "fn main() {}",
			"Cargo.toml":  "[package]",
			"tests/":      "",
		},
		DefaultOpen: "Cargo.toml",
	}
	if err := e.NewWorkspace(t.Context(), "bin crate", opts); err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if got := e.CurrentFile(); got == nil || got.Path != "/projects/bin crate/Cargo.toml" {
		t.Errorf("current file = %+v", got)
	}
	children, err := e.ListChildren("")
	if err != nil {
		t.Fatal(err)
	}
	want := filetree.Children{Folders: []string{"src", "tests"}, Files: []string{"Cargo.toml"}}
	if !reflect.DeepEqual(children, want) {
		t.Errorf("ListChildren = %+v, want %+v", children, want)
	}
}

func TestWorkspaceNameValidation(t *testing.T) {
	e, _ := newWorkspace(t, "alpha")
	ctx := t.Context()

	if err := e.NewWorkspace(ctx, "alpha", WorkspaceOptions{}); !errors.Is(err, models.ErrAlreadyExists) {
		t.Errorf("duplicate name = %v", err)
	}
	for _, name := range []string{"", " lead", "a/b", "dot.name"} {
		if err := e.NewWorkspace(ctx, name, WorkspaceOptions{}); !errors.Is(err, models.ErrInvalidName) {
			t.Errorf("NewWorkspace(%q) = %v, want ErrInvalidName", name, err)
		}
	}
	if !reflect.DeepEqual(e.Workspaces(), []string{"alpha"}) {
		t.Errorf("workspaces = %v", e.Workspaces())
	}
}

func TestCreateReadRoundTrip(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	ctx := t.Context()

	if err := e.CreateItem(ctx, "src/main.rs", "fn main() {}", filetree.CreateOptions{}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	got, err := e.ReadItem("/projects/alpha/src/main.rs")
	if err != nil || got != "fn main() {}" {
		t.Errorf("ReadItem = %q, %v", got, err)
	}
	if content, _ := stored(t, store, "/projects/alpha/src/main.rs"); content != "fn main() {}" {
		t.Errorf("stored = %q", content)
	}

	if err := e.SaveFile(ctx, "src/main.rs", "fn main() { run() }"); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	reloaded, err := New(ctx, store)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got, _ := reloaded.ReadItem("src/main.rs"); got != "fn main() { run() }" {
		t.Errorf("after reload = %q", got)
	}

	if err := e.CreateItem(ctx, "src/main.rs", "", filetree.CreateOptions{}); !errors.Is(err, models.ErrAlreadyExists) {
		t.Errorf("second create = %v", err)
	}
	if err := e.CreateItem(ctx, "src/.hidden", "", filetree.CreateOptions{}); !errors.Is(err, models.ErrInvalidName) {
		t.Errorf("dotfile create = %v", err)
	}
	if err := e.SaveFile(ctx, "src/none.rs", "x"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("SaveFile missing = %v", err)
	}
}

func TestPathResolution(t *testing.T) {
	e, _ := newWorkspace(t, "alpha")

	tests := []struct {
		path string
		want error
	}{
		{"src/lib.rs", nil},
		{"/projects/alpha/src/lib.rs", nil},
		{"//projects//alpha/src/lib.rs", nil},
		{"/projects/beta/src/lib.rs", models.ErrInvalidName},
		{"src/../../beta/src/lib.rs", models.ErrInvalidName},
		{".workspace/metadata.json", models.ErrInvalidName},
		{"src/missing.rs", models.ErrNotFound},
	}
	for _, tt := range tests {
		_, err := e.ReadItem(tt.path)
		if tt.want == nil && err != nil {
			t.Errorf("ReadItem(%q) = %v", tt.path, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("ReadItem(%q) = %v, want %v", tt.path, err, tt.want)
		}
	}
}

func TestFolderRenameCascade(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/util/a.rs", "src/util/b.rs", "src/other.rs")
	mustOpen(t, e, "src/other.rs", "src/util/a.rs", "src/util/b.rs")

	if err := e.RenameItem(t.Context(), "src/util/", "src/helpers/", filetree.RenameOptions{}); err != nil {
		t.Fatalf("RenameItem: %v", err)
	}

	want := []string{
		"/projects/alpha/src/lib.rs",
		"/projects/alpha/src/other.rs",
		"/projects/alpha/src/helpers/a.rs",
		"/projects/alpha/src/helpers/b.rs",
	}
	if !reflect.DeepEqual(e.Tabs(), want) {
		t.Errorf("tabs = %v, want %v", e.Tabs(), want)
	}
	if got := e.CurrentFile(); got == nil || got.Path != "/projects/alpha/src/helpers/b.rs" {
		t.Errorf("current = %+v", got)
	}
	if _, err := e.ReadItem("src/util/a.rs"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("old path still readable: %v", err)
	}
	if content, _ := stored(t, store, "/projects/alpha/src/helpers/a.rs"); content != "content of src/util/a.rs" {
		t.Errorf("stored = %q", content)
	}
	if ok, _ := store.Exists(t.Context(), "/projects/alpha/src/util"); ok {
		t.Error("old folder still stored")
	}
}

func TestRenameErrors(t *testing.T) {
	e, _ := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/a.rs", "src/b.rs", "docs/")
	ctx := t.Context()

	tests := []struct {
		old, new string
		want     error
	}{
		{"src/a.rs", "src/b.rs", models.ErrAlreadyExists},
		{"src/a.rs", "docs/", models.ErrTypeMismatch},
		{"src/", "source/", models.ErrProtectedPath},
		{"src/none.rs", "src/c.rs", models.ErrNotFound},
		{"docs/", "docs/inner/", models.ErrInvalidName},
		{"src/a.rs", "src/.a", models.ErrInvalidName},
	}
	for _, tt := range tests {
		err := e.RenameItem(ctx, tt.old, tt.new, filetree.RenameOptions{})
		if !errors.Is(err, tt.want) {
			t.Errorf("RenameItem(%q, %q) = %v, want %v", tt.old, tt.new, err, tt.want)
		}
	}
}

func TestRenameOverwriteAndNewParent(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/a.rs", "src/b.rs")
	mustOpen(t, e, "src/b.rs", "src/a.rs")
	ctx := t.Context()

	if err := e.RenameItem(ctx, "src/a.rs", "src/b.rs", filetree.RenameOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite rename: %v", err)
	}
	if content, _ := stored(t, store, "/projects/alpha/src/b.rs"); content != "content of src/a.rs" {
		t.Errorf("stored b.rs = %q", content)
	}
	if _, ok := stored(t, store, "/projects/alpha/src/a.rs"); ok {
		t.Error("a.rs still stored")
	}
	want := []string{"/projects/alpha/src/lib.rs", "/projects/alpha/src/b.rs"}
	if !reflect.DeepEqual(e.Tabs(), want) {
		t.Errorf("tabs = %v, want %v", e.Tabs(), want)
	}

	if err := e.RenameItem(ctx, "src/b.rs", "src/deep/er/b.rs", filetree.RenameOptions{}); err != nil {
		t.Fatalf("rename into new folder: %v", err)
	}
	if _, ok := stored(t, store, "/projects/alpha/src/deep/er/b.rs"); !ok {
		t.Error("moved file not stored")
	}
}

func TestDeleteKeepsParentFolder(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/empty/one.rs")
	mustOpen(t, e, "src/empty/one.rs")
	ctx := t.Context()

	if err := e.DeleteItem(ctx, "src/empty/one.rs"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	children, err := e.ListChildren("src/")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(children.Folders, []string{"empty"}) {
		t.Errorf("folders = %v", children.Folders)
	}
	if got := e.CurrentFile(); got == nil || got.Path != "/projects/alpha/src/lib.rs" {
		t.Errorf("current after delete = %+v", got)
	}
	if ok, _ := store.Exists(ctx, "/projects/alpha/src/empty"); !ok {
		t.Error("empty folder removed from storage")
	}

	reloaded, err := New(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	children, _ = reloaded.ListChildren("src/")
	if !reflect.DeepEqual(children.Folders, []string{"empty"}) {
		t.Errorf("folders after reload = %v", children.Folders)
	}
}

func TestDeleteFolderClosesTabs(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/mod/a.rs", "src/mod/b.rs")
	mustOpen(t, e, "src/mod/a.rs", "src/mod/b.rs")

	if err := e.DeleteItem(t.Context(), "src/mod/"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if !reflect.DeepEqual(e.Tabs(), []string{"/projects/alpha/src/lib.rs"}) {
		t.Errorf("tabs = %v", e.Tabs())
	}
	if ok, _ := store.Exists(t.Context(), "/projects/alpha/src/mod"); ok {
		t.Error("folder still stored")
	}
	if err := e.DeleteItem(t.Context(), "src/mod/"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete = %v", err)
	}
}

func TestProtectedPath(t *testing.T) {
	e, _ := newWorkspace(t, "alpha")
	ctx := t.Context()

	for _, p := range []string{"src/", "", "/projects/alpha/"} {
		if err := e.DeleteItem(ctx, p); !errors.Is(err, models.ErrProtectedPath) {
			t.Errorf("DeleteItem(%q) = %v", p, err)
		}
	}
	if err := e.RenameItem(ctx, "src/", "lib/", filetree.RenameOptions{}); !errors.Is(err, models.ErrProtectedPath) {
		t.Errorf("RenameItem = %v", err)
	}
	if _, err := e.ReadItem("src/lib.rs"); err != nil {
		t.Errorf("protected content lost: %v", err)
	}
}

func TestSetTabsDeduplicates(t *testing.T) {
	e, _ := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/a.rs", "src/b.rs")

	err := e.SetTabs(t.Context(), []string{"src/a.rs", "src/b.rs", "src/a.rs", "/projects/alpha/src/b.rs"})
	if err != nil {
		t.Fatalf("SetTabs: %v", err)
	}
	want := []string{"/projects/alpha/src/a.rs", "/projects/alpha/src/b.rs"}
	if !reflect.DeepEqual(e.Tabs(), want) {
		t.Errorf("tabs = %v, want %v", e.Tabs(), want)
	}
	if e.CurrentFile() != nil {
		t.Errorf("current should be cleared, got %+v", e.CurrentFile())
	}

	if err := e.SetTabs(t.Context(), []string{"src/none.rs"}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("SetTabs missing = %v", err)
	}
	if !reflect.DeepEqual(e.Tabs(), want) {
		t.Error("failed SetTabs changed the tabs")
	}
}

func TestCloseMovesToAdjacentTab(t *testing.T) {
	e, _ := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/a.rs", "src/b.rs", "src/c.rs")
	mustOpen(t, e, "src/a.rs", "src/b.rs", "src/c.rs", "src/a.rs")
	ctx := t.Context()

	view, err := e.CloseFile(ctx, "src/a.rs")
	if err != nil {
		t.Fatal(err)
	}
	if view == nil || view.Path != "/projects/alpha/src/b.rs" {
		t.Errorf("after closing a middle tab current = %+v", view)
	}

	mustOpen(t, e, "src/c.rs")
	view, _ = e.CloseFile(ctx, "src/c.rs")
	if view == nil || view.Path != "/projects/alpha/src/b.rs" {
		t.Errorf("after closing the last tab current = %+v", view)
	}

	view, _ = e.CloseFile(ctx, "src/c.rs")
	if view == nil || view.Path != "/projects/alpha/src/b.rs" {
		t.Errorf("closing a closed tab changed current to %+v", view)
	}

	e.CloseFile(ctx, "src/b.rs")
	view, _ = e.CloseFile(ctx, "src/lib.rs")
	if view != nil || len(e.Tabs()) != 0 {
		t.Errorf("all closed: current = %+v, tabs = %v", view, e.Tabs())
	}
}

func TestMetadataPersistence(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/a.rs", "src/b.rs", "notes.md")
	mustOpen(t, e, "src/b.rs", "src/a.rs")
	ctx := t.Context()

	pos := models.Position{Cursor: models.Cursor{From: 3, To: 5}, TopLine: 2}
	if err := e.SetPosition(ctx, "src/a.rs", pos); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}

	raw, ok := stored(t, store, workspace.MetaPath("alpha"))
	if !ok {
		t.Fatal("metadata not written")
	}
	var entries []models.MetaEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	var paths []string
	for _, me := range entries {
		paths = append(paths, me.Path)
	}
	wantPaths := []string{"src/lib.rs", "src/b.rs", "src/a.rs", "notes.md"}
	if !reflect.DeepEqual(paths, wantPaths) {
		t.Errorf("metadata paths = %v, want %v", paths, wantPaths)
	}
	if !entries[2].IsTab || !entries[2].IsCurrent || entries[2].Position == nil || *entries[2].Position != pos {
		t.Errorf("a.rs entry = %+v", entries[2])
	}
	if entries[3].IsTab || entries[3].Position != nil {
		t.Errorf("notes.md entry = %+v", entries[3])
	}
	if !strings.Contains(raw, `"position":null`) {
		t.Errorf("missing null position: %s", raw)
	}

	reloaded, err := New(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reloaded.Tabs(), e.Tabs()) {
		t.Errorf("tabs after reload = %v, want %v", reloaded.Tabs(), e.Tabs())
	}
	cur := reloaded.CurrentFile()
	if cur == nil || cur.Path != "/projects/alpha/src/a.rs" || cur.Position == nil || *cur.Position != pos {
		t.Errorf("current after reload = %+v", cur)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	e, _ := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/only_alpha.rs")
	ctx := t.Context()

	if err := e.NewWorkspace(ctx, "beta", WorkspaceOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ReadItem("src/only_alpha.rs"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("alpha file visible in beta: %v", err)
	}
	for p := range e.Files() {
		if !strings.HasPrefix(p, "/projects/beta/") {
			t.Errorf("foreign path %q loaded", p)
		}
	}

	if err := e.SwitchWorkspace(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ReadItem("src/only_alpha.rs"); err != nil {
		t.Errorf("alpha file lost: %v", err)
	}
	if err := e.SwitchWorkspace(ctx, "gamma"); !errors.Is(err, models.ErrWorkspaceNotFound) {
		t.Errorf("unknown workspace = %v", err)
	}
}

// metaFailing fails metadata writes while fail is set.
type metaFailing struct {
	storage.Adapter
	fail bool
}

func (m *metaFailing) WriteFile(ctx context.Context, path, content string, opts storage.WriteOptions) error {
	if m.fail && strings.HasSuffix(path, workspace.MetaFile) {
		return errors.New("disk full")
	}
	return m.Adapter.WriteFile(ctx, path, content, opts)
}

func TestSwitchAbortsWhenSaveFails(t *testing.T) {
	store := &metaFailing{Adapter: memory.New()}
	ctx := t.Context()
	e, err := New(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"alpha", "beta"} {
		if err := e.NewWorkspace(ctx, name, WorkspaceOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	before := e.Files()

	store.fail = true
	err = e.SwitchWorkspace(ctx, "alpha")
	if !errors.Is(err, models.ErrStorageFailure) {
		t.Fatalf("SwitchWorkspace = %v, want ErrStorageFailure", err)
	}
	if cur, _ := e.CurrentWorkspace(); cur != "beta" {
		t.Errorf("current workspace = %q", cur)
	}
	if !reflect.DeepEqual(e.Files(), before) {
		t.Error("tree changed after aborted switch")
	}
}

func TestRenameWorkspace(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/a.rs")
	mustOpen(t, e, "src/a.rs")
	ctx := t.Context()

	if err := e.RenameWorkspace(ctx, "bad/name"); !errors.Is(err, models.ErrInvalidName) {
		t.Errorf("invalid rename = %v", err)
	}
	if err := e.RenameWorkspace(ctx, "gamma"); err != nil {
		t.Fatalf("RenameWorkspace: %v", err)
	}
	if cur, _ := e.CurrentWorkspace(); cur != "gamma" {
		t.Errorf("current = %q", cur)
	}
	if !reflect.DeepEqual(e.Workspaces(), []string{"gamma"}) {
		t.Errorf("workspaces = %v", e.Workspaces())
	}
	if got := e.CurrentFile(); got == nil || got.Path != "/projects/gamma/src/a.rs" {
		t.Errorf("current file = %+v", got)
	}
	if ok, _ := store.Exists(ctx, "/projects/alpha"); ok {
		t.Error("old workspace directory still stored")
	}

	if err := e.NewWorkspace(ctx, "delta", WorkspaceOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := e.RenameWorkspace(ctx, "gamma"); !errors.Is(err, models.ErrAlreadyExists) {
		t.Errorf("rename onto existing = %v", err)
	}
}

func TestDeleteWorkspace(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	ctx := t.Context()
	if err := e.NewWorkspace(ctx, "beta", WorkspaceOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := e.DeleteWorkspace(ctx); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}
	if cur, _ := e.CurrentWorkspace(); cur != "alpha" {
		t.Errorf("current after delete = %q", cur)
	}
	if ok, _ := store.Exists(ctx, "/projects/beta"); ok {
		t.Error("beta still stored")
	}

	if err := e.DeleteWorkspace(ctx); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}
	if e.State() != StateNoWorkspace || len(e.Workspaces()) != 0 || e.CurrentFile() != nil {
		t.Errorf("state = %v, workspaces = %v", e.State(), e.Workspaces())
	}
	if err := e.DeleteWorkspace(ctx); !errors.Is(err, models.ErrCurrentWorkspaceNotFound) {
		t.Errorf("delete without workspace = %v", err)
	}
	raw, _ := stored(t, store, workspace.RegistryPath)
	if !strings.Contains(raw, `"currentName":null`) {
		t.Errorf("registry = %s", raw)
	}
}

func TestNoWorkspace(t *testing.T) {
	e, err := New(t.Context(), memory.New())
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()

	if e.State() != StateNoWorkspace {
		t.Errorf("state = %v", e.State())
	}
	if err := e.CreateItem(ctx, "src/a.rs", "", filetree.CreateOptions{}); !errors.Is(err, models.ErrCurrentWorkspaceNotFound) {
		t.Errorf("CreateItem = %v", err)
	}
	if err := e.RenameWorkspace(ctx, "x"); !errors.Is(err, models.ErrCurrentWorkspaceNotFound) {
		t.Errorf("RenameWorkspace = %v", err)
	}
	if err := e.SaveMeta(ctx); err != nil {
		t.Errorf("SaveMeta = %v", err)
	}
}

func TestRecoverMissingWorkspace(t *testing.T) {
	store := memory.New()
	ctx := t.Context()
	write := func(p, content string) {
		if err := store.WriteFile(ctx, p, content, storage.WriteOptions{CreateParents: true}); err != nil {
			t.Fatal(err)
		}
	}
	write(workspace.RegistryPath, `{"allNames":["gone","first","kept"],"currentName":"gone"}`)
	write("/projects/first/src/lib.rs", "first")
	write("/projects/kept/src/lib.rs", "kept")
	write("/projects/.hidden/x", "")

	e, err := New(ctx, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cur, _ := e.CurrentWorkspace(); cur != "kept" {
		t.Errorf("recovered workspace = %q", cur)
	}
	if !reflect.DeepEqual(e.Workspaces(), []string{"first", "kept"}) {
		t.Errorf("workspaces = %v", e.Workspaces())
	}
	if got, _ := e.ReadItem("src/lib.rs"); got != "kept" {
		t.Errorf("content = %q", got)
	}
	raw, _ := stored(t, store, workspace.RegistryPath)
	if !strings.Contains(raw, `"currentName":"kept"`) {
		t.Errorf("registry not saved: %s", raw)
	}
}

func TestRecoverWithoutWorkspaces(t *testing.T) {
	store := memory.New()
	ctx := t.Context()
	err := store.WriteFile(ctx, workspace.RegistryPath, `{"allNames":["gone"],"currentName":"gone"}`, storage.WriteOptions{CreateParents: true})
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(ctx, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.State() != StateNoWorkspace || len(e.Workspaces()) != 0 {
		t.Errorf("state = %v, workspaces = %v", e.State(), e.Workspaces())
	}
}

func TestTemporaryProject(t *testing.T) {
	e, err := NewTemporary(map[string]string{"src/lib.rs": "pub fn f() {}", "README.md": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()

	if e.State() != StateTemporary || e.Root() != "/" {
		t.Errorf("state = %v, root = %q", e.State(), e.Root())
	}
	if got := e.CurrentFile(); got == nil || got.Path != "/src/lib.rs" {
		t.Errorf("current = %+v", got)
	}
	if got, _ := e.ReadItem("README.md"); got != "hello" {
		t.Errorf("README = %q", got)
	}
	if err := e.NewWorkspace(ctx, "alpha", WorkspaceOptions{}); !errors.Is(err, models.ErrTemporaryProject) {
		t.Errorf("NewWorkspace = %v", err)
	}
	if err := e.DeleteItem(ctx, "src/"); !errors.Is(err, models.ErrProtectedPath) {
		t.Errorf("DeleteItem(src/) = %v", err)
	}
	if err := e.CreateItem(ctx, "src/extra.rs", "x", filetree.CreateOptions{}); err != nil {
		t.Errorf("CreateItem = %v", err)
	}
	if err := e.RenameItem(ctx, "README.md", "docs/README.md", filetree.RenameOptions{}); err != nil {
		t.Errorf("RenameItem = %v", err)
	}
	if err := e.SaveMeta(ctx); err != nil {
		t.Errorf("SaveMeta = %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	e, _ := newWorkspace(t, "alpha")
	ch, unsubscribe := e.Events().Subscribe()
	defer unsubscribe()

	mustCreate(t, e, "src/a.rs")
	mustOpen(t, e, "src/a.rs")

	var got []events.Event
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out, got %+v", got)
		}
	}
	if got[0].Type != events.EventCreateItem || got[0].Path != "/projects/alpha/src/a.rs" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Type != events.EventOpenFile || got[1].File == nil || got[1].File.Content != "content of src/a.rs" {
		t.Errorf("second event = %+v", got[1])
	}
}

func TestFileCannotActAsFolder(t *testing.T) {
	e, store := newWorkspace(t, "alpha")
	mustCreate(t, e, "src/a.rs")
	ctx := t.Context()
	before := e.Files()

	if err := e.CreateItem(ctx, "src/lib.rs/x.rs", "", filetree.CreateOptions{}); !errors.Is(err, models.ErrAlreadyExists) {
		t.Errorf("CreateItem under a file = %v", err)
	}
	if err := e.RenameItem(ctx, "src/a.rs", "src/lib.rs/a.rs", filetree.RenameOptions{}); !errors.Is(err, models.ErrAlreadyExists) {
		t.Errorf("RenameItem under a file = %v", err)
	}
	if err := e.CreateItem(ctx, "src/.hidden/x.rs", "", filetree.CreateOptions{}); !errors.Is(err, models.ErrInvalidName) {
		t.Errorf("CreateItem under a hidden folder = %v", err)
	}
	if !reflect.DeepEqual(e.Files(), before) {
		t.Error("tree changed after rejected operations")
	}
	children, err := e.ListChildren("src/")
	if err != nil {
		t.Fatal(err)
	}
	if len(children.Folders) != 0 {
		t.Errorf("folders = %v", children.Folders)
	}
	if ok, _ := store.Exists(ctx, "/projects/alpha/src/.hidden"); ok {
		t.Error("hidden folder written to storage")
	}
}

// readFailing fails ReadToString for paths matching fail.
type readFailing struct {
	storage.Adapter
	fail func(path string) bool
}

func (r *readFailing) ReadToString(ctx context.Context, path string) (string, error) {
	if r.fail(path) {
		return "", errors.New("disk error")
	}
	return r.Adapter.ReadToString(ctx, path)
}

func TestStartupRecoversFromReadFailures(t *testing.T) {
	_, base := newWorkspace(t, "alpha")
	ctx := t.Context()
	second, err := New(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.NewWorkspace(ctx, "beta", WorkspaceOptions{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		fail      func(string) bool
		state     State
		workspace string
	}{
		{"registry unreadable", func(p string) bool { return p == workspace.RegistryPath }, StateWorkspace, "beta"},
		{"active workspace unreadable", func(p string) bool { return strings.HasPrefix(p, "/projects/beta/src/") }, StateWorkspace, "alpha"},
		{"every read fails", func(string) bool { return true }, StateNoWorkspace, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(ctx, &readFailing{Adapter: base, fail: tt.fail})
			if err != nil || e == nil {
				t.Fatalf("New = %v, %v", e, err)
			}
			if e.State() != tt.state {
				t.Errorf("state = %v, want %v", e.State(), tt.state)
			}
			if cur, _ := e.CurrentWorkspace(); cur != tt.workspace {
				t.Errorf("workspace = %q, want %q", cur, tt.workspace)
			}
			if !reflect.DeepEqual(e.Workspaces(), []string{"alpha", "beta"}) {
				t.Errorf("workspaces = %v", e.Workspaces())
			}
		})
	}

	if _, err := New(ctx, nil); err == nil {
		t.Error("New(nil) should fail")
	}
}

// implicitDirs drops directories as soon as they are empty, like object
// stores whose folders are implied by the keys under them.
type implicitDirs struct {
	storage.Adapter
}

func (a implicitDirs) prune(ctx context.Context, path string) {
	for dir := storage.Parent(path); dir != "/"; dir = storage.Parent(dir) {
		names, err := a.Adapter.ReadDir(ctx, dir)
		if err != nil || len(names) > 0 {
			return
		}
		if err := a.Adapter.RemoveDir(ctx, dir, storage.RemoveOptions{}); err != nil {
			return
		}
	}
}

func (a implicitDirs) RemoveFile(ctx context.Context, path string) error {
	err := a.Adapter.RemoveFile(ctx, path)
	if err == nil {
		a.prune(ctx, path)
	}
	return err
}

func (a implicitDirs) RemoveDir(ctx context.Context, path string, opts storage.RemoveOptions) error {
	err := a.Adapter.RemoveDir(ctx, path, opts)
	if err == nil {
		a.prune(ctx, path)
	}
	return err
}

func (a implicitDirs) Rename(ctx context.Context, oldPath, newPath string) error {
	err := a.Adapter.Rename(ctx, oldPath, newPath)
	if err == nil {
		a.prune(ctx, oldPath)
	}
	return err
}

func TestEmptiedFoldersSurviveReload(t *testing.T) {
	store := implicitDirs{Adapter: memory.New()}
	ctx := t.Context()
	e, err := New(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.NewWorkspace(ctx, "alpha", WorkspaceOptions{}); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, e, "foo/only.rs", "bar/moved.rs", "baz/gone/x.rs")

	if err := e.DeleteItem(ctx, "foo/only.rs"); err != nil {
		t.Fatal(err)
	}
	if err := e.RenameItem(ctx, "bar/moved.rs", "src/moved.rs", filetree.RenameOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteItem(ctx, "baz/gone/"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := New(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	children, err := reloaded.ListChildren("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(children.Folders, []string{"bar", "baz", "foo", "src"}) {
		t.Errorf("folders after reload = %v", children.Folders)
	}
}

func TestTemporaryProjectRejectsConflicts(t *testing.T) {
	for range 5 {
		_, err := NewTemporary(map[string]string{"a": "file", "a/b": "nested", "src/lib.rs": ""})
		if !errors.Is(err, models.ErrAlreadyExists) {
			t.Fatalf("NewTemporary = %v, want ErrAlreadyExists", err)
		}
	}
}
