// Package explorer is the workspace file manager core. It owns the file tree,
// the open tabs and the workspace registry, validates every request before it
// mutates anything, mirrors mutations into a storage adapter and publishes an
// event for each state change.
package explorer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/events"
	"github.com/fruitsalade/explorer/internal/filetree"
	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/metrics"
	"github.com/fruitsalade/explorer/internal/models"
	"github.com/fruitsalade/explorer/internal/pathmodel"
	"github.com/fruitsalade/explorer/internal/storage"
	"github.com/fruitsalade/explorer/internal/tabs"
	"github.com/fruitsalade/explorer/internal/workspace"
)

// State is the lifecycle state of an Explorer.
type State int

const (
	StateUninitialized State = iota
	StateTemporary
	StateNoWorkspace
	StateWorkspace
)

func (s State) String() string {
	switch s {
	case StateTemporary:
		return "temporary"
	case StateNoWorkspace:
		return "no_workspace"
	case StateWorkspace:
		return "workspace"
	}
	return "uninitialized"
}

// TemporaryProtectedPath is the source root of a temporary project.
const TemporaryProtectedPath = "/src/"

// DefaultFile is created in new workspaces without a template and is opened
// when a workspace has no recorded current file or tabs.
const DefaultFile = workspace.SourceDir + "lib.rs"

// Explorer is the explorer core. Public methods are serialized by a mutex, so
// each operation runs to completion before the next one starts.
type Explorer struct {
	mu sync.Mutex

	store    storage.Adapter
	state    State
	tree     *filetree.Tree
	tabs     *tabs.Manager
	registry *workspace.Registry
	events   *events.Broadcaster
	log      *zap.Logger
}

func newExplorer() *Explorer {
	return &Explorer{
		tree:     filetree.New(""),
		tabs:     tabs.New(),
		registry: workspace.NewRegistry(),
		events:   events.NewBroadcaster(),
		log:      logging.Named("explorer"),
	}
}

// NewTemporary creates a project that lives only in memory. files maps paths
// (absolute or relative to "/") to contents; with no files an empty
// src/lib.rs is created. Conflicting entries, such as a file "a" next to
// "a/b", are rejected. Workspace operations fail with ErrTemporaryProject.
func NewTemporary(files map[string]string) (*Explorer, error) {
	e := newExplorer()
	e.state = StateTemporary
	e.tree.SetProtected(TemporaryProtectedPath)

	if len(files) == 0 {
		files = map[string]string{DefaultFile: ""}
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		abs := pathmodel.Clean("/" + strings.TrimPrefix(p, "/"))
		if err := e.tree.Create(abs, files[p], filetree.CreateOptions{}); err != nil {
			return nil, err
		}
	}
	e.tree.Load(TemporaryProtectedPath, "")
	e.openDefault("")
	e.updateGauges()

	e.publish(events.Event{Type: events.EventInit})
	e.publishCurrent()
	return e, nil
}

// New creates a persistent explorer backed by store and loads the active
// workspace recorded in the registry. Storage failures during loading are
// logged and recovered from, falling back to no workspace; New only fails
// when store is nil.
func New(ctx context.Context, store storage.Adapter) (*Explorer, error) {
	if store == nil {
		return nil, errors.New("explorer: nil storage adapter")
	}
	e := newExplorer()
	e.store = store
	e.state = StateNoWorkspace

	metrics.RecordOperation(models.OpInit, e.init(ctx))

	cur, _ := e.registry.Current()
	e.log.Info("explorer initialized",
		zap.String("state", e.state.String()),
		zap.String("workspace", cur),
		zap.Int("workspaces", e.registry.Len()),
		zap.String("backend", store.Type()))

	e.publish(events.Event{Type: events.EventInit, Workspace: cur})
	e.publishCurrent()
	return e, nil
}

// Events returns the broadcaster state changes are published on.
func (e *Explorer) Events() *events.Broadcaster { return e.events }

// State returns the lifecycle state.
func (e *Explorer) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentWorkspace returns the active workspace name.
func (e *Explorer) CurrentWorkspace() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Current()
}

// Workspaces returns the registered workspace names in registration order.
func (e *Explorer) Workspaces() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Names()
}

// Tabs returns the open tab paths in order.
func (e *Explorer) Tabs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.Tabs()
}

// CurrentFile returns the current file, or nil when no file is open.
func (e *Explorer) CurrentFile() *models.FileView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentView()
}

// Files returns a deep copy of the tree, folder markers included.
func (e *Explorer) Files() map[string]*models.FileRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Snapshot()
}

// Root returns the active root prefix, or "" when no workspace is active.
func (e *Explorer) Root() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root()
}

func (e *Explorer) root() string {
	switch e.state {
	case StateTemporary:
		return "/"
	case StateWorkspace:
		cur, _ := e.registry.Current()
		return workspace.Root(cur)
	}
	return ""
}

// resolve turns a user path into a canonical tree path inside the active
// root. Relative paths are joined to the root.
func (e *Explorer) resolve(op, p string) (string, error) {
	root := e.root()
	if root == "" {
		return "", models.NewError(op, p, models.ErrCurrentWorkspaceNotFound)
	}

	var abs string
	if strings.HasPrefix(p, "/") {
		abs = pathmodel.Clean(p)
	} else {
		abs = pathmodel.Clean(root + p)
	}
	if !strings.HasPrefix(abs, root) {
		return "", models.NewError(op, p, models.ErrInvalidName)
	}
	if hasDotSegment(abs) {
		return "", models.NewError(op, p, models.ErrInvalidName)
	}
	if e.state == StateWorkspace && pathmodel.HasPrefix(root+workspace.MetaDir, abs) {
		return "", models.NewError(op, p, models.ErrInvalidName)
	}
	return abs, nil
}

func (e *Explorer) persistent() bool {
	return e.store != nil && e.state == StateWorkspace
}

func (e *Explorer) view(path string) *models.FileView {
	rec, ok := e.tree.Read(path)
	if !ok {
		return nil
	}
	v := &models.FileView{Path: path, Content: rec.Content}
	if rec.Meta != nil && rec.Meta.Position != nil {
		pos := *rec.Meta.Position
		v.Position = &pos
	}
	return v
}

func (e *Explorer) currentView() *models.FileView {
	cur, ok := e.tabs.Current()
	if !ok {
		return nil
	}
	return e.view(cur)
}

// openDefault opens preferred when it exists, else the first tab, else the
// default source file, else the first file in sorted order.
func (e *Explorer) openDefault(preferred string) {
	candidates := []string{preferred}
	if first := e.tabs.Tabs(); len(first) > 0 {
		candidates = append(candidates, first[0])
	}
	candidates = append(candidates, e.root()+DefaultFile)
	if files := e.tree.FilePaths(); len(files) > 0 {
		candidates = append(candidates, files[0])
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := e.tree.Read(c); ok {
			e.tabs.Open(c)
			return
		}
	}
}

func (e *Explorer) updateGauges() {
	metrics.SetTreeEntries(e.tree.Len())
	metrics.SetOpenTabs(e.tabs.Len())
}

func (e *Explorer) publish(ev events.Event) {
	e.events.Publish(ev)
}

// publishCurrent announces the current file (nil when none is open).
func (e *Explorer) publishCurrent() {
	e.publish(events.Event{Type: events.EventOpenFile, File: e.currentView()})
}

// publishCurrentIfChanged announces the current file when it differs from prev.
func (e *Explorer) publishCurrentIfChanged(prev string) {
	if cur, _ := e.tabs.Current(); cur != prev {
		e.publishCurrent()
	}
}

// done finishes a mutating operation: gauges, metrics and a debug line.
func (e *Explorer) done(op, path string, err error) {
	metrics.RecordOperation(op, err)
	e.updateGauges()
	if err != nil {
		e.log.Debug("operation failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
	}
}

func hasDotSegment(p string) bool {
	for _, seg := range pathmodel.Segments(p) {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// twin returns the path of the other item type with the same name.
func twin(path string) string {
	if pathmodel.IsFolder(path) {
		return strings.TrimSuffix(path, "/")
	}
	return path + "/"
}
