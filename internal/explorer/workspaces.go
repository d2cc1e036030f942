package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/events"
	"github.com/fruitsalade/explorer/internal/filetree"
	"github.com/fruitsalade/explorer/internal/metrics"
	"github.com/fruitsalade/explorer/internal/models"
	"github.com/fruitsalade/explorer/internal/pathmodel"
	"github.com/fruitsalade/explorer/internal/storage"
	"github.com/fruitsalade/explorer/internal/tabs"
	"github.com/fruitsalade/explorer/internal/workspace"
)

// WorkspaceOptions controls NewWorkspace.
type WorkspaceOptions struct {
	// TemplateFiles maps paths relative to the workspace root to contents.
	// Paths ending with "/" create empty folders. Without a template the
	// workspace gets an empty src/lib.rs.
	TemplateFiles map[string]string

	// DefaultOpen is a root-relative file opened after the switch.
	DefaultOpen string
}

func (e *Explorer) requireWorkspaces(op string) error {
	if e.state == StateTemporary || e.store == nil {
		return models.NewError(op, "", models.ErrTemporaryProject)
	}
	return nil
}

// NewWorkspace creates a workspace from a template, registers it and
// switches to it.
func (e *Explorer) NewWorkspace(ctx context.Context, name string, opts WorkspaceOptions) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpNewWorkspace, name, err) }()

	if err := e.requireWorkspaces(models.OpNewWorkspace); err != nil {
		return err
	}
	if !pathmodel.IsValidWorkspaceName(name) {
		return models.NewError(models.OpNewWorkspace, name, models.ErrInvalidName)
	}
	root := workspace.Root(name)
	if e.registry.Has(name) {
		return models.NewError(models.OpNewWorkspace, name, models.ErrAlreadyExists)
	}
	exists, err := e.store.Exists(ctx, root)
	if err != nil {
		return models.StorageError(models.OpNewWorkspace, root, err)
	}
	if exists {
		return models.NewError(models.OpNewWorkspace, name, models.ErrAlreadyExists)
	}

	files := opts.TemplateFiles
	if len(files) == 0 {
		files = map[string]string{DefaultFile: ""}
	}
	for rel, content := range files {
		p := pathmodel.Clean(root + strings.TrimPrefix(rel, "/"))
		if !strings.HasPrefix(p, root) || hasDotSegment(p) {
			return models.NewError(models.OpNewWorkspace, rel, models.ErrInvalidName)
		}
		if pathmodel.IsFolder(p) {
			err = e.store.CreateDir(ctx, p, true)
		} else {
			err = e.store.WriteFile(ctx, p, content, storage.WriteOptions{CreateParents: true})
		}
		if err != nil {
			return models.StorageError(models.OpNewWorkspace, p, err)
		}
	}
	if err := e.store.CreateDir(ctx, workspace.ProtectedPath(name), true); err != nil {
		return models.StorageError(models.OpNewWorkspace, workspace.ProtectedPath(name), err)
	}

	if err := e.registry.Add(name); err != nil {
		return err
	}
	e.log.Info("workspace created", zap.String("workspace", name), zap.Int("files", len(files)))
	e.publish(events.Event{Type: events.EventCreateWorkspace, Workspace: name, Path: root})

	if err := e.switchTo(ctx, name, opts.DefaultOpen); err != nil {
		return err
	}
	return nil
}

// SwitchWorkspace saves the metadata of the active workspace and loads name.
// If saving fails nothing changes.
func (e *Explorer) SwitchWorkspace(ctx context.Context, name string) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpSwitchWorkspace, name, err) }()

	if err := e.requireWorkspaces(models.OpSwitchWorkspace); err != nil {
		return err
	}
	return e.switchTo(ctx, name, "")
}

// RenameWorkspace renames the active workspace and reloads it under the new
// name.
func (e *Explorer) RenameWorkspace(ctx context.Context, newName string) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpRenameWorkspace, newName, err) }()

	if err := e.requireWorkspaces(models.OpRenameWorkspace); err != nil {
		return err
	}
	cur, ok := e.registry.Current()
	if !ok {
		return models.NewError(models.OpRenameWorkspace, "", models.ErrCurrentWorkspaceNotFound)
	}
	if !pathmodel.IsValidWorkspaceName(newName) {
		return models.NewError(models.OpRenameWorkspace, newName, models.ErrInvalidName)
	}
	if e.registry.Has(newName) {
		return models.NewError(models.OpRenameWorkspace, newName, models.ErrAlreadyExists)
	}
	oldRoot, newRoot := workspace.Root(cur), workspace.Root(newName)
	exists, err := e.store.Exists(ctx, newRoot)
	if err != nil {
		return models.StorageError(models.OpRenameWorkspace, newRoot, err)
	}
	if exists {
		return models.NewError(models.OpRenameWorkspace, newName, models.ErrAlreadyExists)
	}
	if err := e.saveMeta(ctx); err != nil {
		return err
	}

	moves, err := e.tree.Rename(oldRoot, newRoot, filetree.RenameOptions{})
	if err != nil {
		return err
	}
	for _, m := range moves {
		e.tabs.Rename(m.Old, m.New)
	}
	if err := e.store.Rename(ctx, oldRoot, newRoot); err != nil {
		if _, revertErr := e.tree.Rename(newRoot, oldRoot, filetree.RenameOptions{}); revertErr == nil {
			for _, m := range moves {
				e.tabs.Rename(m.New, m.Old)
			}
		}
		return models.StorageError(models.OpRenameWorkspace, oldRoot, err)
	}
	if err := e.registry.Rename(cur, newName); err != nil {
		return err
	}
	e.log.Info("workspace renamed", zap.String("from", cur), zap.String("to", newName))
	e.publish(events.Event{Type: events.EventRenameWorkspace, Workspace: newName, Path: newRoot, OldPath: oldRoot})

	return e.switchTo(ctx, newName, "")
}

// DeleteWorkspace removes the active workspace from storage and the registry,
// then switches to the most recently registered workspace left, if any.
func (e *Explorer) DeleteWorkspace(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpDeleteWorkspace, "", err) }()

	if err := e.requireWorkspaces(models.OpDeleteWorkspace); err != nil {
		return err
	}
	cur, ok := e.registry.Current()
	if !ok {
		return models.NewError(models.OpDeleteWorkspace, "", models.ErrCurrentWorkspaceNotFound)
	}
	if !e.registry.Has(cur) {
		return models.NewError(models.OpDeleteWorkspace, cur, models.ErrWorkspaceNotFound)
	}

	root := workspace.Root(cur)
	err = e.store.RemoveDir(ctx, root, storage.RemoveOptions{Recursive: true})
	if err != nil && !errors.Is(err, storage.ErrNotExist) {
		return models.StorageError(models.OpDeleteWorkspace, root, err)
	}
	if err := e.registry.Remove(cur); err != nil {
		return err
	}
	e.reset()
	e.log.Info("workspace deleted", zap.String("workspace", cur))
	e.publish(events.Event{Type: events.EventDeleteWorkspace, Workspace: cur, Path: root})

	if next, ok := e.registry.Latest(); ok {
		return e.switchTo(ctx, next, "")
	}
	if err := e.saveRegistry(ctx); err != nil {
		return err
	}
	e.publishCurrent()
	return nil
}

// SaveMeta writes the tab and position metadata of the active workspace.
// It does nothing for temporary projects or without an active workspace.
func (e *Explorer) SaveMeta(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { metrics.RecordOperation(models.OpSaveMeta, err) }()
	return e.saveMeta(ctx)
}

// reset drops the in-memory state of the active workspace.
func (e *Explorer) reset() {
	e.tree = filetree.New("")
	e.tabs = tabs.New()
	e.state = StateNoWorkspace
	_ = e.registry.SetCurrent("")
}

// switchTo flushes the active workspace's metadata and loads name in its
// place. The new state is built aside and swapped in only when loading worked.
func (e *Explorer) switchTo(ctx context.Context, name, open string) error {
	if !e.registry.Has(name) {
		return models.NewError(models.OpSwitchWorkspace, name, models.ErrWorkspaceNotFound)
	}
	if err := e.saveMeta(ctx); err != nil {
		return err
	}

	start := time.Now()
	tree, tm, current, err := e.load(ctx, name)
	if err != nil {
		return err
	}
	prevTree, prevTabs, prevState := e.tree, e.tabs, e.state
	prevName, _ := e.registry.Current()

	e.tree, e.tabs, e.state = tree, tm, StateWorkspace
	if err := e.registry.SetCurrent(name); err != nil {
		return err
	}
	preferred := current
	if open != "" {
		preferred = workspace.Root(name) + strings.TrimPrefix(open, "/")
	}
	e.openDefault(preferred)

	if err := e.saveRegistry(ctx); err != nil {
		e.tree, e.tabs, e.state = prevTree, prevTabs, prevState
		_ = e.registry.SetCurrent(prevName)
		return err
	}
	metrics.RecordWorkspaceLoad(time.Since(start))
	e.log.Info("workspace loaded",
		zap.String("workspace", name),
		zap.Int("entries", e.tree.Len()),
		zap.Int("tabs", e.tabs.Len()),
		zap.Duration("took", time.Since(start)))

	e.publish(events.Event{Type: events.EventSwitchWorkspace, Workspace: name, Path: workspace.Root(name)})
	e.publishCurrent()
	return nil
}

// load reads workspace name from storage. It returns the tree, the tabs
// recorded in the metadata and the recorded current file.
func (e *Explorer) load(ctx context.Context, name string) (*filetree.Tree, *tabs.Manager, string, error) {
	root := workspace.Root(name)
	metaDir := root + workspace.MetaDir

	paths, err := storage.Walk(ctx, e.store, root)
	if err != nil {
		return nil, nil, "", models.StorageError(models.OpSwitchWorkspace, root, err)
	}
	tree := filetree.New(workspace.ProtectedPath(name))
	for _, p := range paths {
		if pathmodel.HasPrefix(metaDir, p) {
			continue
		}
		if pathmodel.IsFolder(p) {
			tree.Load(p, "")
			continue
		}
		content, err := e.store.ReadToString(ctx, p)
		if err != nil {
			return nil, nil, "", models.StorageError(models.OpSwitchWorkspace, p, err)
		}
		tree.Load(p, content)
	}

	tm := tabs.New()
	entries, err := e.readMeta(ctx, name)
	if err != nil {
		return nil, nil, "", err
	}
	var open []string
	current := ""
	for _, entry := range entries {
		p := root + strings.TrimPrefix(entry.Path, "/")
		if _, ok := tree.Read(p); !ok {
			continue
		}
		if entry.Position != nil {
			pos := *entry.Position
			tree.SetMeta(p, &models.FileMeta{Position: &pos})
		}
		if entry.IsTab {
			open = append(open, p)
		}
		if entry.IsCurrent {
			current = p
		}
	}
	tm.SetAll(open)
	return tree, tm, current, nil
}

// readMeta reads the metadata file of name. A missing or unreadable file
// yields no entries.
func (e *Explorer) readMeta(ctx context.Context, name string) ([]models.MetaEntry, error) {
	metaPath := workspace.MetaPath(name)
	raw, err := e.store.ReadToString(ctx, metaPath)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, models.StorageError(models.OpSwitchWorkspace, metaPath, err)
	}
	var entries []models.MetaEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		e.log.Warn("ignoring unreadable workspace metadata",
			zap.String("workspace", name), zap.Error(err))
		return nil, nil
	}
	return entries, nil
}

func (e *Explorer) saveMeta(ctx context.Context) error {
	if !e.persistent() {
		return nil
	}
	cur, _ := e.registry.Current()
	root := workspace.Root(cur)
	current, _ := e.tabs.Current()

	entry := func(p string, isTab bool) models.MetaEntry {
		me := models.MetaEntry{
			Path:      pathmodel.RelativeTo(root, p),
			IsTab:     isTab,
			IsCurrent: p == current,
		}
		if rec, ok := e.tree.Read(p); ok && rec.Meta != nil && rec.Meta.Position != nil {
			pos := *rec.Meta.Position
			me.Position = &pos
		}
		return me
	}

	entries := make([]models.MetaEntry, 0, e.tree.Len())
	for _, p := range e.tabs.Tabs() {
		entries = append(entries, entry(p, true))
	}
	for _, p := range e.tree.FilePaths() {
		if !e.tabs.Contains(p) {
			entries = append(entries, entry(p, false))
		}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return models.StorageError(models.OpSaveMeta, workspace.MetaPath(cur), err)
	}
	err = e.store.WriteFile(ctx, workspace.MetaPath(cur), string(data), storage.WriteOptions{CreateParents: true})
	return models.StorageError(models.OpSaveMeta, workspace.MetaPath(cur), err)
}

func (e *Explorer) saveRegistry(ctx context.Context) error {
	data, err := json.Marshal(e.registry)
	if err != nil {
		return models.StorageError(models.OpSaveMeta, workspace.RegistryPath, err)
	}
	err = e.store.WriteFile(ctx, workspace.RegistryPath, string(data), storage.WriteOptions{CreateParents: true})
	return models.StorageError(models.OpSaveMeta, workspace.RegistryPath, err)
}

// init loads the registry and the active workspace. It never leaves the
// explorer unusable: when the registry cannot be read or the active workspace
// fails to load, the registry is rebuilt from the directories under the
// projects folder and the last one listed is loaded instead. If that fails
// too the explorer starts without a workspace. The returned error is the
// failure that forced the recovery, nil when none was needed.
func (e *Explorer) init(ctx context.Context) error {
	raw, err := e.store.ReadToString(ctx, workspace.RegistryPath)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		return nil
	case err != nil:
		err = models.StorageError(models.OpInit, workspace.RegistryPath, err)
		e.log.Error("cannot read workspace registry", zap.Error(err))
		return e.recoverWorkspace(ctx, "", err)
	}
	if err := json.Unmarshal([]byte(raw), e.registry); err != nil {
		e.log.Warn("ignoring unreadable workspace registry", zap.Error(err))
		e.registry.Reset(nil, "")
		return e.recoverWorkspace(ctx, "", fmt.Errorf("decode workspace registry: %w", err))
	}

	cur, ok := e.registry.Current()
	if !ok {
		return nil
	}
	if err := e.switchTo(ctx, cur, ""); err != nil {
		e.log.Warn("cannot load active workspace, rebuilding registry from storage",
			zap.String("workspace", cur), zap.Error(err))
		return e.recoverWorkspace(ctx, cur, err)
	}
	return nil
}

// recoverWorkspace rebuilds the registry from the workspace directories in storage and
// makes one attempt to load the last of them other than failed. Whatever
// happens the explorer ends in a usable state; cause is passed through.
func (e *Explorer) recoverWorkspace(ctx context.Context, failed string, cause error) error {
	e.reset()
	names, err := e.listWorkspaceDirs(ctx)
	if err != nil {
		e.log.Error("cannot list workspace directories", zap.Error(err))
		return cause
	}
	if len(names) == 0 {
		e.registry.Reset(nil, "")
		if err := e.saveRegistry(ctx); err != nil {
			e.log.Warn("cannot save workspace registry", zap.Error(err))
		}
		return cause
	}
	e.registry.Reset(names, "")

	fallback := ""
	for i := len(names) - 1; i >= 0; i-- {
		if names[i] != failed {
			fallback = names[i]
			break
		}
	}
	if fallback == "" {
		e.log.Warn("no other workspace to recover, starting without a workspace")
		return cause
	}
	e.log.Info("recovering workspace", zap.String("workspace", fallback))
	if err := e.switchTo(ctx, fallback, ""); err != nil {
		e.log.Error("workspace recovery failed, starting without a workspace",
			zap.String("workspace", fallback), zap.Error(err))
		e.reset()
	}
	return cause
}

// listWorkspaceDirs returns the valid workspace names found under the
// projects folder.
func (e *Explorer) listWorkspaceDirs(ctx context.Context) ([]string, error) {
	entries, err := e.store.ReadDir(ctx, workspace.ProjectsRoot)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, models.StorageError(models.OpInit, workspace.ProjectsRoot, err)
	}
	var names []string
	for _, name := range entries {
		if !pathmodel.IsValidWorkspaceName(name) {
			continue
		}
		st, err := e.store.Stat(ctx, workspace.Root(name))
		if err != nil {
			return nil, models.StorageError(models.OpInit, workspace.Root(name), err)
		}
		if st.IsDirectory {
			names = append(names, name)
		}
	}
	return names, nil
}
