package explorer

import (
	"context"
	"errors"

	"github.com/fruitsalade/explorer/internal/events"
	"github.com/fruitsalade/explorer/internal/filetree"
	"github.com/fruitsalade/explorer/internal/models"
	"github.com/fruitsalade/explorer/internal/pathmodel"
	"github.com/fruitsalade/explorer/internal/storage"
)

// CreateItem creates a file with content, or an empty folder when path ends
// with "/".
func (e *Explorer) CreateItem(ctx context.Context, path, content string, opts filetree.CreateOptions) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpCreate, path, err) }()

	p, err := e.resolve(models.OpCreate, path)
	if err != nil {
		return err
	}
	hadTwin := e.tree.Exists(twin(p))
	if err := e.tree.Create(p, content, opts); err != nil {
		return err
	}
	if hadTwin {
		e.closeMissingTabs()
	}

	if e.persistent() {
		if hadTwin {
			if err := e.removeStored(ctx, models.OpCreate, twin(p)); err != nil {
				return err
			}
		}
		if pathmodel.IsFolder(p) {
			err = e.store.CreateDir(ctx, p, true)
		} else {
			err = e.store.WriteFile(ctx, p, content, storage.WriteOptions{CreateParents: true})
		}
		if err != nil {
			return models.StorageError(models.OpCreate, p, err)
		}
		if err := e.saveMeta(ctx); err != nil {
			return err
		}
	}

	e.publish(events.Event{Type: events.EventCreateItem, Path: p})
	return nil
}

// ReadItem returns the content of a file.
func (e *Explorer) ReadItem(path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.resolve(models.OpRead, path)
	if err != nil {
		return "", err
	}
	rec, ok := e.tree.Read(p)
	if !ok {
		return "", models.NewError(models.OpRead, p, models.ErrNotFound)
	}
	return rec.Content, nil
}

// SaveFile replaces the content of an existing file.
func (e *Explorer) SaveFile(ctx context.Context, path, content string) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpWrite, path, err) }()

	p, err := e.resolve(models.OpWrite, path)
	if err != nil {
		return err
	}
	if !e.tree.Write(p, content) {
		return models.NewError(models.OpWrite, p, models.ErrNotFound)
	}
	if e.persistent() {
		err := e.store.WriteFile(ctx, p, content, storage.WriteOptions{CreateParents: true})
		if err != nil {
			return models.StorageError(models.OpWrite, p, err)
		}
		return e.saveMeta(ctx)
	}
	return nil
}

// RenameItem moves a file or folder. Both paths must have the same item type.
// Open tabs follow the move and keep their positions.
func (e *Explorer) RenameItem(ctx context.Context, oldPath, newPath string, opts filetree.RenameOptions) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpRename, oldPath, err) }()

	src, err := e.resolve(models.OpRename, oldPath)
	if err != nil {
		return err
	}
	dst, err := e.resolve(models.OpRename, newPath)
	if err != nil {
		return err
	}

	replaced := e.tree.Exists(dst) || e.tree.Exists(twin(dst))
	prev, _ := e.tabs.Current()
	moves, err := e.tree.Rename(src, dst, opts)
	if err != nil {
		return err
	}
	if len(moves) == 0 {
		return nil
	}
	for _, m := range moves {
		e.tabs.Rename(m.Old, m.New)
	}
	e.closeMissingTabs()

	if e.persistent() {
		if replaced {
			if err := e.removeStored(ctx, models.OpRename, dst); err != nil {
				return err
			}
			if err := e.removeStored(ctx, models.OpRename, twin(dst)); err != nil {
				return err
			}
		}
		if err := e.store.CreateDir(ctx, pathmodel.ParentPath(dst), true); err != nil {
			return models.StorageError(models.OpRename, dst, err)
		}
		if err := e.store.Rename(ctx, src, dst); err != nil {
			return models.StorageError(models.OpRename, src, err)
		}
		if err := e.keepFolder(ctx, models.OpRename, pathmodel.ParentPath(src)); err != nil {
			return err
		}
		if err := e.saveMeta(ctx); err != nil {
			return err
		}
	}

	e.publish(events.Event{Type: events.EventRenameItem, Path: dst, OldPath: src})
	if cur, _ := e.tabs.Current(); cur != prev && !movedTo(moves, prev, cur) {
		e.publishCurrent()
	}
	return nil
}

// movedTo reports whether cur is where prev was moved.
func movedTo(moves []filetree.Move, prev, cur string) bool {
	for _, m := range moves {
		if m.Old == prev {
			return m.New == cur
		}
	}
	return false
}

// DeleteItem removes a file, or a folder with everything inside it. Tabs of
// removed files are closed.
func (e *Explorer) DeleteItem(ctx context.Context, path string) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpDelete, path, err) }()

	p, err := e.resolve(models.OpDelete, path)
	if err != nil {
		return err
	}
	prev, _ := e.tabs.Current()
	removed, err := e.tree.Delete(p)
	if err != nil {
		return err
	}
	for _, key := range removed {
		e.tabs.Close(key)
	}

	if e.persistent() {
		if err := e.removeStored(ctx, models.OpDelete, p); err != nil {
			return err
		}
		if err := e.keepFolder(ctx, models.OpDelete, pathmodel.ParentPath(p)); err != nil {
			return err
		}
		if err := e.saveMeta(ctx); err != nil {
			return err
		}
	}

	e.publish(events.Event{Type: events.EventDeleteItem, Path: p})
	e.publishCurrentIfChanged(prev)
	return nil
}

// ListChildren returns the immediate children of a folder. An empty path
// lists the active root.
func (e *Explorer) ListChildren(path string) (filetree.Children, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.resolve(models.OpRead, path)
	if err != nil {
		return filetree.Children{}, err
	}
	if !pathmodel.IsFolder(p) {
		p += "/"
	}
	if p != e.root() && !e.tree.Exists(p) {
		return filetree.Children{}, models.NewError(models.OpRead, p, models.ErrNotFound)
	}
	return e.tree.ListChildren(p), nil
}

// OpenFile makes a file current, adding a tab for it when needed.
func (e *Explorer) OpenFile(ctx context.Context, path string) (view *models.FileView, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpOpen, path, err) }()

	p, err := e.resolve(models.OpOpen, path)
	if err != nil {
		return nil, err
	}
	if _, ok := e.tree.Read(p); !ok {
		return nil, models.NewError(models.OpOpen, p, models.ErrNotFound)
	}
	e.tabs.Open(p)
	if err := e.saveMeta(ctx); err != nil {
		return nil, err
	}

	view = e.view(p)
	e.publish(events.Event{Type: events.EventOpenFile, Path: p, File: view})
	return view, nil
}

// CloseFile closes the tab of path and returns the file that became current,
// or nil when no tab is left. Closing a path without a tab changes nothing.
func (e *Explorer) CloseFile(ctx context.Context, path string) (view *models.FileView, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpClose, path, err) }()

	p, err := e.resolve(models.OpClose, path)
	if err != nil {
		return nil, err
	}
	if !e.tabs.Contains(p) {
		return e.currentView(), nil
	}
	prev, _ := e.tabs.Current()
	e.tabs.Close(p)
	if err := e.saveMeta(ctx); err != nil {
		return nil, err
	}

	e.publish(events.Event{Type: events.EventCloseFile, Path: p})
	e.publishCurrentIfChanged(prev)
	return e.currentView(), nil
}

// SetTabs replaces the open tabs. Duplicates are dropped; the current file
// stays current when it is still open.
func (e *Explorer) SetTabs(ctx context.Context, paths []string) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpSetTabs, "", err) }()

	resolved := make([]string, 0, len(paths))
	for _, path := range paths {
		p, err := e.resolve(models.OpSetTabs, path)
		if err != nil {
			return err
		}
		if _, ok := e.tree.Read(p); !ok {
			return models.NewError(models.OpSetTabs, p, models.ErrNotFound)
		}
		resolved = append(resolved, p)
	}

	prev, _ := e.tabs.Current()
	e.tabs.SetAll(resolved)
	if err := e.saveMeta(ctx); err != nil {
		return err
	}

	e.publish(events.Event{Type: events.EventSetTabs})
	e.publishCurrentIfChanged(prev)
	return nil
}

// SetPosition records the editor position of a file.
func (e *Explorer) SetPosition(ctx context.Context, path string, pos models.Position) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.done(models.OpSetPosition, path, err) }()

	p, err := e.resolve(models.OpSetPosition, path)
	if err != nil {
		return err
	}
	if !e.tree.SetMeta(p, &models.FileMeta{Position: &pos}) {
		return models.NewError(models.OpSetPosition, p, models.ErrNotFound)
	}
	return e.saveMeta(ctx)
}

// closeMissingTabs closes tabs whose file is no longer in the tree.
func (e *Explorer) closeMissingTabs() {
	for _, p := range e.tabs.Tabs() {
		if _, ok := e.tree.Read(p); !ok {
			e.tabs.Close(p)
		}
	}
}

// removeStored deletes path from storage. A path that is already gone is not
// an error.
func (e *Explorer) removeStored(ctx context.Context, op, path string) error {
	var err error
	if pathmodel.IsFolder(path) {
		err = e.store.RemoveDir(ctx, path, storage.RemoveOptions{Recursive: true})
	} else {
		err = e.store.RemoveFile(ctx, path)
	}
	if err == nil || errors.Is(err, storage.ErrNotExist) {
		return nil
	}
	return models.StorageError(op, path, err)
}

// keepFolder stores folder explicitly. Backends whose directories only exist
// while something lies under them would otherwise drop a folder emptied by a
// delete or move.
func (e *Explorer) keepFolder(ctx context.Context, op, folder string) error {
	err := e.store.CreateDir(ctx, folder, true)
	if err == nil || errors.Is(err, storage.ErrExist) {
		return nil
	}
	return models.StorageError(op, folder, err)
}
