// Package filetree provides the in-memory, path-addressed file tree.
//
// Files are keyed by canonical path. Folders have no record of their own: a
// folder exists while any key has its path as a prefix, or while an empty
// marker entry is stored under the folder path itself.
package filetree

import (
	"sort"
	"strings"

	"github.com/fruitsalade/explorer/internal/models"
	"github.com/fruitsalade/explorer/internal/pathmodel"
)

// CreateOptions controls Create.
type CreateOptions struct {
	Overwrite bool
}

// RenameOptions controls Rename.
type RenameOptions struct {
	Overwrite bool
}

// Move records one re-keyed entry of a rename.
type Move struct {
	Old string
	New string
}

// Children is the result of ListChildren. Both lists hold bare names.
type Children struct {
	Folders []string `json:"folders"`
	Files   []string `json:"files"`
}

// Tree maps canonical paths to file records. It is not safe for concurrent use.
type Tree struct {
	files     map[string]*models.FileRecord
	protected string
}

// New creates an empty tree. protected is the path that Delete and Rename
// refuse to touch; it may be empty.
func New(protected string) *Tree {
	return &Tree{
		files:     make(map[string]*models.FileRecord),
		protected: protected,
	}
}

// Protected returns the protected path.
func (t *Tree) Protected() string { return t.protected }

// SetProtected replaces the protected path.
func (t *Tree) SetProtected(path string) { t.protected = path }

// Len returns the number of stored entries, markers included.
func (t *Tree) Len() int { return len(t.files) }

// Clear drops every entry.
func (t *Tree) Clear() {
	t.files = make(map[string]*models.FileRecord)
}

// Exists reports whether path is present. A folder is present when any key
// lies under it.
func (t *Tree) Exists(path string) bool {
	if _, ok := t.files[path]; ok {
		return true
	}
	if !pathmodel.IsFolder(path) {
		return false
	}
	for key := range t.files {
		if strings.HasPrefix(key, path) {
			return true
		}
	}
	return false
}

// occupied reports whether path or its other-type twin ("x" vs "x/") exists.
func (t *Tree) occupied(path string) bool {
	if t.Exists(path) {
		return true
	}
	if pathmodel.IsFolder(path) {
		_, ok := t.files[strings.TrimSuffix(path, "/")]
		return ok
	}
	return t.Exists(path + "/")
}

// checkAncestors validates the folders above path. A folder whose name is
// taken by a file is AlreadyExists; a folder that does not exist yet must
// have a valid name, since storing path creates it.
func (t *Tree) checkAncestors(op, path string) error {
	for dir := pathmodel.ParentPath(path); dir != "/"; dir = pathmodel.ParentPath(dir) {
		if rec, ok := t.files[strings.TrimSuffix(dir, "/")]; ok && !rec.Marker {
			return models.NewError(op, path, models.ErrAlreadyExists)
		}
		if !t.Exists(dir) && !pathmodel.IsValidItemName(pathmodel.ItemName(dir)) {
			return models.NewError(op, path, models.ErrInvalidName)
		}
	}
	return nil
}

// Create stores a new file with content, or a marker for a folder path.
func (t *Tree) Create(path, content string, opts CreateOptions) error {
	if !pathmodel.IsValidItemName(pathmodel.ItemName(path)) {
		return models.NewError(models.OpCreate, path, models.ErrInvalidName)
	}
	if err := t.checkAncestors(models.OpCreate, path); err != nil {
		return err
	}
	if t.occupied(path) {
		if !opts.Overwrite {
			return models.NewError(models.OpCreate, path, models.ErrAlreadyExists)
		}
		if !pathmodel.IsFolder(path) && t.replacesProtected(path) {
			return models.NewError(models.OpCreate, path, models.ErrProtectedPath)
		}
		t.dropTwin(path)
	}

	if pathmodel.IsFolder(path) {
		t.files[path] = &models.FileRecord{Marker: true}
		return nil
	}
	t.files[path] = &models.FileRecord{Content: content}
	return nil
}

// Load stores an entry read back from storage. Names are not validated, so
// dotfiles and other names Create refuses still load.
func (t *Tree) Load(path, content string) {
	if pathmodel.IsFolder(path) {
		t.ensureMarker(path)
		return
	}
	t.files[path] = &models.FileRecord{Content: content}
}

// dropTwin removes the other-type item sharing path's name.
func (t *Tree) dropTwin(path string) {
	if pathmodel.IsFolder(path) {
		delete(t.files, strings.TrimSuffix(path, "/"))
		return
	}
	for _, key := range t.keysUnder(path + "/") {
		delete(t.files, key)
	}
}

// Read returns the record stored at path. Folder markers are not returned.
func (t *Tree) Read(path string) (*models.FileRecord, bool) {
	rec, ok := t.files[path]
	if !ok || rec.Marker {
		return nil, false
	}
	return rec, true
}

// Write replaces the content of an existing file. It returns false and does
// nothing when path is absent.
func (t *Tree) Write(path, content string) bool {
	rec, ok := t.files[path]
	if !ok || rec.Marker {
		return false
	}
	rec.Content = content
	return true
}

// SetMeta attaches metadata to an existing file.
func (t *Tree) SetMeta(path string, meta *models.FileMeta) bool {
	rec, ok := t.files[path]
	if !ok || rec.Marker {
		return false
	}
	rec.Meta = meta
	return true
}

// isProtected reports whether deleting path would remove the protected root.
func (t *Tree) isProtected(path string) bool {
	if t.protected == "" {
		return false
	}
	return path == t.protected || pathmodel.HasPrefix(path, t.protected)
}

// replacesProtected reports whether overwriting path, or the folder sharing
// its name, would remove the protected root.
func (t *Tree) replacesProtected(path string) bool {
	if pathmodel.IsFolder(path) {
		return t.isProtected(path)
	}
	return t.isProtected(path + "/")
}

// keysUnder returns the keys affected by an operation on path, sorted.
func (t *Tree) keysUnder(path string) []string {
	var keys []string
	if !pathmodel.IsFolder(path) {
		if _, ok := t.files[path]; ok {
			keys = append(keys, path)
		}
		return keys
	}
	for key := range t.files {
		if strings.HasPrefix(key, path) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// ensureMarker keeps folder present after its last child went away.
func (t *Tree) ensureMarker(folder string) {
	if _, ok := t.files[folder]; !ok {
		t.files[folder] = &models.FileRecord{Marker: true}
	}
}

// Delete removes path and, for a folder, everything under it. The parent
// folder keeps a marker so it does not disappear. It returns the removed keys.
func (t *Tree) Delete(path string) ([]string, error) {
	if t.isProtected(path) {
		return nil, models.NewError(models.OpDelete, path, models.ErrProtectedPath)
	}
	keys := t.keysUnder(path)
	if len(keys) == 0 {
		return nil, models.NewError(models.OpDelete, path, models.ErrNotFound)
	}
	for _, key := range keys {
		delete(t.files, key)
	}
	t.ensureMarker(pathmodel.ParentPath(path))
	return keys, nil
}

// Rename re-keys oldPath to newPath. For folders every key under oldPath is
// moved with its suffix preserved.
func (t *Tree) Rename(oldPath, newPath string, opts RenameOptions) ([]Move, error) {
	if pathmodel.ItemTypeOf(oldPath) != pathmodel.ItemTypeOf(newPath) {
		return nil, models.NewError(models.OpRename, oldPath, models.ErrTypeMismatch)
	}
	if t.protected != "" && oldPath == t.protected {
		return nil, models.NewError(models.OpRename, oldPath, models.ErrProtectedPath)
	}
	if !pathmodel.IsValidItemName(pathmodel.ItemName(newPath)) {
		return nil, models.NewError(models.OpRename, newPath, models.ErrInvalidName)
	}
	if oldPath == newPath {
		if !t.Exists(oldPath) {
			return nil, models.NewError(models.OpRename, oldPath, models.ErrNotFound)
		}
		return nil, nil
	}
	folder := pathmodel.IsFolder(oldPath)
	if folder && strings.HasPrefix(newPath, oldPath) {
		// a folder cannot move into itself
		return nil, models.NewError(models.OpRename, newPath, models.ErrInvalidName)
	}

	keys := t.keysUnder(oldPath)
	if len(keys) == 0 {
		return nil, models.NewError(models.OpRename, oldPath, models.ErrNotFound)
	}
	if err := t.checkAncestors(models.OpRename, newPath); err != nil {
		return nil, err
	}
	if t.occupied(newPath) {
		if !opts.Overwrite || (folder && strings.HasPrefix(oldPath, newPath)) {
			return nil, models.NewError(models.OpRename, newPath, models.ErrAlreadyExists)
		}
		if t.replacesProtected(newPath) {
			return nil, models.NewError(models.OpRename, newPath, models.ErrProtectedPath)
		}
		for _, key := range t.keysUnder(newPath) {
			delete(t.files, key)
		}
		t.dropTwin(newPath)
	}

	moves := make([]Move, 0, len(keys))
	moved := make(map[string]*models.FileRecord, len(keys))
	for _, key := range keys {
		dst := newPath + strings.TrimPrefix(key, oldPath)
		moves = append(moves, Move{Old: key, New: dst})
		moved[dst] = t.files[key]
		delete(t.files, key)
	}
	for dst, rec := range moved {
		t.files[dst] = rec
	}

	if folder && t.protected != "" && strings.HasPrefix(t.protected, oldPath) {
		t.protected = newPath + strings.TrimPrefix(t.protected, oldPath)
	}
	t.ensureMarker(pathmodel.ParentPath(oldPath))
	return moves, nil
}

// ListChildren returns the immediate children of folder. A name is a folder
// when more path follows it in some key.
func (t *Tree) ListChildren(folder string) Children {
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	folders := make(map[string]struct{})
	files := make(map[string]struct{})
	for key := range t.files {
		rest, ok := strings.CutPrefix(key, folder)
		if !ok || rest == "" {
			continue
		}
		if name, _, more := strings.Cut(rest, "/"); more {
			folders[name] = struct{}{}
		} else {
			files[name] = struct{}{}
		}
	}
	return Children{Folders: sortedKeys(folders), Files: sortedKeys(files)}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Paths returns every key, markers included, sorted.
func (t *Tree) Paths() []string {
	out := make([]string, 0, len(t.files))
	for key := range t.files {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// FilePaths returns the sorted paths of real files.
func (t *Tree) FilePaths() []string {
	out := make([]string, 0, len(t.files))
	for key, rec := range t.files {
		if !rec.Marker {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep copy of every entry.
func (t *Tree) Snapshot() map[string]*models.FileRecord {
	out := make(map[string]*models.FileRecord, len(t.files))
	for key, rec := range t.files {
		out[key] = rec.Clone()
	}
	return out
}
