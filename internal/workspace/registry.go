// Package workspace keeps the set of named workspaces and the active one.
package workspace

import (
	"encoding/json"
	"fmt"

	"github.com/fruitsalade/explorer/internal/models"
	"github.com/fruitsalade/explorer/internal/pathmodel"
)

const (
	// ProjectsRoot is the storage folder holding every workspace.
	ProjectsRoot = "/projects/"

	// RegistryPath is where the registry is persisted.
	RegistryPath = ProjectsRoot + ".workspaces.json"

	// MetaDir is the per-workspace folder holding explorer metadata.
	MetaDir = ".workspace/"

	// MetaFile is the metadata file name inside MetaDir.
	MetaFile = "metadata.json"

	// SourceDir is the protected source root relative to a workspace root.
	SourceDir = "src/"
)

// Root returns the root prefix owned by workspace name.
func Root(name string) string {
	return ProjectsRoot + name + "/"
}

// MetaPath returns the metadata file path of workspace name.
func MetaPath(name string) string {
	return Root(name) + MetaDir + MetaFile
}

// ProtectedPath returns the source root of workspace name.
func ProtectedPath(name string) string {
	return Root(name) + SourceDir
}

// Registry holds workspace names in registration order and the current name.
type Registry struct {
	names   []string
	current string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of workspaces.
func (r *Registry) Len() int { return len(r.names) }

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	return r.index(name) >= 0
}

func (r *Registry) index(name string) int {
	for i, n := range r.names {
		if n == name {
			return i
		}
	}
	return -1
}

// Current returns the active workspace name.
func (r *Registry) Current() (string, bool) {
	return r.current, r.current != ""
}

// Latest returns the most recently registered name.
func (r *Registry) Latest() (string, bool) {
	if len(r.names) == 0 {
		return "", false
	}
	return r.names[len(r.names)-1], true
}

// Add registers name.
func (r *Registry) Add(name string) error {
	if !pathmodel.IsValidWorkspaceName(name) {
		return models.NewError(models.OpNewWorkspace, name, models.ErrInvalidName)
	}
	if r.Has(name) {
		return models.NewError(models.OpNewWorkspace, name, models.ErrAlreadyExists)
	}
	r.names = append(r.names, name)
	return nil
}

// Remove unregisters name. The current name is cleared when it is removed.
func (r *Registry) Remove(name string) error {
	idx := r.index(name)
	if idx < 0 {
		return models.NewError(models.OpDeleteWorkspace, name, models.ErrWorkspaceNotFound)
	}
	r.names = append(r.names[:idx], r.names[idx+1:]...)
	if r.current == name {
		r.current = ""
	}
	return nil
}

// Rename replaces oldName with newName in place.
func (r *Registry) Rename(oldName, newName string) error {
	idx := r.index(oldName)
	if idx < 0 {
		return models.NewError(models.OpRenameWorkspace, oldName, models.ErrWorkspaceNotFound)
	}
	if !pathmodel.IsValidWorkspaceName(newName) {
		return models.NewError(models.OpRenameWorkspace, newName, models.ErrInvalidName)
	}
	if r.Has(newName) {
		return models.NewError(models.OpRenameWorkspace, newName, models.ErrAlreadyExists)
	}
	r.names[idx] = newName
	if r.current == oldName {
		r.current = newName
	}
	return nil
}

// SetCurrent makes name the active workspace. An empty name clears it.
func (r *Registry) SetCurrent(name string) error {
	if name != "" && !r.Has(name) {
		return models.NewError(models.OpSwitchWorkspace, name, models.ErrWorkspaceNotFound)
	}
	r.current = name
	return nil
}

// Reset replaces the whole registry.
func (r *Registry) Reset(names []string, current string) {
	r.names = nil
	for _, n := range names {
		if pathmodel.IsValidWorkspaceName(n) && !r.Has(n) {
			r.names = append(r.names, n)
		}
	}
	r.current = ""
	if r.Has(current) {
		r.current = current
	}
}

// MarshalJSON encodes the registry in its file format.
func (r *Registry) MarshalJSON() ([]byte, error) {
	f := models.RegistryFile{AllNames: r.Names()}
	if r.current != "" {
		cur := r.current
		f.CurrentName = &cur
	}
	return json.Marshal(f)
}

// UnmarshalJSON decodes the registry file format. Invalid and duplicate names
// are dropped.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var f models.RegistryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode workspace registry: %w", err)
	}
	cur := ""
	if f.CurrentName != nil {
		cur = *f.CurrentName
	}
	r.Reset(f.AllNames, cur)
	return nil
}
