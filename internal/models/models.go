// Package models contains the data types shared by the explorer packages.
package models

// Cursor is a selection range inside an open file.
type Cursor struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Position is the editor viewport state remembered per file.
type Position struct {
	Cursor  Cursor `json:"cursor"`
	TopLine int    `json:"topLine"`
}

// FileMeta is optional per-file metadata.
type FileMeta struct {
	Position *Position `json:"position,omitempty"`
}

// FileRecord is the in-memory value stored for a path.
// Folder markers carry Marker=true and no content.
type FileRecord struct {
	Content string    `json:"content"`
	Meta    *FileMeta `json:"meta,omitempty"`
	Marker  bool      `json:"-"`
}

// Clone returns a deep copy of the record.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	out := &FileRecord{Content: r.Content, Marker: r.Marker}
	if r.Meta != nil {
		meta := &FileMeta{}
		if r.Meta.Position != nil {
			pos := *r.Meta.Position
			meta.Position = &pos
		}
		out.Meta = meta
	}
	return out
}

// MetaEntry is one record of a workspace metadata file.
type MetaEntry struct {
	Path      string    `json:"path"`
	IsTab     bool      `json:"isTab"`
	IsCurrent bool      `json:"isCurrent"`
	Position  *Position `json:"position"`
}

// RegistryFile is the persisted workspace registry.
type RegistryFile struct {
	AllNames    []string `json:"allNames"`
	CurrentName *string  `json:"currentName"`
}

// FileView is the plain-data payload describing an open file.
type FileView struct {
	Path     string    `json:"path"`
	Content  string    `json:"content"`
	Position *Position `json:"position,omitempty"`
}

// ErrorResponse is the JSON body of every HTTP error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
