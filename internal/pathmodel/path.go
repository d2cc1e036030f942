// Package pathmodel holds the pure path rules of the explorer.
//
// A canonical path is absolute. Folder paths end with "/", file paths do not;
// the trailing slash is the only thing that decides the item type.
package pathmodel

import (
	"regexp"
	"strings"
	"unicode"
)

// Kind is the item type of a canonical path.
type Kind int

const (
	File Kind = iota
	Folder
)

func (k Kind) String() string {
	if k == Folder {
		return "folder"
	}
	return "file"
}

// ItemTypeOf returns Folder iff path ends with "/".
func ItemTypeOf(path string) Kind {
	if strings.HasSuffix(path, "/") {
		return Folder
	}
	return File
}

// IsFolder reports whether path is a folder path.
func IsFolder(path string) bool {
	return ItemTypeOf(path) == Folder
}

// Clean canonicalizes path: forces a leading "/" and collapses repeated
// slashes. A trailing slash is kept, so the item type never changes.
func Clean(path string) string {
	if path == "" {
		return "/"
	}
	folder := strings.HasSuffix(path, "/")
	segs := Segments(path)
	if len(segs) == 0 {
		return "/"
	}
	out := "/" + strings.Join(segs, "/")
	if folder {
		out += "/"
	}
	return out
}

// Segments returns the non-empty segments of path.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// ItemName returns the last non-empty segment of path ("" for "/").
func ItemName(path string) string {
	segs := Segments(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// ParentPath returns the canonical path of the enclosing folder.
// The result always ends with "/"; the parent of "/" is "/".
func ParentPath(path string) string {
	segs := Segments(path)
	if len(segs) <= 1 {
		return "/"
	}
	return "/" + strings.Join(segs[:len(segs)-1], "/") + "/"
}

// Join builds the path of name inside folder.
func Join(folder, name string, kind Kind) string {
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	out := folder + strings.Trim(name, "/")
	if kind == Folder {
		out += "/"
	}
	return out
}

// HasPrefix reports whether path lies inside folder (or is folder itself).
func HasPrefix(folder, path string) bool {
	return IsFolder(folder) && strings.HasPrefix(path, folder)
}

// RelativeTo strips root from path. Paths outside root are returned unchanged.
func RelativeTo(root, path string) string {
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	if rel, ok := strings.CutPrefix(path, root); ok {
		return rel
	}
	return path
}

// IsValidItemName reports whether name may be used for a file or folder.
func IsValidItemName(name string) bool {
	switch {
	case name == "":
		return false
	case strings.HasPrefix(name, "."):
		return false
	case strings.Contains(name, "//"), strings.Contains(name, ".."):
		return false
	case strings.HasSuffix(name, "/"), strings.HasSuffix(name, "."):
		return false
	}
	return true
}

var workspaceNameRe = regexp.MustCompile(`^[\w\- ]+$`)

// IsValidWorkspaceName permits word characters, spaces and hyphens, but not a
// leading space.
func IsValidWorkspaceName(name string) bool {
	if name == "" {
		return false
	}
	if unicode.IsSpace([]rune(name)[0]) {
		return false
	}
	return workspaceNameRe.MatchString(name)
}
