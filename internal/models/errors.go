package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName indicates an item or workspace name failed validation
	ErrInvalidName = errors.New("invalid name")

	// ErrAlreadyExists indicates the target path or workspace is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrTypeMismatch indicates a rename between a file and a folder path
	ErrTypeMismatch = errors.New("item type mismatch")

	// ErrProtectedPath indicates an attempt to rename or delete the source root
	ErrProtectedPath = errors.New("protected path")

	// ErrNotFound indicates the path does not exist in the tree
	ErrNotFound = errors.New("path not found")

	// ErrWorkspaceNotFound indicates an unknown workspace name
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrCurrentWorkspaceNotFound indicates no workspace is active
	ErrCurrentWorkspaceNotFound = errors.New("current workspace not found")

	// ErrStorageFailure wraps errors returned by the persistence adapter
	ErrStorageFailure = errors.New("storage failure")

	// ErrTemporaryProject indicates a workspace operation on a temporary project
	ErrTemporaryProject = errors.New("temporary project has no workspaces")
)

// Error carries the operation and path that failed together with the error
// kind (one of the sentinels above) and the underlying cause, if any.
type Error struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error of the given kind.
func NewError(op, path string, kind error) *Error {
	return &Error{Op: op, Path: path, Kind: kind}
}

// StorageError wraps an adapter error as ErrStorageFailure. Nil stays nil.
func StorageError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && errors.Is(err, ErrStorageFailure) {
		return err
	}
	return &Error{Op: op, Path: path, Kind: ErrStorageFailure, Err: err}
}

// Common operation names used in errors and metrics.
const (
	OpCreate          = "create"
	OpRead            = "read"
	OpWrite           = "write"
	OpDelete          = "delete"
	OpRename          = "rename"
	OpOpen            = "open"
	OpClose           = "close"
	OpSetTabs         = "set_tabs"
	OpSetPosition     = "set_position"
	OpNewWorkspace    = "new_workspace"
	OpSwitchWorkspace = "switch_workspace"
	OpRenameWorkspace = "rename_workspace"
	OpDeleteWorkspace = "delete_workspace"
	OpSaveMeta        = "save_meta"
	OpInit            = "init"
)
