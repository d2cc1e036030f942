// Package api exposes the explorer core over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/explorer/internal/auth"
	"github.com/fruitsalade/explorer/internal/events"
	"github.com/fruitsalade/explorer/internal/explorer"
	"github.com/fruitsalade/explorer/internal/filetree"
	"github.com/fruitsalade/explorer/internal/logging"
	"github.com/fruitsalade/explorer/internal/metrics"
	"github.com/fruitsalade/explorer/internal/models"
)

// maxBodySize caps JSON request bodies, file contents included.
const maxBodySize = 32 << 20

// Server is the explorer HTTP server.
type Server struct {
	core *explorer.Explorer
	auth *auth.Auth
}

// NewServer creates a server for core. authHandler may be nil, in which case
// the API is served without authentication.
func NewServer(core *explorer.Explorer, authHandler *auth.Auth) *Server {
	return &Server{core: core, auth: authHandler}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	protected := http.NewServeMux()

	protected.HandleFunc("GET /api/v1/state", s.handleState)
	protected.HandleFunc("GET /api/v1/children/{path...}", s.handleChildren)

	// Items
	protected.HandleFunc("GET /api/v1/items/{path...}", s.handleReadItem)
	protected.HandleFunc("PUT /api/v1/items/{path...}", s.handleSaveFile)
	protected.HandleFunc("POST /api/v1/items/{path...}", s.handleCreateItem)
	protected.HandleFunc("DELETE /api/v1/items/{path...}", s.handleDeleteItem)
	protected.HandleFunc("POST /api/v1/rename", s.handleRename)

	// Tabs and editor positions
	protected.HandleFunc("POST /api/v1/tabs/open", s.handleOpen)
	protected.HandleFunc("POST /api/v1/tabs/close", s.handleClose)
	protected.HandleFunc("PUT /api/v1/tabs", s.handleSetTabs)
	protected.HandleFunc("PUT /api/v1/position/{path...}", s.handleSetPosition)

	// Workspaces
	protected.HandleFunc("GET /api/v1/workspaces", s.handleListWorkspaces)
	protected.HandleFunc("POST /api/v1/workspaces", s.handleNewWorkspace)
	protected.HandleFunc("POST /api/v1/workspaces/switch", s.handleSwitchWorkspace)
	protected.HandleFunc("PUT /api/v1/workspaces/current", s.handleRenameWorkspace)
	protected.HandleFunc("DELETE /api/v1/workspaces/current", s.handleDeleteWorkspace)

	// SSE event stream
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	if s.auth != nil {
		mux.Handle("/api/v1/", s.auth.Middleware(protected))
	} else {
		mux.Handle("/api/v1/", protected)
	}

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StateResponse describes the explorer as seen by a client.
type StateResponse struct {
	State      string           `json:"state"`
	Workspace  *string          `json:"workspace"`
	Workspaces []string         `json:"workspaces"`
	Root       string           `json:"root"`
	Tabs       []string         `json:"tabs"`
	Current    *models.FileView `json:"currentFile"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{
		State:      s.core.State().String(),
		Workspaces: s.core.Workspaces(),
		Root:       s.core.Root(),
		Tabs:       s.core.Tabs(),
		Current:    s.core.CurrentFile(),
	}
	if name, ok := s.core.CurrentWorkspace(); ok {
		resp.Workspace = &name
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.core.ListChildren(r.PathValue("path"))
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, children)
}

// ItemRequest is the body of item create and save requests.
type ItemRequest struct {
	Content   string `json:"content"`
	Overwrite bool   `json:"overwrite"`
}

// ItemResponse is the body returned for a file.
type ItemResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleReadItem(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	content, err := s.core.ReadItem(path)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ItemResponse{Path: path, Content: content})
}

func (s *Server) handleSaveFile(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.core.SaveFile(r.Context(), r.PathValue("path"), req.Content); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	path := r.PathValue("path")
	opts := filetree.CreateOptions{Overwrite: req.Overwrite}
	if err := s.core.CreateItem(r.Context(), path, req.Content, opts); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.core.DeleteItem(r.Context(), r.PathValue("path")); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameRequest is the body of POST /api/v1/rename.
type RenameRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Overwrite bool   `json:"overwrite"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts := filetree.RenameOptions{Overwrite: req.Overwrite}
	if err := s.core.RenameItem(r.Context(), req.From, req.To, opts); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PathRequest names a single item.
type PathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.core.OpenFile(r.Context(), req.Path)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, view)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.core.CloseFile(r.Context(), req.Path)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]*models.FileView{"currentFile": view})
}

// TabsRequest is the body of PUT /api/v1/tabs.
type TabsRequest struct {
	Tabs []string `json:"tabs"`
}

func (s *Server) handleSetTabs(w http.ResponseWriter, r *http.Request) {
	var req TabsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.core.SetTabs(r.Context(), req.Tabs); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, TabsRequest{Tabs: s.core.Tabs()})
}

func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	var pos models.Position
	if !s.decode(w, r, &pos) {
		return
	}
	if err := s.core.SetPosition(r.Context(), r.PathValue("path"), pos); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WorkspacesResponse lists the registered workspaces.
type WorkspacesResponse struct {
	Workspaces []string `json:"workspaces"`
	Current    *string  `json:"current"`
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	resp := WorkspacesResponse{Workspaces: s.core.Workspaces()}
	if name, ok := s.core.CurrentWorkspace(); ok {
		resp.Current = &name
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// WorkspaceRequest is the body of workspace create, switch and rename requests.
type WorkspaceRequest struct {
	Name          string            `json:"name"`
	TemplateFiles map[string]string `json:"templateFiles,omitempty"`
	DefaultOpen   string            `json:"defaultOpen,omitempty"`
}

func (s *Server) handleNewWorkspace(w http.ResponseWriter, r *http.Request) {
	var req WorkspaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts := explorer.WorkspaceOptions{TemplateFiles: req.TemplateFiles, DefaultOpen: req.DefaultOpen}
	if err := s.core.NewWorkspace(r.Context(), req.Name, opts); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleSwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	var req WorkspaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.core.SwitchWorkspace(r.Context(), req.Name); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleRenameWorkspace(w http.ResponseWriter, r *http.Request) {
	var req WorkspaceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.core.RenameWorkspace(r.Context(), req.Name); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.core.DeleteWorkspace(r.Context()); err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, unsubscribe := s.core.Events().Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps an explorer error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidName), errors.Is(err, models.ErrTypeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrWorkspaceNotFound),
		errors.Is(err, models.ErrCurrentWorkspaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrProtectedPath):
		return http.StatusForbidden
	case errors.Is(err, models.ErrTemporaryProject):
		return http.StatusMethodNotAllowed
	case errors.Is(err, models.ErrStorageFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) sendCoreError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("explorer operation failed", zap.Int("status", code), zap.Error(err))
	}
	s.sendError(w, code, err.Error())
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
