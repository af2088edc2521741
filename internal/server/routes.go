package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/workspace/sdlc-console/internal/dispatch"
	"github.com/workspace/sdlc-console/internal/sandbox"
	"github.com/workspace/sdlc-console/internal/session"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"workspaceSockets": s.clientCount(),
		"authEnabled":      s.validator != nil,
		"widgetObserver":   s.widget != nil,
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools":       dispatch.Tools(),
		"defaultTool": s.config.DefaultTool,
	})
}

// sessionView is the JSON shape of a project's session.
type sessionView struct {
	ProjectID   string          `json:"projectId"`
	State       string          `json:"state"`
	SessionID   string          `json:"sessionId,omitempty"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	RemainingMs int64           `json:"remainingMs"`
	EditorURL   string          `json:"editorUrl,omitempty"`
	PreviewURL  string          `json:"previewUrl,omitempty"`
	Sandbox     *sandbox.Handle `json:"sandbox,omitempty"`
	Message     string          `json:"message,omitempty"`
}

func (s *Server) viewOf(projectID string, st session.Status) sessionView {
	v := sessionView{
		ProjectID:   projectID,
		State:       st.State.String(),
		SessionID:   st.SessionID,
		RemainingMs: st.Remaining.Milliseconds(),
	}
	if !st.CreatedAt.IsZero() {
		created := st.CreatedAt.UTC()
		expires := st.ExpiresAt(s.sessions.ExpiresAfter()).UTC()
		v.CreatedAt, v.ExpiresAt = &created, &expires
	}
	if st.State == session.Active {
		v.EditorURL, v.PreviewURL = s.urls.For(st.SessionID)
	}
	return v
}

// handleEnsureSession is the workspace mount: it returns the project's
// session, creating one when needed, and asks the Remote Session API to
// start its sandbox. A sandbox failure still returns 200 with no sandbox.
func (s *Server) handleEnsureSession(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")

	var body struct {
		RepoURL string `json:"repoUrl"`
	}
	if err := decodeOptionalJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, err := s.sessions.EnsureSession(r.Context(), projectID)
	if err != nil {
		slog.Error("Failed to ensure session", "projectId", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	view := s.viewOf(projectID, s.sessions.CheckExpiration(projectID))
	if view.SessionID == "" {
		view.SessionID = sessionID
	}

	handle, err := s.sessions.StartRemoteSandbox(r.Context(), sessionID, body.RepoURL)
	if err != nil {
		view.Message = "no session found"
	} else {
		view.Sandbox = handle
		if handle.EditorURL != "" {
			view.EditorURL = handle.EditorURL
		}
		if handle.PreviewURL != "" {
			view.PreviewURL = handle.PreviewURL
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	writeJSON(w, http.StatusOK, s.viewOf(projectID, s.sessions.CheckExpiration(projectID)))
}

// handleEndSession tears the session down because the user navigated back
// to project selection. Mounted sockets see the record vanish and navigate.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	sessionID, ended := s.sessions.EndSession(r.Context(), projectID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projectId": projectID,
		"sessionId": sessionID,
		"ended":     ended,
	})
}

type dispatchRequest struct {
	Usecase     string `json:"usecase"`
	Prompt      string `json:"prompt"`
	ProjectName string `json:"projectName"`
}

// handleDispatch is the manual refresh path. It goes through the same
// cooldown gate as bot-turn dispatches.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	toolID := r.PathValue("tool")

	var body dispatchRequest
	if err := decodeOptionalJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload := dispatch.Payload{
		ProjectID:   projectID,
		Usecase:     body.Usecase,
		Prompt:      body.Prompt,
		ProjectName: body.ProjectName,
	}
	if st := s.sessions.CheckExpiration(projectID); st.State == session.Active {
		payload.SessionID = st.SessionID
	}

	result, err := s.dispatcher.Dispatch(r.Context(), toolID, payload)
	if err != nil {
		s.writeDispatchError(w, toolID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, toolID string, err error) {
	switch {
	case errors.Is(err, dispatch.ErrUnknownTool):
		writeError(w, http.StatusNotFound, "unknown tool")
	case errors.Is(err, dispatch.ErrCoolingDown):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(s.cooldownRemaining(toolID))))
		writeError(w, http.StatusTooManyRequests, "tool is cooling down")
	case errors.Is(err, dispatch.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "workflow webhooks not configured")
	default:
		slog.Error("Dispatch failed", "tool", toolID, "error", err)
		writeError(w, http.StatusBadGateway, "workflow dispatch failed")
	}
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	outputs, err := s.dispatcher.Outputs(projectID)
	if err != nil {
		slog.Error("Failed to read outputs", "projectId", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read outputs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projectId": projectID,
		"outputs":   outputs,
	})
}

func (s *Server) cooldownRemaining(toolID string) time.Duration {
	if gate := s.dispatcher.Gate(); gate != nil {
		return gate.Remaining(toolID)
	}
	return 0
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// decodeOptionalJSON decodes r's body into v. An empty body is not an error.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
