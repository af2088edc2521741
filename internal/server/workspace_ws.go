package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workspace/sdlc-console/internal/botturn"
	"github.com/workspace/sdlc-console/internal/dispatch"
	"github.com/workspace/sdlc-console/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsReadLimit    = 4 << 20
)

// Client → server frame types.
const (
	msgWidgetSnapshot  = "widget.snapshot"
	msgWidgetMutations = "widget.mutations"
	msgToolSelect      = "tool.select"
	msgContext         = "context"
	msgNavigate        = "navigate"
)

// Server → client event types.
const (
	eventSession  = "session"
	eventNavigate = "navigate"
	eventDispatch = "dispatch"
	eventError    = "error"
)

// wsMessage is a frame sent by the client.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsEvent is a frame sent to the client.
type wsEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type navigateEvent struct {
	Reason string `json:"reason"`
}

type dispatchEvent struct {
	Tool         string                     `json:"tool"`
	Label        string                     `json:"label"`
	Status       string                     `json:"status"` // completed | cooldown | error
	RetryAfterMs int64                      `json:"retryAfterMs,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Artifacts    map[string]json.RawMessage `json:"artifacts,omitempty"`
}

type toolSelectData struct {
	Tool string `json:"tool"`
}

type contextData struct {
	Usecase     *string `json:"usecase"`
	Prompt      *string `json:"prompt"`
	ProjectName *string `json:"projectName"`
}

// createUpgrader creates a WebSocket upgrader with origin validation.
// WebSocket upgrades bypass CORS, so origins are checked here.
func (s *Server) createUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  s.config.WSReadBufferSize,
		WriteBufferSize: s.config.WSWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Same-origin or non-browser client
				return true
			}
			if originAllowed(origin, s.config.AllowedOrigins) {
				return true
			}
			slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", s.config.AllowedOrigins)
			return false
		},
	}
}

// workspaceConn is one mounted workspace view.
type workspaceConn struct {
	s         *Server
	conn      *websocket.Conn
	projectID string
	ctx       context.Context
	cancel    context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once

	// Owned by the read goroutine.
	tree     *botturn.Tree
	detach   func()
	observed bool // registered with the server's widget observer

	mu          sync.Mutex
	watcher     *session.Watcher
	tool        string
	usecase     string
	prompt      string
	projectName string
}

// handleWorkspaceWS mounts the workspace view of a project. The socket
// lives as long as the session: on expiry the client gets a navigate event
// and the socket closes.
func (s *Server) handleWorkspaceWS(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	status := s.sessions.CheckExpiration(projectID)
	if status.State == session.Absent {
		writeError(w, http.StatusNotFound, "no session found")
		return
	}

	upgrader := s.createUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "projectId", projectID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	q := r.URL.Query()
	c := &workspaceConn{
		s:           s,
		conn:        conn,
		projectID:   projectID,
		ctx:         ctx,
		cancel:      cancel,
		tool:        s.config.DefaultTool,
		usecase:     q.Get("usecase"),
		projectName: q.Get("projectName"),
	}
	s.track(c)
	defer s.untrack(c)
	defer c.cleanup()

	_ = c.send(eventSession, s.viewOf(projectID, status))

	watcher, err := s.sessions.Watch(projectID, c.onExpired)
	if err != nil {
		// The record vanished between the check and the mount.
		c.navigate(string(session.ReasonRemoved))
		return
	}
	c.mu.Lock()
	c.watcher = watcher
	c.mu.Unlock()

	if s.observesWidget(projectID) {
		if err := s.widget.mount(c); err != nil {
			slog.Warn("Bot-turn detector attach failed", "projectId", projectID, "error", err)
			c.sendError("widget observation unavailable")
		} else {
			c.observed = true
		}
	}

	slog.Info("Workspace mounted", "projectId", projectID, "sessionId", watcher.SessionID())
	c.readLoop()
}

func (c *workspaceConn) readLoop() {
	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	go c.pingLoop()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Workspace socket read ended", "projectId", c.projectID, "error", err)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		if done := c.handleMessage(msg); done {
			return
		}
	}
}

func (c *workspaceConn) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// handleMessage processes one client frame. It reports whether the mount
// is over.
func (c *workspaceConn) handleMessage(msg wsMessage) bool {
	switch msg.Type {
	case msgWidgetSnapshot:
		if c.s.observesWidget(c.projectID) {
			c.sendError("widget is observed server-side")
			return false
		}
		var root botturn.Node
		if err := json.Unmarshal(msg.Data, &root); err != nil {
			c.sendError("invalid widget snapshot")
			return false
		}
		c.resetWidget(&root)

	case msgWidgetMutations:
		if c.s.observesWidget(c.projectID) {
			c.sendError("widget is observed server-side")
			return false
		}
		if c.tree == nil {
			c.sendError("widget snapshot required before mutations")
			return false
		}
		var changes []botturn.Change
		if err := json.Unmarshal(msg.Data, &changes); err != nil {
			c.sendError("invalid widget mutations")
			return false
		}
		if err := c.tree.Apply(changes); err != nil {
			c.sendError(err.Error())
		}

	case msgToolSelect:
		var data toolSelectData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid tool selection")
			return false
		}
		if _, ok := dispatch.Lookup(data.Tool); !ok {
			c.sendError("unknown tool")
			return false
		}
		c.mu.Lock()
		c.tool = data.Tool
		c.mu.Unlock()

	case msgContext:
		var data contextData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid context")
			return false
		}
		c.mu.Lock()
		if data.Usecase != nil {
			c.usecase = *data.Usecase
		}
		if data.Prompt != nil {
			c.prompt = *data.Prompt
		}
		if data.ProjectName != nil {
			c.projectName = *data.ProjectName
		}
		c.mu.Unlock()

	case msgNavigate:
		// The user went back to project selection.
		if w := c.currentWatcher(); w != nil {
			w.End()
		}
		c.navigate(string(session.ReasonNavigation))
		return true

	default:
		c.sendError("unknown message type")
	}
	return false
}

// resetWidget replaces the client-rendered widget tree and re-attaches the
// detector, so the new rendering counts as history.
func (c *workspaceConn) resetWidget(root *botturn.Node) {
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
	if c.tree == nil {
		c.tree = botturn.NewTree(root)
	} else {
		c.tree.Reset(root)
	}
	detach, err := c.s.detector.Attach(c.ctx, c.tree, c.onBotTurn)
	if err != nil {
		slog.Warn("Bot-turn detector attach failed", "projectId", c.projectID, "error", err)
		c.sendError("widget observation unavailable")
		return
	}
	c.detach = detach
}

// onBotTurn runs inside the widget's change notification, so the dispatch
// happens on its own goroutine.
func (c *workspaceConn) onBotTurn() {
	toolID, payload := c.turnRequest()
	slog.Info("Bot turn detected", "projectId", c.projectID, "tool", toolID)
	go func() {
		_ = c.send(eventDispatch, c.s.dispatchTurn(toolID, payload))
	}()
}

// turnRequest returns the selected tool and the payload built from the
// view's context and session.
func (c *workspaceConn) turnRequest() (string, dispatch.Payload) {
	c.mu.Lock()
	toolID := c.tool
	payload := dispatch.Payload{
		ProjectID:   c.projectID,
		Usecase:     c.usecase,
		Prompt:      c.prompt,
		ProjectName: c.projectName,
	}
	w := c.watcher
	c.mu.Unlock()
	if w != nil {
		payload.SessionID = w.SessionID()
	}
	return toolID, payload
}

// dispatchTurn runs one bot-turn dispatch on the server context and
// describes the outcome for the view.
func (s *Server) dispatchTurn(toolID string, payload dispatch.Payload) dispatchEvent {
	ev := dispatchEvent{Tool: toolID, Label: dispatch.Label(toolID)}

	result, err := s.dispatcher.Dispatch(s.ctx, toolID, payload)
	switch {
	case err == nil:
		ev.Status = "completed"
		ev.Artifacts = result.Artifacts
	case errors.Is(err, dispatch.ErrCoolingDown):
		ev.Status = "cooldown"
		ev.RetryAfterMs = s.cooldownRemaining(toolID).Milliseconds()
	default:
		slog.Warn("Bot-turn dispatch failed", "projectId", payload.ProjectID, "tool", toolID, "error", err)
		ev.Status = "error"
		ev.Error = err.Error()
	}
	return ev
}

// onExpired is the session's expiry callback: the view navigates back to
// project selection.
func (c *workspaceConn) onExpired(reason session.Reason) {
	c.navigate(string(reason))
}

func (c *workspaceConn) navigate(reason string) {
	_ = c.send(eventNavigate, navigateEvent{Reason: reason})
	c.closeWith(websocket.CloseNormalClosure, "session ended")
}

func (c *workspaceConn) shutdown(reason string) {
	c.closeWith(websocket.CloseGoingAway, reason)
}

func (c *workspaceConn) currentWatcher() *session.Watcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watcher
}

// cleanup is the unmount: the detector and the watcher stop, the stored
// session stays.
func (c *workspaceConn) cleanup() {
	c.cancel()
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
	if c.observed {
		c.s.widget.unmount(c)
		c.observed = false
	}
	if w := c.currentWatcher(); w != nil {
		w.Close()
	}
	c.closeWith(websocket.CloseNormalClosure, "")
	slog.Debug("Workspace unmounted", "projectId", c.projectID)
}

func (c *workspaceConn) send(eventType string, data interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(wsEvent{Type: eventType, Data: data}); err != nil {
		slog.Debug("Workspace socket write failed", "projectId", c.projectID, "event", eventType, "error", err)
		return err
	}
	return nil
}

func (c *workspaceConn) sendError(message string) {
	_ = c.send(eventError, map[string]string{"message": message})
}

func (c *workspaceConn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}
