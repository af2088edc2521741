// Package server provides the HTTP and websocket API of the console.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/workspace/sdlc-console/internal/auth"
	"github.com/workspace/sdlc-console/internal/botturn"
	"github.com/workspace/sdlc-console/internal/config"
	"github.com/workspace/sdlc-console/internal/dispatch"
	"github.com/workspace/sdlc-console/internal/sandbox"
	"github.com/workspace/sdlc-console/internal/session"
)

// Options wires the server's collaborators. Validator and Widget are
// optional.
type Options struct {
	Config     *config.Config
	Sessions   *session.Manager
	Dispatcher *dispatch.Dispatcher
	Detector   *botturn.Detector
	URLs       sandbox.URLs
	// Validator enables bearer-token auth when set.
	Validator *auth.JWTValidator
	// Widget is a server-side widget observer for the project named by
	// WidgetProject. Sockets of that project share it instead of sending
	// widget frames; other projects keep client-side observation.
	Widget        botturn.Source
	WidgetProject string
}

// Server is the HTTP server for the console.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	detector   *botturn.Detector
	urls       sandbox.URLs
	validator  *auth.JWTValidator
	widget     *widgetObserver // nil without server-side observation

	// ctx outlives individual sockets so a dispatch started by a bot turn
	// finishes after the client disconnects.
	ctx    context.Context
	cancel context.CancelFunc

	clientsMu sync.Mutex
	clients   map[*workspaceConn]struct{}
}

// New creates a new server instance.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Sessions == nil || opts.Dispatcher == nil || opts.Detector == nil {
		return nil, errors.New("server: sessions, dispatcher and detector are required")
	}
	if opts.Widget != nil && opts.WidgetProject == "" {
		return nil, errors.New("server: widget observation requires a project")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     opts.Config,
		sessions:   opts.Sessions,
		dispatcher: opts.Dispatcher,
		detector:   opts.Detector,
		urls:       opts.URLs,
		validator:  opts.Validator,
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*workspaceConn]struct{}),
	}
	if opts.Widget != nil {
		s.widget = newWidgetObserver(s, opts.Widget, opts.WidgetProject)
	}
	if s.validator == nil {
		slog.Warn("JWT auth disabled: JWKS_ENDPOINT not set")
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	// WriteTimeout stays 0: it would set a deadline on hijacked websocket
	// connections before the handler runs. Socket writes carry their own
	// deadline instead.
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:     corsMiddleware(mux, s.config.AllowedOrigins),
		ReadTimeout: s.config.HTTPReadTimeout,
		IdleTimeout: s.config.HTTPIdleTimeout,
	}
	return s, nil
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("Starting console", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server. Open workspace sockets are closed as
// unmounts: watchers stop, sessions stay stored.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.clientsMu.Lock()
	conns := make([]*workspaceConn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.clientsMu.Unlock()
	for _, c := range conns {
		c.shutdown("server shutting down")
	}

	return s.httpServer.Shutdown(ctx)
}

// observesWidget reports whether projectID's widget is observed server-side.
func (s *Server) observesWidget(projectID string) bool {
	return s.widget != nil && s.widget.projectID == projectID
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleListTools)

	mux.HandleFunc("POST /projects/{projectId}/session", s.authed(s.handleEnsureSession))
	mux.HandleFunc("GET /projects/{projectId}/session", s.authed(s.handleSessionStatus))
	mux.HandleFunc("DELETE /projects/{projectId}/session", s.authed(s.handleEndSession))

	mux.HandleFunc("POST /projects/{projectId}/tools/{tool}/dispatch", s.authed(s.handleDispatch))
	mux.HandleFunc("GET /projects/{projectId}/outputs", s.authed(s.handleOutputs))

	mux.HandleFunc("GET /projects/{projectId}/workspace/ws", s.authed(s.handleWorkspaceWS))
}

func (s *Server) track(c *workspaceConn) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) untrack(c *workspaceConn) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

func (s *Server) clientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// authed checks the bearer token when auth is enabled, and that the token
// grants the project in the path.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.validator == nil {
			next(w, r)
			return
		}
		claims, err := s.validator.ValidateRequest(r)
		if err != nil {
			slog.Debug("Request auth failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if projectID := r.PathValue("projectId"); projectID != "" && !claims.AllowsProject(projectID) {
			writeError(w, http.StatusForbidden, "project not permitted")
			return
		}
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, allowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", "Retry-After")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed checks origin against the allowlist. Supports wildcard
// patterns like "https://*.example.com".
func originAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	return false
}

// matchWildcardOrigin checks if origin matches a wildcard pattern.
// Pattern format: "https://*.example.com" matches "https://foo.example.com"
func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]

	if len(origin) < len(prefix)+len(suffix) {
		return false
	}
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}

	// The subdomain part must not contain "/"
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return middle != "" && !strings.Contains(middle, "/")
}
