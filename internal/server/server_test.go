package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/workspace/sdlc-console/internal/auth"
	"github.com/workspace/sdlc-console/internal/botturn"
	"github.com/workspace/sdlc-console/internal/config"
	"github.com/workspace/sdlc-console/internal/dispatch"
	"github.com/workspace/sdlc-console/internal/kvstore"
	"github.com/workspace/sdlc-console/internal/retry"
	"github.com/workspace/sdlc-console/internal/sandbox"
	"github.com/workspace/sdlc-console/internal/session"
)

type fakeRemote struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	startErr error
}

func (f *fakeRemote) StartSession(_ context.Context, sessionID, _ string) (*sandbox.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &sandbox.Handle{SessionID: sessionID, IframeURL: "https://sandbox.example.com/" + sessionID}, nil
}

func (f *fakeRemote) StopSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sessionID)
	return nil
}

func (f *fakeRemote) stopCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

type envOptions struct {
	expiresAfter  time.Duration
	validator     *auth.JWTValidator
	noWebhook     bool
	widget        botturn.Source
	widgetProject string
}

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	remote   *fakeRemote
	sessions *session.Manager
	hits     *atomic.Int32
	payloads chan dispatch.Payload
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.expiresAfter == 0 {
		opts.expiresAfter = time.Hour
	}

	env := &testEnv{
		remote:   &fakeRemote{},
		hits:     &atomic.Int32{},
		payloads: make(chan dispatch.Payload, 8),
	}

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		var p dispatch.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		env.payloads <- p
		_, _ = w.Write([]byte(`{"epics":[]}`))
	}))
	t.Cleanup(webhook.Close)

	baseURL := webhook.URL
	if opts.noWebhook {
		baseURL = ""
	}

	cfg := &config.Config{
		AllowedOrigins:    []string{"https://*.example.com"},
		WSReadBufferSize:  1024,
		WSWriteBufferSize: 1024,
		DefaultTool:       dispatch.Orchestrator,
	}
	env.sessions = session.NewManager(kvstore.NewMemory(), env.remote, session.Config{
		ExpiresAfter: opts.expiresAfter,
		PollInterval: 20 * time.Millisecond,
	})
	dispatcher := dispatch.New(dispatch.Config{
		BaseURL: baseURL,
		Retry:   retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 1},
	}, dispatch.NewGate(kvstore.NewMemory(), time.Minute), kvstore.NewMemory())

	srv, err := New(Options{
		Config:     cfg,
		Sessions:   env.sessions,
		Dispatcher: dispatcher,
		Detector:   botturn.New(botturn.Options{GracePeriod: -1, MinInterval: time.Millisecond}),
		URLs: sandbox.URLs{
			Editor:  "https://editor.example.com/{sessionId}/",
			Preview: "https://preview.example.com/{sessionId}",
		},
		Validator:     opts.validator,
		Widget:        opts.widget,
		WidgetProject: opts.widgetProject,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.srv = srv
	env.http = httptest.NewServer(srv.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) mount(t *testing.T, projectID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(e.http.URL, "http", "ws", 1) + "/projects/" + projectID + "/workspace/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

type testEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, ws *websocket.Conn) testEvent {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev testEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func readUntil(t *testing.T, ws *websocket.Conn, eventType string) testEvent {
	t.Helper()
	for {
		if ev := readEvent(t, ws); ev.Type == eventType {
			return ev
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthAndTools(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/tools", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tools status = %d", resp.StatusCode)
	}
	tools, _ := body["tools"].([]interface{})
	if len(tools) != 8 || body["defaultTool"] != dispatch.Orchestrator {
		t.Fatalf("tools = %v", body)
	}
}

func TestEnsureSessionStartsSandbox(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, first := env.do(t, http.MethodPost, "/projects/proj-1/session", `{"repoUrl":"https://github.com/octo/app"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	id, _ := first["sessionId"].(string)
	if id == "" || first["state"] != "active" || first["sandbox"] == nil {
		t.Fatalf("unexpected body %v", first)
	}
	if first["editorUrl"] != "https://editor.example.com/"+id+"/" {
		t.Fatalf("editorUrl = %v", first["editorUrl"])
	}

	_, second := env.do(t, http.MethodPost, "/projects/proj-1/session", "")
	if second["sessionId"] != id {
		t.Fatalf("second mount got %v, want %s", second["sessionId"], id)
	}
}

func TestEnsureSessionSandboxFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.remote.startErr = sandbox.ErrRemoteUnavailable

	resp, body := env.do(t, http.MethodPost, "/projects/proj-1/session", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := body["sandbox"]; ok || body["message"] != "no session found" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["sessionId"] == "" {
		t.Fatal("session id missing after sandbox failure")
	}
}

func TestSessionStatusAndEnd(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	if _, body := env.do(t, http.MethodGet, "/projects/proj-1/session", ""); body["state"] != "absent" {
		t.Fatalf("state before mount = %v", body["state"])
	}
	_, created := env.do(t, http.MethodPost, "/projects/proj-1/session", "")
	if _, body := env.do(t, http.MethodGet, "/projects/proj-1/session", ""); body["state"] != "active" {
		t.Fatalf("state after mount = %v", body["state"])
	}

	_, ended := env.do(t, http.MethodDelete, "/projects/proj-1/session", "")
	if ended["ended"] != true || ended["sessionId"] != created["sessionId"] {
		t.Fatalf("DELETE = %v", ended)
	}
	if stops := env.remote.stopCalls(); len(stops) != 1 || stops[0] != created["sessionId"] {
		t.Fatalf("stop calls = %v", stops)
	}
	if _, body := env.do(t, http.MethodGet, "/projects/proj-1/session", ""); body["state"] != "absent" {
		t.Fatalf("state after end = %v", body["state"])
	}
}

func TestDispatchCooldownReturns429(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.do(t, http.MethodPost, "/projects/proj-1/tools/epics/dispatch", `{"usecase":"shop"}`)
	if resp.StatusCode != http.StatusOK || body["tool"] != "epics" {
		t.Fatalf("first dispatch = %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, http.MethodPost, "/projects/proj-1/tools/epics/dispatch", `{"usecase":"shop"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second dispatch status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
	if env.hits.Load() != 1 {
		t.Fatalf("webhook hits = %d", env.hits.Load())
	}

	_, outputs := env.do(t, http.MethodGet, "/projects/proj-1/outputs", "")
	slots, _ := outputs["outputs"].(map[string]interface{})
	if _, ok := slots["epics_and_user_stories"]; !ok {
		t.Fatalf("outputs = %v", outputs)
	}
}

func TestDispatchErrorStatuses(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if resp, _ := env.do(t, http.MethodPost, "/projects/proj-1/tools/deploy/dispatch", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown tool status = %d", resp.StatusCode)
	}

	unconfigured := newTestEnv(t, envOptions{noWebhook: true})
	if resp, _ := unconfigured.do(t, http.MethodPost, "/projects/proj-1/tools/epics/dispatch", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured status = %d", resp.StatusCode)
	}
}

func TestWorkspaceWSRequiresSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	url := strings.Replace(env.http.URL, "http", "ws", 1) + "/projects/nope/workspace/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake failure, got %v", err)
	}
}

func widgetSnapshot() *botturn.Node {
	list := botturn.Element("div", []string{"chat-messages-list"}, nil,
		botturn.Element("div", []string{"chat-message", "chat-message-from-bot"}, nil, botturn.TextNode("Welcome back")),
	)
	list.ID = "list"
	return botturn.Element("div", []string{"chat-layout"}, nil, list)
}

func TestWorkspaceWSBotTurnDispatches(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, created := env.do(t, http.MethodPost, "/projects/proj-1/session", "")

	ws := env.mount(t, "proj-1")
	if ev := readEvent(t, ws); ev.Type != eventSession {
		t.Fatalf("first event = %s", ev.Type)
	}

	send := func(typ string, data interface{}) {
		t.Helper()
		raw, _ := json.Marshal(data)
		if err := ws.WriteJSON(wsMessage{Type: typ, Data: raw}); err != nil {
			t.Fatalf("write %s: %v", typ, err)
		}
	}
	send(msgWidgetSnapshot, widgetSnapshot())
	send(msgToolSelect, toolSelectData{Tool: "epics"})
	send(msgContext, map[string]string{"usecase": "shop"})
	send(msgWidgetMutations, []botturn.Change{{
		Target: "list",
		Added:  []*botturn.Node{botturn.Element("div", []string{"chat-message", "chat-message-from-bot"}, nil, botturn.TextNode("Here are your epics"))},
	}})

	var ev dispatchEvent
	if err := json.Unmarshal(readUntil(t, ws, eventDispatch).Data, &ev); err != nil {
		t.Fatalf("decode dispatch event: %v", err)
	}
	if ev.Status != "completed" || ev.Tool != "epics" || ev.Label != "Epics & User Stories" {
		t.Fatalf("dispatch event = %+v", ev)
	}

	select {
	case p := <-env.payloads:
		if p.ProjectID != "proj-1" || p.Usecase != "shop" || p.SessionID != created["sessionId"] {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook payload not captured")
	}
	if env.hits.Load() != 1 {
		t.Fatalf("history in the snapshot triggered a dispatch: hits = %d", env.hits.Load())
	}
}

func TestSharedWidgetDispatchesOnceForBoundProject(t *testing.T) {
	root := widgetSnapshot()
	list := root.Children[0]
	page := botturn.NewTree(root)
	env := newTestEnv(t, envOptions{widget: page, widgetProject: "proj-1"})

	_, created := env.do(t, http.MethodPost, "/projects/proj-1/session", "")
	env.do(t, http.MethodPost, "/projects/proj-2/session", "")

	bound := env.mount(t, "proj-1")
	second := env.mount(t, "proj-1")
	other := env.mount(t, "proj-2")

	// An error reply means the read loop runs, so the mount is complete.
	for _, ws := range []*websocket.Conn{bound, second} {
		readUntil(t, ws, eventSession)
		if err := ws.WriteJSON(wsMessage{Type: msgWidgetSnapshot, Data: json.RawMessage(`{"tag":"div"}`)}); err != nil {
			t.Fatalf("write: %v", err)
		}
		var e map[string]string
		_ = json.Unmarshal(readUntil(t, ws, eventError).Data, &e)
		if e["message"] != "widget is observed server-side" {
			t.Fatalf("error = %v", e)
		}
	}
	readUntil(t, other, eventSession)
	if err := other.WriteJSON(wsMessage{Type: msgToolSelect, Data: json.RawMessage(`{"tool":"deploy"}`)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, other, eventError)

	page.Append(list, botturn.Element("div", []string{"chat-message", "chat-message-from-bot"}, nil, botturn.TextNode("Here are your epics")))

	for _, ws := range []*websocket.Conn{bound, second} {
		var ev dispatchEvent
		if err := json.Unmarshal(readUntil(t, ws, eventDispatch).Data, &ev); err != nil {
			t.Fatalf("decode dispatch event: %v", err)
		}
		if ev.Status != "completed" {
			t.Fatalf("dispatch event = %+v", ev)
		}
	}
	select {
	case p := <-env.payloads:
		if p.ProjectID != "proj-1" || p.SessionID != created["sessionId"] {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook payload not captured")
	}

	_ = other.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var ev testEvent
	if err := other.ReadJSON(&ev); err == nil {
		t.Fatalf("unbound project received %s event", ev.Type)
	}
	if got := env.hits.Load(); got != 1 {
		t.Fatalf("one bot turn produced %d webhook calls", got)
	}
}

func TestWidgetRequiresProject(t *testing.T) {
	_, err := New(Options{
		Config:     &config.Config{},
		Sessions:   session.NewManager(kvstore.NewMemory(), &fakeRemote{}, session.Config{ExpiresAfter: time.Hour}),
		Dispatcher: dispatch.New(dispatch.Config{}, dispatch.NewGate(kvstore.NewMemory(), time.Minute), kvstore.NewMemory()),
		Detector:   botturn.New(botturn.Options{}),
		Widget:     botturn.NewTree(nil),
	})
	if err == nil {
		t.Fatal("expected an error without a widget project")
	}
}

func TestWorkspaceWSNavigatesOnExpiry(t *testing.T) {
	env := newTestEnv(t, envOptions{expiresAfter: 200 * time.Millisecond})
	_, created := env.do(t, http.MethodPost, "/projects/proj-1/session", "")

	ws := env.mount(t, "proj-1")
	var nav navigateEvent
	if err := json.Unmarshal(readUntil(t, ws, eventNavigate).Data, &nav); err != nil {
		t.Fatalf("decode navigate: %v", err)
	}
	if nav.Reason != string(session.ReasonTimer) && nav.Reason != string(session.ReasonElapsed) {
		t.Fatalf("navigate reason = %q", nav.Reason)
	}
	if stops := env.remote.stopCalls(); len(stops) != 1 || stops[0] != created["sessionId"] {
		t.Fatalf("stop calls = %v", stops)
	}
	if st := env.sessions.CheckExpiration("proj-1"); st.State != session.Absent {
		t.Fatalf("record left behind: %v", st.State)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("socket still open after navigate")
	}
}

func TestWorkspaceWSNavigateFrameEndsSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, http.MethodPost, "/projects/proj-1/session", "")

	ws := env.mount(t, "proj-1")
	readUntil(t, ws, eventSession)
	if err := ws.WriteJSON(wsMessage{Type: msgNavigate}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var nav navigateEvent
	_ = json.Unmarshal(readUntil(t, ws, eventNavigate).Data, &nav)
	if nav.Reason != string(session.ReasonNavigation) {
		t.Fatalf("navigate reason = %q", nav.Reason)
	}
	if len(env.remote.stopCalls()) != 1 {
		t.Fatalf("stop calls = %v", env.remote.stopCalls())
	}
	if st := env.sessions.CheckExpiration("proj-1"); st.State != session.Absent {
		t.Fatalf("state = %v", st.State)
	}
}

func TestWorkspaceWSDisconnectKeepsSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, http.MethodPost, "/projects/proj-1/session", "")

	ws := env.mount(t, "proj-1")
	readUntil(t, ws, eventSession)
	waitFor(t, "socket tracked", func() bool { return env.srv.clientCount() == 1 })
	ws.Close()
	waitFor(t, "socket cleanup", func() bool { return env.srv.clientCount() == 0 })

	if st := env.sessions.CheckExpiration("proj-1"); st.State != session.Active {
		t.Fatalf("unmount ended the session: %v", st.State)
	}
	if stops := env.remote.stopCalls(); len(stops) != 0 {
		t.Fatalf("unmount stopped the sandbox: %v", stops)
	}
}

func TestStopClosesSockets(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, http.MethodPost, "/projects/proj-1/session", "")

	ws := env.mount(t, "proj-1")
	readUntil(t, ws, eventSession)
	waitFor(t, "socket tracked", func() bool { return env.srv.clientCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if st := env.sessions.CheckExpiration("proj-1"); st.State != session.Active {
		t.Fatalf("shutdown ended the session: %v", st.State)
	}
}

var testSecret = []byte("server-test-secret")

func signToken(t *testing.T, projects ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Projects: projects,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAuthRequiredWhenValidatorSet(t *testing.T) {
	validator := auth.NewValidatorWithKeyfunc(func(*jwt.Token) (interface{}, error) { return testSecret, nil }, "", "")
	env := newTestEnv(t, envOptions{validator: validator})

	get := func(token string) int {
		req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/projects/proj-1/session", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get(""); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", code)
	}
	if code := get(signToken(t, "proj-2")); code != http.StatusForbidden {
		t.Fatalf("other project = %d", code)
	}
	if code := get(signToken(t, "proj-1")); code != http.StatusOK {
		t.Fatalf("granted project = %d", code)
	}
	if resp, _ := env.do(t, http.MethodGet, "/health", ""); resp.StatusCode != http.StatusOK {
		t.Fatal("health must not require auth")
	}

	// Browsers pass the token as a query parameter on the socket.
	req, _ := http.NewRequest(http.MethodPost, env.http.URL+"/projects/proj-1/session", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	url := strings.Replace(env.http.URL, "http", "ws", 1) + "/projects/proj-1/workspace/ws?token=" + signToken(t)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	ws.Close()
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/projects/proj-1/session", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("OPTIONS: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	resp := preflight("https://app.example.com")
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allowed origin: %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}
	if got := preflight("https://evil.test").Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin echoed: %q", got)
	}
}

func TestMatchWildcardOrigin(t *testing.T) {
	tests := []struct {
		origin  string
		pattern string
		want    bool
	}{
		{"https://app.example.com", "https://*.example.com", true},
		{"https://a.b.example.com", "https://*.example.com", true},
		{"https://example.com", "https://*.example.com", false},
		{"http://app.example.com", "https://*.example.com", false},
		{"https://evil.com/.example.com", "https://*.example.com", false},
		{"https://app.example.com.evil.com", "https://*.example.com", false},
	}
	for _, tt := range tests {
		if got := matchWildcardOrigin(tt.origin, tt.pattern); got != tt.want {
			t.Errorf("matchWildcardOrigin(%q, %q) = %v, want %v", tt.origin, tt.pattern, got, tt.want)
		}
	}
}
