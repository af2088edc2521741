// Package session owns the per-project sandbox session lifecycle: creating
// and persisting the session id, expiring it, noticing when another client
// removed or replaced it, and stopping the remote sandbox exactly once.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/workspace/sdlc-console/internal/kvstore"
	"github.com/workspace/sdlc-console/internal/sandbox"
)

// Storage key prefixes. The project key follows the colon.
const (
	sessionIDPrefix = "sessionId:"
	createdAtPrefix = "sessionCreatedAt:"
)

// ErrNoSession is returned by Watch when the project has no stored record.
var ErrNoSession = errors.New("no session for project")

// Remote is the subset of the Remote Session API the manager drives.
type Remote interface {
	StartSession(ctx context.Context, sessionID, repoURL string) (*sandbox.Handle, error)
	StopSession(ctx context.Context, sessionID string) error
}

// OverridePolicy substitutes a fixed session id for generated ones. It is
// consulted only when a new record is created.
type OverridePolicy struct {
	Enabled   bool
	SessionID string
}

// Config configures a Manager.
type Config struct {
	ExpiresAfter time.Duration
	PollInterval time.Duration // default 5s
	GlobalKey    string        // project key used when the project id is empty; default "global"
	Override     OverridePolicy
}

// State is the lifecycle state of a project's session record.
type State int

const (
	Absent State = iota
	Active
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	default:
		return "absent"
	}
}

// Status is the result of CheckExpiration.
type Status struct {
	State     State
	SessionID string
	CreatedAt time.Time
	Remaining time.Duration
}

// ExpiresAt is the instant the session stops being valid. Zero when absent.
func (s Status) ExpiresAt(expiresAfter time.Duration) time.Time {
	if s.State == Absent || s.CreatedAt.IsZero() {
		return time.Time{}
	}
	return s.CreatedAt.Add(expiresAfter)
}

// Manager coordinates session records for every project.
type Manager struct {
	store  kvstore.Store
	remote Remote
	cfg    Config

	now   func() time.Time
	newID func() string

	// recordMu serializes read-modify-write of session records so two
	// concurrent EnsureSession calls agree on one id.
	recordMu sync.Mutex

	mu       sync.Mutex
	fallback *kvstore.Memory // non-nil once the store has failed
	stopped  *stoppedSet
}

// NewManager creates a Manager. store may be nil, in which case records live
// in memory for the process lifetime.
func NewManager(store kvstore.Store, remote Remote, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.GlobalKey == "" {
		cfg.GlobalKey = "global"
	}
	m := &Manager{
		store:   store,
		remote:  remote,
		cfg:     cfg,
		now:     time.Now,
		newID:   newSessionID,
		stopped: newStoppedSet(maxStoppedIDs),
	}
	if store == nil {
		m.fallback = kvstore.NewMemory()
	}
	return m
}

// ExpiresAfter returns the configured session lifetime.
func (m *Manager) ExpiresAfter() time.Duration {
	return m.cfg.ExpiresAfter
}

// ProjectKey maps a project id to its storage key.
func (m *Manager) ProjectKey(projectID string) string {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return m.cfg.GlobalKey
	}
	return projectID
}

// EnsureSession returns the project's session id, creating and persisting a
// new one when none is stored. An expired record is torn down first.
func (m *Manager) EnsureSession(ctx context.Context, projectID string) (string, error) {
	key := m.ProjectKey(projectID)

	m.recordMu.Lock()
	rec, found := m.readRecord(key)
	if found {
		if status := m.statusOf(rec); status.State == Active {
			m.recordMu.Unlock()
			return rec.SessionID, nil
		}
		slog.Info("Stored session expired; replacing", "projectKey", key, "sessionId", rec.SessionID)
		m.clearRecord(key)
	}

	id := m.generateID()
	m.writeRecord(key, record{SessionID: id, CreatedAt: m.now()})
	m.mu.Lock()
	m.stopped.remove(id)
	m.mu.Unlock()
	m.recordMu.Unlock()

	if found && rec.SessionID != "" && rec.SessionID != id {
		m.StopRemoteSandbox(ctx, rec.SessionID)
	}

	slog.Info("Session created", "projectKey", key, "sessionId", id)
	return id, nil
}

// CheckExpiration reports the state of the project's stored record. It does
// not modify storage.
func (m *Manager) CheckExpiration(projectID string) Status {
	rec, found := m.readRecord(m.ProjectKey(projectID))
	if !found {
		return Status{State: Absent}
	}
	return m.statusOf(rec)
}

// EndSession tears down the project's session on explicit navigation away:
// the remote sandbox is stopped and the record removed. Mounted watchers
// notice the removal on their next poll.
func (m *Manager) EndSession(ctx context.Context, projectID string) (string, bool) {
	key := m.ProjectKey(projectID)

	m.recordMu.Lock()
	rec, found := m.readRecord(key)
	if found {
		m.clearRecord(key)
	}
	m.recordMu.Unlock()

	if !found {
		return "", false
	}
	if rec.SessionID != "" {
		m.StopRemoteSandbox(ctx, rec.SessionID)
	}
	slog.Info("Session ended", "projectKey", key, "sessionId", rec.SessionID)
	return rec.SessionID, true
}

// StartRemoteSandbox starts the sandbox behind sessionID. Errors are logged
// and returned so the caller can fall back to a "no session" state.
func (m *Manager) StartRemoteSandbox(ctx context.Context, sessionID, repoURL string) (*sandbox.Handle, error) {
	if m.remote == nil {
		return nil, sandbox.ErrRemoteUnavailable
	}
	h, err := m.remote.StartSession(ctx, sessionID, repoURL)
	if err != nil {
		slog.Warn("Failed to start remote sandbox", "sessionId", sessionID, "error", err)
		return nil, err
	}
	slog.Info("Remote sandbox started", "sessionId", sessionID, "container", h.ContainerName)
	return h, nil
}

// StopRemoteSandbox asks the Remote Session API to stop sessionID. Only the
// first call per session id reaches the network. Failures are logged.
func (m *Manager) StopRemoteSandbox(ctx context.Context, sessionID string) {
	if sessionID == "" || m.remote == nil {
		return
	}
	m.mu.Lock()
	if !m.stopped.add(sessionID) {
		m.mu.Unlock()
		slog.Debug("Remote sandbox already stopped", "sessionId", sessionID)
		return
	}
	m.mu.Unlock()

	if err := m.remote.StopSession(ctx, sessionID); err != nil {
		slog.Warn("Failed to stop remote sandbox", "sessionId", sessionID, "error", err)
		return
	}
	slog.Info("Remote sandbox stopped", "sessionId", sessionID)
}

// clearIfOwned removes the record for key only when it still holds
// sessionID. It reports whether the stored record was ours or already gone.
func (m *Manager) clearIfOwned(key, sessionID string) bool {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()

	rec, found := m.readRecord(key)
	if found && rec.SessionID != sessionID {
		slog.Info("Session record rewritten by another client; leaving it in place",
			"projectKey", key, "sessionId", sessionID, "storedSessionId", rec.SessionID)
		return false
	}
	m.clearRecord(key)
	return true
}

func (m *Manager) statusOf(rec record) Status {
	if rec.CreatedAt.IsZero() {
		return Status{State: Expired, SessionID: rec.SessionID}
	}
	elapsed := m.now().Sub(rec.CreatedAt)
	if elapsed >= m.cfg.ExpiresAfter {
		return Status{State: Expired, SessionID: rec.SessionID, CreatedAt: rec.CreatedAt}
	}
	return Status{
		State:     Active,
		SessionID: rec.SessionID,
		CreatedAt: rec.CreatedAt,
		Remaining: m.cfg.ExpiresAfter - elapsed,
	}
}

func (m *Manager) generateID() string {
	if m.cfg.Override.Enabled && m.cfg.Override.SessionID != "" {
		return m.cfg.Override.SessionID
	}
	return m.newID()
}

// record is one persisted SessionRecord. A zero CreatedAt means the
// timestamp entry was missing or unreadable.
type record struct {
	SessionID string
	CreatedAt time.Time
}

func (m *Manager) readRecord(key string) (record, bool) {
	id, found := m.get(sessionIDPrefix + key)
	if !found || id == "" {
		return record{}, false
	}
	rec := record{SessionID: id}
	if raw, ok := m.get(createdAtPrefix + key); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			rec.CreatedAt = time.UnixMilli(ms)
		}
	}
	return rec, true
}

func (m *Manager) writeRecord(key string, rec record) {
	m.set(sessionIDPrefix+key, rec.SessionID)
	m.set(createdAtPrefix+key, strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10))
}

func (m *Manager) clearRecord(key string) {
	m.remove(sessionIDPrefix + key)
	m.remove(createdAtPrefix + key)
}

// backend returns the store to use. After the first storage failure every
// operation goes to the in-memory fallback.
func (m *Manager) backend() kvstore.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback != nil {
		return m.fallback
	}
	return m.store
}

func (m *Manager) degrade(op string, err error) kvstore.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback == nil {
		slog.Warn("Session storage unavailable; keeping sessions in memory for this process",
			"op", op, "error", err)
		m.fallback = kvstore.NewMemory()
	}
	return m.fallback
}

func (m *Manager) get(key string) (string, bool) {
	v, ok, err := m.backend().Get(key)
	if err != nil {
		v, ok, _ = m.degrade("get", err).Get(key)
	}
	return v, ok
}

func (m *Manager) set(key, value string) {
	if err := m.backend().Set(key, value); err != nil {
		_ = m.degrade("set", err).Set(key, value)
	}
}

func (m *Manager) remove(key string) {
	if err := m.backend().Remove(key); err != nil {
		_ = m.degrade("remove", err).Remove(key)
	}
}
