package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reason says which path ended a watched session.
type Reason string

const (
	ReasonTimer      Reason = "timer"      // single-shot expiry timer fired
	ReasonElapsed    Reason = "elapsed"    // poll saw elapsed >= expiresAfter
	ReasonRemoved    Reason = "removed"    // poll saw the record vanish
	ReasonRewritten  Reason = "rewritten"  // poll saw a different session id
	ReasonUnmount    Reason = "unmount"    // Close found the record already removed
	ReasonNavigation Reason = "navigation" // End was called
)

// Watcher is one mounted view of a project's session. It runs the expiry
// timer and the stale-record poll, and tears the session down once.
type Watcher struct {
	m         *Manager
	projectID string
	key       string
	onExpired func(Reason)

	mu        sync.Mutex
	sessionID string // cleared before the stop call
	expiring  bool
	closed    bool
	timer     *time.Timer
	done      chan struct{}
}

// Watch mounts a watcher on the project's stored session. onExpired runs at
// most once, after the remote stop was attempted and storage cleared, when
// the timer or the poll ends the session. It is not called for Close or End.
func (m *Manager) Watch(projectID string, onExpired func(Reason)) (*Watcher, error) {
	status := m.CheckExpiration(projectID)
	if status.State == Absent {
		return nil, ErrNoSession
	}

	w := &Watcher{
		m:         m,
		projectID: projectID,
		key:       m.ProjectKey(projectID),
		onExpired: onExpired,
		sessionID: status.SessionID,
		done:      make(chan struct{}),
	}

	// Remaining is zero for an already-expired record, so the timer fires
	// right away.
	w.mu.Lock()
	w.timer = time.AfterFunc(status.Remaining, func() { w.expire(ReasonTimer, false) })
	w.mu.Unlock()
	go w.poll(m.cfg.PollInterval)

	slog.Debug("Session watcher mounted", "projectKey", w.key, "sessionId", status.SessionID, "remaining", status.Remaining)
	return w, nil
}

// SessionID returns the watched session id, or "" once teardown started.
func (w *Watcher) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Expire ends the session now. It reports whether this call performed the
// teardown.
func (w *Watcher) Expire(reason Reason) bool {
	return w.expire(reason, false)
}

// End tears the session down because the user navigated away, then stops
// the watcher.
func (w *Watcher) End() bool {
	torn := w.expire(ReasonNavigation, true)
	w.Close()
	return torn
}

// Close unmounts the watcher: the timer and poll stop and no callback fires
// afterwards. If the record was already removed by someone else, the remote
// sandbox is stopped as a backup.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.stopLocked()
	pending := !w.expiring && w.sessionID != ""
	w.mu.Unlock()

	if !pending {
		return
	}
	if _, found := w.m.readRecord(w.key); !found {
		w.expire(ReasonUnmount, true)
	}
}

func (w *Watcher) poll(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if reason, stale := w.check(); stale {
				w.expire(reason, false)
				return
			}
		}
	}
}

// check compares storage with the watched session.
func (w *Watcher) check() (Reason, bool) {
	ours := w.SessionID()
	if ours == "" {
		return "", false
	}
	rec, found := w.m.readRecord(w.key)
	if !found {
		return ReasonRemoved, true
	}
	if rec.SessionID != ours {
		return ReasonRewritten, true
	}
	if w.m.statusOf(rec).State == Expired {
		return ReasonElapsed, true
	}
	return "", false
}

// expire runs the teardown body at most once. The guard is set and the
// session reference cleared before any remote call so a racing path skips.
// force lets Close and End run it after the watcher was closed.
func (w *Watcher) expire(reason Reason, force bool) bool {
	w.mu.Lock()
	if w.expiring || (w.closed && !force) {
		w.mu.Unlock()
		return false
	}
	w.expiring = true
	sessionID := w.sessionID
	w.sessionID = ""
	w.stopLocked()
	w.mu.Unlock()

	slog.Info("Session expiring", "projectKey", w.key, "sessionId", sessionID, "reason", string(reason))

	w.m.StopRemoteSandbox(context.Background(), sessionID)
	w.m.clearIfOwned(w.key, sessionID)

	if reason != ReasonUnmount && reason != ReasonNavigation && w.onExpired != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Session expiry callback panicked", "projectKey", w.key, "panic", r)
				}
			}()
			w.onExpired(reason)
		}()
	}
	return true
}

// stopLocked stops the timer and the poll loop. Callers hold w.mu.
func (w *Watcher) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
