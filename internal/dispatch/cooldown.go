package dispatch

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/workspace/sdlc-console/internal/kvstore"
)

const cooldownPrefix = "lastDispatch:"

// Gate suppresses a tool's dispatch when the previous one for that tool
// fired within the cooldown window. Entries live in a session-scoped store
// shared by every trigger path.
type Gate struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	store    kvstore.Store
	degraded bool
}

// NewGate creates a Gate over store. A nil store keeps entries in memory.
func NewGate(store kvstore.Store, window time.Duration) *Gate {
	if store == nil {
		store = kvstore.NewMemory()
	}
	return &Gate{store: store, window: window, now: time.Now}
}

// Acquire reports whether tool may dispatch now. On success the new
// timestamp is already recorded, so a second trigger arriving before the
// first call finishes is refused.
func (g *Gate) Acquire(tool string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last(tool); ok && now.Sub(last) < g.window {
		return false
	}
	g.record(tool, now)
	return true
}

// Remaining returns how long tool stays cooled down. Zero when it may fire.
func (g *Gate) Remaining(tool string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.last(tool)
	if !ok {
		return 0
	}
	if left := g.window - g.now().Sub(last); left > 0 {
		return left
	}
	return 0
}

func (g *Gate) last(tool string) (time.Time, bool) {
	raw, ok, err := g.store.Get(cooldownPrefix + tool)
	if err != nil {
		g.degrade(err)
		raw, ok, _ = g.store.Get(cooldownPrefix + tool)
	}
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (g *Gate) record(tool string, at time.Time) {
	value := strconv.FormatInt(at.UnixMilli(), 10)
	if err := g.store.Set(cooldownPrefix+tool, value); err != nil {
		g.degrade(err)
		_ = g.store.Set(cooldownPrefix+tool, value)
	}
}

// degrade swaps in an in-memory store. Callers hold g.mu.
func (g *Gate) degrade(err error) {
	if g.degraded {
		return
	}
	slog.Warn("Cooldown storage unavailable; tracking dispatches in memory", "error", err)
	g.degraded = true
	g.store = kvstore.NewMemory()
}
