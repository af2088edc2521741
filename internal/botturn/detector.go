package botturn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Options configures a Detector. Zero values take the defaults.
type Options struct {
	Classifier     Classifier
	GracePeriod    time.Duration // initial burst ignored after attach; default 3s
	MinInterval    time.Duration // between two callbacks; default 5s
	SignatureChars int
	Now            func() time.Time
	Logger         *slog.Logger
}

// Detector turns widget mutations into bot-turn callbacks.
type Detector struct {
	opts Options
}

// New creates a Detector.
func New(opts Options) *Detector {
	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	} else if opts.GracePeriod == 0 {
		opts.GracePeriod = 3 * time.Second
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = 5 * time.Second
	}
	if opts.SignatureChars <= 0 {
		opts.SignatureChars = DefaultSignatureChars
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Detector{opts: opts}
}

// attachment is the state of one Attach call.
type attachment struct {
	d         *Detector
	onBotTurn func()

	narrow     bool // the snapshot had a messages sub-container
	attachedAt time.Time
	limiter    *rate.Limiter

	mu       sync.Mutex
	lastSig  Signature
	history  map[Signature]bool
	detached atomic.Bool
	calling  atomic.Bool
}

// Attach starts observing src and returns a function that stops it. History
// already rendered when Attach runs never triggers onBotTurn, and onBotTurn
// is not called once detach has returned.
func (d *Detector) Attach(ctx context.Context, src Source, onBotTurn func()) (func(), error) {
	root, err := src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot widget: %w", err)
	}

	a := &attachment{
		d:          d,
		onBotTurn:  onBotTurn,
		attachedAt: d.opts.Now(),
		limiter:    newLimiter(d.opts.MinInterval),
	}

	container := root
	if sub := findMessagesContainer(root); sub != nil {
		container = sub
		a.narrow = true
	}
	a.seed(container)

	cancel, err := src.Subscribe(ctx, a.process)
	if err != nil {
		return nil, fmt.Errorf("subscribe to widget: %w", err)
	}

	var once sync.Once
	detach := func() {
		once.Do(func() {
			a.detached.Store(true)
			cancel()
			// Wait out a batch in progress, unless detach was called from
			// inside the callback.
			if !a.calling.Load() {
				a.mu.Lock()
				a.mu.Unlock()
			}
		})
	}
	return detach, nil
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// seed records the signature of every bot message already rendered. The
// widget may re-render any of them later and none of those counts as a turn.
func (a *attachment) seed(container *Node) {
	a.history = make(map[Signature]bool)
	container.Walk(func(n *Node) bool {
		if isMessage(n) {
			if a.d.opts.Classifier(n) == Bot {
				sig := SignatureOf(n, a.d.opts.SignatureChars)
				if !sig.IsZero() {
					a.history[sig] = true
					a.lastSig = sig
				}
			}
			return false
		}
		return true
	})
}

// process handles one mutation batch. A panic while classifying is logged
// and the observer keeps running.
func (a *attachment) process(batch []Mutation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			a.calling.Store(false)
			a.d.opts.Logger.Error("Bot-turn detector failed on mutation batch", "panic", r, "mutations", len(batch))
		}
	}()

	if a.detached.Load() {
		return
	}

	now := a.d.opts.Now()
	inGrace := now.Sub(a.attachedAt) < a.d.opts.GracePeriod
	fire := false

	for _, c := range a.candidates(batch) {
		if a.d.opts.Classifier(c) != Bot {
			continue
		}
		sig := SignatureOf(c, a.d.opts.SignatureChars)
		if sig.IsZero() || sig == a.lastSig || a.history[sig] {
			continue
		}
		a.lastSig = sig
		if inGrace || fire {
			continue
		}
		if !a.limiter.AllowN(now, 1) {
			a.d.opts.Logger.Debug("Bot turn within minimum interval; suppressed", "length", sig.Length)
			continue
		}
		fire = true
	}

	if fire && !a.detached.Load() {
		a.calling.Store(true)
		a.onBotTurn()
		a.calling.Store(false)
	}
}

// candidates resolves each added node to message elements: the closest
// message ancestor-or-self, else message descendants. Each element appears
// once, in batch order.
func (a *attachment) candidates(batch []Mutation) []*Node {
	seen := make(map[*Node]bool)
	var out []*Node
	add := func(n *Node) {
		if seen[n] {
			return
		}
		if a.narrow && !insideMessagesContainer(n) {
			return
		}
		seen[n] = true
		out = append(out, n)
	}

	for _, m := range batch {
		for _, added := range m.Added {
			if added == nil {
				continue
			}
			if msg := closestMessage(added); msg != nil {
				add(msg)
				continue
			}
			added.Walk(func(n *Node) bool {
				if isMessage(n) {
					add(n)
					return false
				}
				return true
			})
		}
	}
	return out
}

func closestMessage(n *Node) *Node {
	for p := n; p != nil; p = p.parent {
		if isMessage(p) {
			return p
		}
	}
	return nil
}

// findMessagesContainer returns the first descendant that holds the message
// list, if the widget renders one.
func findMessagesContainer(root *Node) *Node {
	var found *Node
	root.Walk(func(n *Node) bool {
		if found != nil {
			return false
		}
		if n != root && isMessagesContainer(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

func isMessagesContainer(n *Node) bool {
	if n.IsText() {
		return false
	}
	for _, tok := range tokensOf(n) {
		if tok == "messages" {
			return true
		}
	}
	return n.Attr("role") == "log"
}

func insideMessagesContainer(n *Node) bool {
	for p := n.parent; p != nil; p = p.parent {
		if isMessagesContainer(p) {
			return true
		}
	}
	return false
}
