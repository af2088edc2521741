package botturn

import (
	"context"
	"fmt"
	"sync"
)

// Mutation is one structural change: nodes inserted under Target.
type Mutation struct {
	Target *Node
	Added  []*Node
}

// Source is a structural change observer over a widget tree.
type Source interface {
	// Snapshot returns the tree as currently rendered.
	Snapshot(ctx context.Context) (*Node, error)
	// Subscribe delivers mutation batches to handler, sequentially, until
	// cancel is called or ctx ends.
	Subscribe(ctx context.Context, handler func([]Mutation)) (func(), error)
}

// Change is the wire form of a Mutation. Target and added nodes are matched
// by Node.ID.
type Change struct {
	Target string  `json:"target"`
	Added  []*Node `json:"added"`
}

// Tree is an in-memory Source. Snapshots and changes arrive from a client
// that mirrors the widget DOM (or from tests).
//
// Handlers run while the tree is locked; they may cancel their own
// subscription but must not otherwise call back into the tree.
type Tree struct {
	mu   sync.Mutex
	root *Node
	byID map[string]*Node

	subsMu sync.Mutex
	subs   map[int]func([]Mutation)
	nextID int
}

// NewTree creates a Tree rooted at root. A nil root is an empty container.
func NewTree(root *Node) *Tree {
	t := &Tree{subs: make(map[int]func([]Mutation))}
	t.reset(root)
	return t
}

// Root returns the live root node.
func (t *Tree) Root() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// Snapshot returns a copy of the current tree.
func (t *Tree) Snapshot(ctx context.Context) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.Clone(), nil
}

// Subscribe registers handler for subsequent batches.
func (t *Tree) Subscribe(ctx context.Context, handler func([]Mutation)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.subsMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = handler
	t.subsMu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.subsMu.Lock()
			delete(t.subs, id)
			t.subsMu.Unlock()
			close(stop)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return cancel, nil
}

// Reset replaces the whole tree without notifying subscribers, as when a
// client re-sends its current rendering.
func (t *Tree) Reset(root *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset(root)
}

// Apply inserts each change and delivers them to subscribers as one batch.
// An added node whose ID already exists replaces the old node in place.
func (t *Tree) Apply(changes []Change) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	batch := make([]Mutation, 0, len(changes))
	for _, ch := range changes {
		target := t.root
		if ch.Target != "" {
			var ok bool
			if target, ok = t.byID[ch.Target]; !ok {
				return fmt.Errorf("unknown mutation target %q", ch.Target)
			}
		}
		for _, n := range ch.Added {
			n.link()
			t.insert(target, n)
		}
		batch = append(batch, Mutation{Target: target, Added: ch.Added})
	}
	t.notify(batch)
	return nil
}

// Append inserts nodes under target and notifies subscribers.
func (t *Tree) Append(target *Node, nodes ...*Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if target == nil {
		target = t.root
	}
	for _, n := range nodes {
		t.insert(target, n)
	}
	t.notify([]Mutation{{Target: target, Added: nodes}})
}

// Notify delivers batch as is. Used when the caller already mutated nodes.
func (t *Tree) Notify(batch []Mutation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify(batch)
}

func (t *Tree) reset(root *Node) {
	if root == nil {
		root = Element("div", nil, nil)
	}
	root.parent = nil
	root.link()
	t.root = root
	t.byID = make(map[string]*Node)
	t.index(root)
}

func (t *Tree) insert(target, n *Node) {
	if n.ID != "" {
		if old, ok := t.byID[n.ID]; ok && old.parent != nil {
			siblings := old.parent.Children
			for i, s := range siblings {
				if s == old {
					siblings[i] = n
					n.parent = old.parent
					t.index(n)
					return
				}
			}
		}
	}
	target.AppendChild(n)
	t.index(n)
}

func (t *Tree) index(n *Node) {
	n.Walk(func(d *Node) bool {
		if d.ID != "" {
			t.byID[d.ID] = d
		}
		return true
	})
}

func (t *Tree) notify(batch []Mutation) {
	if len(batch) == 0 {
		return
	}
	t.subsMu.Lock()
	handlers := make([]func([]Mutation), 0, len(t.subs))
	for _, h := range t.subs {
		handlers = append(handlers, h)
	}
	t.subsMu.Unlock()

	for _, h := range handlers {
		h(batch)
	}
}
