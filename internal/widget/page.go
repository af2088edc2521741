// Package widget observes the embedded workflow chat widget in a headless
// browser page and exposes it as a botturn.Source.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/workspace/sdlc-console/internal/botturn"
)

// Config selects the browser, page and container to observe.
type Config struct {
	DebuggerURL       string
	PageURL           string
	ContainerSelector string
	PollInterval      time.Duration
}

// PageSource mirrors the widget container of a live page into a
// botturn.Tree. An injected MutationObserver buffers changed message
// elements; a ticker drains the buffer.
type PageSource struct {
	cfg     Config
	browser *rod.Browser
	page    *rod.Page
	tree    *botturn.Tree

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
}

// Open connects to the browser at cfg.DebuggerURL, opens cfg.PageURL and
// installs the observer.
func Open(ctx context.Context, cfg Config) (*PageSource, error) {
	if cfg.DebuggerURL == "" || cfg.PageURL == "" {
		return nil, errors.New("widget observation needs a debugger URL and a page URL")
	}
	if cfg.ContainerSelector == "" {
		cfg.ContainerSelector = "#workflow-widget"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	// The connection outlives ctx, which only bounds opening the page.
	browser := rod.New().ControlURL(cfg.DebuggerURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: cfg.PageURL})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open widget page: %w", err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		_ = page.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("wait for widget page: %w", err)
	}

	s := &PageSource{cfg: cfg, browser: browser, page: page.Context(context.Background()), tree: botturn.NewTree(nil)}
	if err := s.install(ctx); err != nil {
		_ = page.Close()
		_ = browser.Close()
		return nil, err
	}
	slog.Info("Widget observer installed", "page", cfg.PageURL, "selector", cfg.ContainerSelector)
	return s, nil
}

// Close stops draining and closes the page.
func (s *PageSource) Close() error {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()
	_ = s.page.Close()
	return s.browser.Close()
}

// Snapshot serializes the container and resets the mirror from it.
func (s *PageSource) Snapshot(ctx context.Context) (*botturn.Node, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      snapshotJS,
		JSArgs:  []interface{}{s.cfg.ContainerSelector},
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot widget: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, fmt.Errorf("widget container %q not found", s.cfg.ContainerSelector)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	root, err := decodeNode(raw)
	if err != nil {
		return nil, err
	}
	s.tree.Reset(root)
	return s.tree.Snapshot(ctx)
}

// Subscribe delivers drained mutation batches to handler and starts the
// drain loop on first use.
func (s *PageSource) Subscribe(ctx context.Context, handler func([]botturn.Mutation)) (func(), error) {
	cancel, err := s.tree.Subscribe(ctx, handler)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.running {
		loopCtx, stop := context.WithCancel(context.Background())
		s.running = true
		s.stop = stop
		go s.drain(loopCtx)
	}
	s.mu.Unlock()
	return cancel, nil
}

func (s *PageSource) install(ctx context.Context) error {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      installJS,
		JSArgs:  []interface{}{s.cfg.ContainerSelector},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("install observer: %w", err)
	}
	if res == nil || !res.Value.Bool() {
		return fmt.Errorf("widget container %q not found", s.cfg.ContainerSelector)
	}
	return nil
}

func (s *PageSource) drain(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
				JS:      drainJS,
				ByValue: true,
			})
			if err != nil || res == nil || res.Value.Nil() {
				continue
			}
			raw, err := res.Value.MarshalJSON()
			if err != nil {
				continue
			}
			changes, err := decodeChanges(raw)
			if err != nil {
				slog.Warn("Dropping undecodable widget mutations", "error", err)
				continue
			}
			if len(changes) == 0 {
				continue
			}
			if err := s.tree.Apply(changes); err != nil {
				slog.Debug("Widget mirror out of sync; resnapshotting", "error", err)
				if _, err := s.Snapshot(ctx); err != nil {
					slog.Warn("Failed to resnapshot widget", "error", err)
				}
			}
		}
	}
}

func decodeNode(raw []byte) (*botturn.Node, error) {
	var root botturn.Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("decode widget snapshot: %w", err)
	}
	return &root, nil
}

func decodeChanges(raw []byte) ([]botturn.Change, error) {
	var changes []botturn.Change
	if err := json.Unmarshal(raw, &changes); err != nil {
		return nil, fmt.Errorf("decode widget mutations: %w", err)
	}
	out := changes[:0]
	for _, ch := range changes {
		if len(ch.Added) == 0 {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}
