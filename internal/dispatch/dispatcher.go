package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/workspace/sdlc-console/internal/kvstore"
	"github.com/workspace/sdlc-console/internal/retry"
)

var (
	// ErrCoolingDown means the tool dispatched within the cooldown window.
	ErrCoolingDown = errors.New("tool is cooling down")
	// ErrUnknownTool means the tool id is not in the catalogue.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrNotConfigured means no workflow base URL is set.
	ErrNotConfigured = errors.New("workflow webhooks not configured")
)

const outputPrefix = "output:"

// Payload is the JSON body sent to a tool's webhook.
type Payload struct {
	ProjectID   string `json:"projectId"`
	Usecase     string `json:"usecase"`
	Prompt      string `json:"prompt,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
}

// Result is what one dispatch stored, keyed by artifact slot.
type Result struct {
	Tool      string                     `json:"tool"`
	Artifacts map[string]json.RawMessage `json:"artifacts"`
}

// Config configures a Dispatcher.
type Config struct {
	BaseURL string
	// Paths overrides the webhook path per tool id. The default is
	// /webhook/<tool>.
	Paths   map[string]string
	Token   string
	Timeout time.Duration // per attempt
	Retry   retry.Policy
}

// Dispatcher invokes tool webhooks and stores their artifacts.
type Dispatcher struct {
	cfg     Config
	gate    *Gate
	outputs kvstore.Store
	client  *http.Client
}

// New creates a Dispatcher. outputs holds artifacts; gate may be nil to
// dispatch without a cooldown.
func New(cfg Config, gate *Gate, outputs kvstore.Store) *Dispatcher {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if outputs == nil {
		outputs = kvstore.NewMemory()
	}
	return &Dispatcher{cfg: cfg, gate: gate, outputs: outputs, client: &http.Client{}}
}

// Gate returns the dispatcher's cooldown gate.
func (d *Dispatcher) Gate() *Gate {
	return d.gate
}

// Dispatch runs tool for payload.ProjectID. The cooldown entry is recorded
// before the webhook is called.
func (d *Dispatcher) Dispatch(ctx context.Context, toolID string, payload Payload) (*Result, error) {
	tool, ok := Lookup(toolID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, toolID)
	}
	if d.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	if d.gate != nil && !d.gate.Acquire(tool.ID) {
		slog.Info("Dispatch suppressed by cooldown", "tool", tool.ID, "projectId", payload.ProjectID)
		return nil, ErrCoolingDown
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var raw []byte
	err = retry.Do(ctx, d.cfg.Retry, "dispatch "+tool.ID, func(ctx context.Context) error {
		var callErr error
		raw, callErr = d.call(ctx, tool, body)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", tool.ID, err)
	}

	result, err := d.store(payload.ProjectID, tool, raw)
	if err != nil {
		return nil, err
	}
	slog.Info("Dispatch completed", "tool", tool.ID, "projectId", payload.ProjectID, "artifacts", len(result.Artifacts))
	return result, nil
}

// Outputs returns the stored artifacts for a project, keyed by slot.
func (d *Dispatcher) Outputs(projectID string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for _, t := range catalogue {
		if t.Slot == "" {
			continue
		}
		v, ok, err := d.outputs.Get(outputKey(projectID, t.ID))
		if err != nil {
			return nil, err
		}
		if ok {
			out[t.Slot] = json.RawMessage(v)
		}
	}
	return out, nil
}

func (d *Dispatcher) webhookURL(tool Tool) string {
	path := d.cfg.Paths[tool.ID]
	if path == "" {
		path = "/webhook/" + tool.ID
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.cfg.BaseURL + path
}

func (d *Dispatcher) call(ctx context.Context, tool Tool, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL(tool), bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &retry.StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return raw, nil
}

// store saves the artifact(s). The orchestrator's response is an object
// keyed by slot and fans out into every tool present; any other tool fills
// its own slot with the whole response.
func (d *Dispatcher) store(projectID string, tool Tool, raw []byte) (*Result, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("dispatch %s: response is not JSON", tool.ID)
	}

	result := &Result{Tool: tool.ID, Artifacts: make(map[string]json.RawMessage)}
	if tool.ID == Orchestrator {
		var combined map[string]json.RawMessage
		if err := json.Unmarshal(raw, &combined); err != nil {
			return nil, fmt.Errorf("dispatch %s: expected an object: %w", tool.ID, err)
		}
		for _, t := range catalogue {
			if v, ok := combined[t.Slot]; ok && t.Slot != "" {
				result.Artifacts[t.Slot] = v
				d.put(projectID, t.ID, v)
			}
		}
		return result, nil
	}

	result.Artifacts[tool.Slot] = json.RawMessage(raw)
	d.put(projectID, tool.ID, raw)
	return result, nil
}

func (d *Dispatcher) put(projectID, toolID string, value []byte) {
	if err := d.outputs.Set(outputKey(projectID, toolID), string(value)); err != nil {
		slog.Warn("Failed to persist artifact", "projectId", projectID, "tool", toolID, "error", err)
	}
}

func outputKey(projectID, toolID string) string {
	return outputPrefix + projectID + ":" + toolID
}
