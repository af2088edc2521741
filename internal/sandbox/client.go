// Package sandbox is the client for the Remote Session API that starts and
// stops the hosted editor/preview container behind a session id.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRemoteUnavailable covers transport failures, timeouts and non-2xx
// responses from the Remote Session API.
var ErrRemoteUnavailable = errors.New("remote session api unavailable")

// Handle describes a started sandbox.
type Handle struct {
	SessionID     string `json:"sessionId"`
	IframeURL     string `json:"iframeUrl,omitempty"`
	ContainerName string `json:"containerName,omitempty"`
	EditorURL     string `json:"editorUrl"`
	PreviewURL    string `json:"previewUrl"`
}

// Config configures a Client.
type Config struct {
	BaseURL      string
	StartTimeout time.Duration // default 30s
	StopTimeout  time.Duration // default 10s
	URLs         URLs
}

// Client calls the Remote Session API.
type Client struct {
	baseURL      string
	startTimeout time.Duration
	stopTimeout  time.Duration
	urls         URLs
	httpClient   *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		startTimeout: cfg.StartTimeout,
		stopTimeout:  cfg.StopTimeout,
		urls:         cfg.URLs,
		httpClient:   &http.Client{},
	}
}

// URLs returns the templates used to derive editor and preview URLs.
func (c *Client) URLs() URLs {
	return c.urls
}

type startRequest struct {
	RepoURL   string `json:"repo_url"`
	SessionID string `json:"session_id"`
}

type startResponse struct {
	SessionID     string `json:"session_id"`
	IframeURL     string `json:"iframe_url"`
	ContainerName string `json:"container_name"`
}

// StartSession asks the remote service to start a sandbox for sessionID.
func (c *Client) StartSession(ctx context.Context, sessionID, repoURL string) (*Handle, error) {
	body, err := json.Marshal(startRequest{RepoURL: repoURL, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.startTimeout)
	defer cancel()

	resp, err := c.post(ctx, c.baseURL+"/start-session", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded startResponse
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		slog.Warn("Failed to read start-session response; deriving URLs only", "sessionId", sessionID, "error", err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			slog.Warn("Start-session response was not JSON; deriving URLs only", "sessionId", sessionID, "error", err)
		}
	}
	if decoded.SessionID == "" {
		decoded.SessionID = sessionID
	}

	editor, preview := c.urls.For(decoded.SessionID)
	return &Handle{
		SessionID:     decoded.SessionID,
		IframeURL:     decoded.IframeURL,
		ContainerName: decoded.ContainerName,
		EditorURL:     editor,
		PreviewURL:    preview,
	}, nil
}

// StopSession asks the remote service to tear down the sandbox for sessionID.
// It is never retried.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.stopTimeout)
	defer cancel()

	resp, err := c.post(ctx, c.baseURL+"/stop-session/"+url.PathEscape(sessionID), []byte("{}"))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// post sends a JSON body and maps every failure to ErrRemoteUnavailable.
// The caller closes the body of a successful response.
func (c *Client) post(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRemoteUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d", ErrRemoteUnavailable, endpoint, resp.StatusCode)
	}
	return resp, nil
}
