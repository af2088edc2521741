// Package config provides configuration loading for the console.
//
// Values come from environment variables. When CONFIG_FILE names a YAML
// file, its keys (the environment variable names in lower case) fill in
// anything the environment leaves unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSpecialSessionID is the fixed identifier used when the override
// (operator/debug) session mode is enabled.
const DefaultSpecialSessionID = "special_static_session_12345"

// Config holds all configuration values for the console.
type Config struct {
	// Server settings
	Port           int
	Host           string
	AllowedOrigins []string

	// HTTP server timeouts
	HTTPReadTimeout time.Duration
	HTTPIdleTimeout time.Duration

	// WebSocket settings
	WSReadBufferSize  int
	WSWriteBufferSize int

	// JWT settings. Auth is disabled when JWKSEndpoint is empty.
	JWKSEndpoint string
	JWTAudience  string
	JWTIssuer    string

	// Remote Session API
	RemoteSessionURL    string
	StartSessionTimeout time.Duration
	StopSessionTimeout  time.Duration
	EditorURLTemplate   string
	PreviewURLTemplate  string

	// Session lifecycle
	SessionExpiresAfter time.Duration
	SessionPollInterval time.Duration
	SessionGlobalKey    string
	SpecialSession      bool
	SpecialSessionID    string

	// Workflow dispatch
	WorkflowBaseURL      string
	WorkflowWebhookPaths map[string]string
	WorkflowToken        string
	DispatchCooldown     time.Duration
	DispatchTimeout      time.Duration
	DispatchMaxAttempts  int
	DefaultTool          string

	// Bot-turn detection
	BotTurnGrace       time.Duration
	BotTurnMinInterval time.Duration

	// Headless widget observation. Disabled unless both URLs are set. The
	// observed page belongs to the single project named by WidgetProjectID.
	WidgetDebuggerURL       string
	WidgetPageURL           string
	WidgetProjectID         string
	WidgetContainerSelector string
	WidgetPollInterval      time.Duration

	// Persistence
	PersistenceDBPath string
}

// WidgetObservationEnabled reports whether the headless observer has enough
// configuration to run.
func (c *Config) WidgetObservationEnabled() bool {
	return c.WidgetDebuggerURL != "" && c.WidgetPageURL != ""
}

// Load reads configuration from the environment and the optional CONFIG_FILE.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}
	return load(src)
}

func load(src source) (*Config, error) {
	remoteURL := strings.TrimRight(src.str("REMOTE_SESSION_URL", ""), "/")

	cfg := &Config{
		Port:           src.integer("CONSOLE_PORT", 8080),
		Host:           src.str("CONSOLE_HOST", "0.0.0.0"),
		AllowedOrigins: src.list("ALLOWED_ORIGINS", nil),

		HTTPReadTimeout: src.duration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPIdleTimeout: src.duration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		WSReadBufferSize:  src.integer("WS_READ_BUFFER_SIZE", 1024),
		WSWriteBufferSize: src.integer("WS_WRITE_BUFFER_SIZE", 1024),

		JWKSEndpoint: src.str("JWKS_ENDPOINT", ""),
		JWTAudience:  src.str("JWT_AUDIENCE", "sdlc-console"),
		JWTIssuer:    src.str("JWT_ISSUER", ""),

		RemoteSessionURL:    remoteURL,
		StartSessionTimeout: src.duration("START_SESSION_TIMEOUT", 30*time.Second),
		StopSessionTimeout:  src.duration("STOP_SESSION_TIMEOUT", 10*time.Second),
		EditorURLTemplate:   src.str("EDITOR_URL_TEMPLATE", ""),
		PreviewURLTemplate:  src.str("PREVIEW_URL_TEMPLATE", ""),

		SessionExpiresAfter: src.duration("SESSION_EXPIRES_AFTER", 0),
		SessionPollInterval: src.duration("SESSION_POLL_INTERVAL", 5*time.Second),
		SessionGlobalKey:    src.str("SESSION_GLOBAL_KEY", "global"),
		SpecialSession:      src.boolean("SPECIAL_SESSION", false),
		SpecialSessionID:    src.str("SPECIAL_SESSION_ID", DefaultSpecialSessionID),

		WorkflowBaseURL:      strings.TrimRight(src.str("WORKFLOW_BASE_URL", ""), "/"),
		WorkflowWebhookPaths: src.pairs("WORKFLOW_WEBHOOK_PATHS"),
		WorkflowToken:        src.str("WORKFLOW_TOKEN", ""),
		DispatchCooldown:     src.duration("DISPATCH_COOLDOWN", 30*time.Second),
		DispatchTimeout:      src.duration("DISPATCH_TIMEOUT", 30*time.Second),
		DispatchMaxAttempts:  src.integer("DISPATCH_MAX_ATTEMPTS", 3),
		DefaultTool:          src.str("DEFAULT_TOOL", "orchestrator"),

		BotTurnGrace:       src.duration("BOT_TURN_GRACE", 3*time.Second),
		BotTurnMinInterval: src.duration("BOT_TURN_MIN_INTERVAL", 5*time.Second),

		WidgetDebuggerURL:       src.str("WIDGET_DEBUGGER_URL", ""),
		WidgetPageURL:           src.str("WIDGET_PAGE_URL", ""),
		WidgetProjectID:         src.str("WIDGET_PROJECT_ID", ""),
		WidgetContainerSelector: src.str("WIDGET_CONTAINER_SELECTOR", "#workflow-widget"),
		WidgetPollInterval:      src.duration("WIDGET_POLL_INTERVAL", 500*time.Millisecond),

		PersistenceDBPath: src.str("PERSISTENCE_DB_PATH", "./data/console.db"),
	}

	if cfg.RemoteSessionURL == "" {
		return nil, fmt.Errorf("REMOTE_SESSION_URL is required")
	}
	// Observed deployments used different lifetimes; there is no safe default.
	if cfg.SessionExpiresAfter <= 0 {
		return nil, fmt.Errorf("SESSION_EXPIRES_AFTER is required and must be positive")
	}
	if cfg.SessionPollInterval <= 0 {
		return nil, fmt.Errorf("SESSION_POLL_INTERVAL must be positive")
	}
	if cfg.SpecialSession && strings.TrimSpace(cfg.SpecialSessionID) == "" {
		return nil, fmt.Errorf("SPECIAL_SESSION_ID must not be empty when SPECIAL_SESSION is enabled")
	}

	if cfg.WidgetObservationEnabled() && strings.TrimSpace(cfg.WidgetProjectID) == "" {
		return nil, fmt.Errorf("WIDGET_PROJECT_ID is required when widget observation is enabled")
	}

	if cfg.EditorURLTemplate == "" {
		cfg.EditorURLTemplate = cfg.RemoteSessionURL + "/editor/{sessionId}/"
	}
	if cfg.PreviewURLTemplate == "" {
		cfg.PreviewURLTemplate = cfg.RemoteSessionURL + "/preview/{sessionId}/"
	}
	if cfg.JWKSEndpoint != "" && cfg.JWTIssuer == "" {
		cfg.JWTIssuer = originOf(cfg.JWKSEndpoint)
	}

	return cfg, nil
}

// originOf strips the path from a URL, keeping scheme and host.
func originOf(rawURL string) string {
	scheme := ""
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx != -1 {
		scheme = rest[:idx+3]
		rest = rest[idx+3:]
	}
	if idx := strings.Index(rest, "/"); idx != -1 {
		rest = rest[:idx]
	}
	return scheme + rest
}

// readFile parses a flat YAML mapping of setting names to values.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		switch typed := v.(type) {
		case nil:
			continue
		case []interface{}:
			parts := make([]string, 0, len(typed))
			for _, item := range typed {
				parts = append(parts, fmt.Sprint(item))
			}
			values[key] = strings.Join(parts, ",")
		case map[string]interface{}:
			parts := make([]string, 0, len(typed))
			for mk, mv := range typed {
				parts = append(parts, mk+"="+fmt.Sprint(mv))
			}
			values[key] = strings.Join(parts, ",")
		default:
			values[key] = fmt.Sprint(typed)
		}
	}
	return values, nil
}

// source resolves a setting from the environment first, then the file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[strings.ToLower(key)]
}

func (s source) str(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) integer(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) boolean(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (s source) duration(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// list splits a comma-separated value, dropping empty entries.
func (s source) list(key string, defaultValue []string) []string {
	value := s.lookup(key)
	if value == "" {
		return defaultValue
	}
	result := make([]string, 0)
	for _, p := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// pairs parses "a=1,b=2" into a map.
func (s source) pairs(key string) map[string]string {
	result := make(map[string]string)
	for _, item := range s.list(key, nil) {
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		result[k] = strings.TrimSpace(v)
	}
	return result
}
