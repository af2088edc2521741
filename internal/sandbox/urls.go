package sandbox

import (
	"net/url"
	"strings"
)

// Placeholder is replaced by the session id in URL templates.
const Placeholder = "{sessionId}"

// URLs holds the editor and preview base-URL patterns for the dual-pane
// workspace.
type URLs struct {
	Editor  string
	Preview string
}

// For templates sessionID into both patterns. An empty session id yields
// empty URLs so panels render their "no session" state.
func (u URLs) For(sessionID string) (editor, preview string) {
	if sessionID == "" {
		return "", ""
	}
	escaped := url.PathEscape(sessionID)
	return strings.ReplaceAll(u.Editor, Placeholder, escaped), strings.ReplaceAll(u.Preview, Placeholder, escaped)
}
