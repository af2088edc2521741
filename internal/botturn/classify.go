package botturn

import (
	"strings"
	"unicode"
)

// Author is the classified author of a message element.
type Author int

const (
	Unknown Author = iota
	Bot
	User
)

func (a Author) String() string {
	switch a {
	case Bot:
		return "bot"
	case User:
		return "user"
	default:
		return "unknown"
	}
}

// Classifier attributes a message element to an author. Unknown is a
// non-event.
type Classifier func(*Node) Author

var (
	botTokens  = map[string]bool{"bot": true, "assistant": true}
	userTokens = map[string]bool{"user": true, "you": true}
)

// DefaultClassifier applies the widget heuristics in order: the element's
// own class names and data-author/data-role, then a nested author indicator,
// then an icon inside a generic message element.
func DefaultClassifier(n *Node) Author {
	if n == nil || n.IsText() {
		return Unknown
	}
	if a := authorOf(n); a != Unknown {
		return a
	}

	var nested Author
	n.Walk(func(d *Node) bool {
		if nested != Unknown || d == n || d.IsText() {
			return nested == Unknown
		}
		if isAuthorIndicator(d) {
			nested = authorOf(d)
			if nested == Unknown {
				nested = authorFromText(d.TextContent())
			}
		}
		return nested == Unknown
	})
	if nested != Unknown {
		return nested
	}

	if hasToken(n, "message") && !hasAnyToken(n, userTokens) && containsIcon(n) {
		return Bot
	}
	return Unknown
}

// authorOf inspects class names and data-author/data-role. Both bot and
// user tokens present means ambiguous.
func authorOf(n *Node) Author {
	bot := hasAnyToken(n, botTokens)
	user := hasAnyToken(n, userTokens)
	switch {
	case bot && !user:
		return Bot
	case user && !bot:
		return User
	default:
		return Unknown
	}
}

func authorFromText(s string) Author {
	words := splitTokens(s)
	var bot, user bool
	for _, w := range words {
		bot = bot || botTokens[w]
		user = user || userTokens[w]
	}
	switch {
	case bot && !user:
		return Bot
	case user && !bot:
		return User
	default:
		return Unknown
	}
}

func isAuthorIndicator(n *Node) bool {
	if n.Attr("data-author") != "" {
		return true
	}
	for _, tok := range tokensOf(n) {
		switch tok {
		case "author", "avatar", "sender", "name":
			return true
		}
	}
	return false
}

// isMessage reports whether n looks like a chat message element.
func isMessage(n *Node) bool {
	if n == nil || n.IsText() {
		return false
	}
	if n.Attr("data-author") != "" || n.Attr("data-role") != "" {
		return true
	}
	return hasToken(n, "message")
}

func containsIcon(n *Node) bool {
	found := false
	n.Walk(func(d *Node) bool {
		if found || d.IsText() {
			return false
		}
		switch strings.ToLower(d.Tag) {
		case "svg", "img":
			found = true
		default:
			found = hasToken(d, "icon")
		}
		return !found
	})
	return found
}

func hasToken(n *Node, token string) bool {
	for _, t := range tokensOf(n) {
		if t == token {
			return true
		}
	}
	return false
}

func hasAnyToken(n *Node, set map[string]bool) bool {
	for _, t := range tokensOf(n) {
		if set[t] {
			return true
		}
	}
	return false
}

// tokensOf splits class names and the author attributes into lowercase
// words, so "chat-message--bot" yields chat, message, bot.
func tokensOf(n *Node) []string {
	var out []string
	for _, c := range n.Classes {
		out = append(out, splitTokens(c)...)
	}
	out = append(out, splitTokens(n.Attr("data-author"))...)
	out = append(out, splitTokens(n.Attr("data-role"))...)
	return out
}

func splitTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
