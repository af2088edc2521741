package botturn

import "strings"

// DefaultSignatureChars is the prefix and suffix length of a Signature.
const DefaultSignatureChars = 32

// Signature fingerprints a message by its normalized text.
type Signature struct {
	Length int
	Prefix string
	Suffix string
}

// IsZero reports whether s was computed from empty text.
func (s Signature) IsZero() bool {
	return s.Length == 0
}

// SignatureOf computes the signature of n's text content with whitespace
// runs collapsed. chars bounds the prefix and suffix in runes.
func SignatureOf(n *Node, chars int) Signature {
	if chars <= 0 {
		chars = DefaultSignatureChars
	}
	text := []rune(strings.Join(strings.Fields(n.TextContent()), " "))
	sig := Signature{Length: len(text)}
	if len(text) <= chars {
		sig.Prefix = string(text)
		sig.Suffix = string(text)
		return sig
	}
	sig.Prefix = string(text[:chars])
	sig.Suffix = string(text[len(text)-chars:])
	return sig
}
