// Package botturn watches the chat widget's rendered tree and reports new
// assistant messages, ignoring user messages, restored history and repeated
// notifications for the same message.
package botturn

import "strings"

// TextTag is the Tag of a text node.
const TextTag = "#text"

// Node is one element or text node of an observed widget tree.
type Node struct {
	ID       string            `json:"id,omitempty"`
	Tag      string            `json:"tag"`
	Classes  []string          `json:"classes,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []*Node           `json:"children,omitempty"`

	parent *Node
}

// Element builds an element node.
func Element(tag string, classes []string, attrs map[string]string, children ...*Node) *Node {
	n := &Node{Tag: tag, Classes: classes, Attrs: attrs}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

// TextNode builds a text node.
func TextNode(text string) *Node {
	return &Node{Tag: TextTag, Text: text}
}

// Parent returns the parent node, nil at the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// AppendChild attaches c as the last child of n.
func (n *Node) AppendChild(c *Node) {
	c.parent = n
	n.Children = append(n.Children, c)
}

// Attr returns the named attribute, case-insensitively on the name.
func (n *Node) Attr(name string) string {
	if v, ok := n.Attrs[name]; ok {
		return v
	}
	for k, v := range n.Attrs {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// IsText reports whether n is a text node.
func (n *Node) IsText() bool {
	return n.Tag == TextTag
}

// TextContent concatenates the text of n and all its descendants.
func (n *Node) TextContent() string {
	var b strings.Builder
	n.Walk(func(d *Node) bool {
		if d.IsText() {
			b.WriteString(d.Text)
		}
		return true
	})
	return b.String()
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the visited node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Contains reports whether d is n or one of its descendants.
func (n *Node) Contains(d *Node) bool {
	for p := d; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// Clone deep-copies n. The copy has no parent.
func (n *Node) Clone() *Node {
	c := &Node{ID: n.ID, Tag: n.Tag, Text: n.Text}
	if n.Classes != nil {
		c.Classes = append([]string(nil), n.Classes...)
	}
	if n.Attrs != nil {
		c.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v
		}
	}
	for _, child := range n.Children {
		c.AppendChild(child.Clone())
	}
	return c
}

// link restores parent pointers after decoding.
func (n *Node) link() {
	for _, c := range n.Children {
		c.parent = n
		c.link()
	}
}
