package browsertest

import (
	"fmt"
	"strings"

	"cartcheck/internal/browser"
)

// Node is an element of the in-memory document.
type Node struct {
	Tag      string
	Attrs    map[string]string
	Text     string
	Value    string
	Hidden   bool
	Parent   *Node
	Children []*Node

	onClick func() error
}

func el(tag string, attrs map[string]string, children ...*Node) *Node {
	n := &Node{Tag: tag, Attrs: attrs}
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	for _, c := range children {
		n.Append(c)
	}
	return n
}

func text(tag, class, s string) *Node {
	n := el(tag, nil)
	if class != "" {
		n.Attrs["class"] = class
	}
	n.Text = s
	return n
}

func button(label string, onClick func() error) *Node {
	n := text("button", "btn", label)
	n.onClick = onClick
	return n
}

// Append adds c as the last child of n.
func (n *Node) Append(c *Node) *Node {
	if c == nil {
		return n
	}
	c.Parent = n
	n.Children = append(n.Children, c)
	return n
}

// HasClass reports whether the class attribute lists cls.
func (n *Node) HasClass(cls string) bool {
	for _, c := range strings.Fields(n.Attrs["class"]) {
		if c == cls {
			return true
		}
	}
	return false
}

// InnerText concatenates the text of n and its descendants, space separated.
func (n *Node) InnerText() string {
	parts := make([]string, 0, 1+len(n.Children))
	if t := strings.TrimSpace(n.Text); t != "" {
		parts = append(parts, t)
	}
	for _, c := range n.Children {
		if t := c.InnerText(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Visible reports whether neither n nor any ancestor is hidden.
func (n *Node) Visible() bool {
	for p := n; p != nil; p = p.Parent {
		if p.Hidden {
			return false
		}
	}
	return true
}

func (n *Node) role() string {
	if r, ok := n.Attrs["role"]; ok {
		return r
	}
	switch n.Tag {
	case "button":
		return "button"
	case "a":
		return "link"
	case "input":
		if n.Attrs["type"] == "submit" {
			return "button"
		}
		return "textbox"
	}
	return ""
}

func (n *Node) accessibleName() string {
	if l, ok := n.Attrs["aria-label"]; ok {
		return l
	}
	if n.Tag == "input" {
		return n.Attrs["value"]
	}
	return n.InnerText()
}

// descendants lists the nodes below n in document order.
func (n *Node) descendants() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(p *Node) {
		for _, c := range p.Children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(n)
	return out
}

// resolve evaluates q against the document rooted at doc.
func resolve(doc *Node, q browser.Query) ([]*Node, error) {
	set := []*Node{doc}
	for _, step := range q.Steps() {
		if step.Kind == browser.StepNth {
			if step.Index < 0 || step.Index >= len(set) {
				set = nil
			} else {
				set = []*Node{set[step.Index]}
			}
			continue
		}

		match, err := stepMatcher(step)
		if err != nil {
			return nil, err
		}

		seen := map[*Node]bool{}
		var next []*Node
		for _, scope := range set {
			for _, d := range scope.descendants() {
				if !seen[d] && match(d) {
					seen[d] = true
					next = append(next, d)
				}
			}
		}
		set = next
	}
	return set, nil
}

func stepMatcher(step browser.Step) (func(*Node) bool, error) {
	switch step.Kind {
	case browser.StepCSS:
		g, err := parseSelector(step.Selector)
		if err != nil {
			return nil, err
		}
		return g.match, nil
	case browser.StepRole:
		return func(n *Node) bool {
			if n.role() != step.Role {
				return false
			}
			return step.Name == nil || step.Name.MatchString(n.accessibleName())
		}, nil
	case browser.StepText:
		return func(n *Node) bool {
			return n.Text != "" && strings.Contains(n.Text, step.Text)
		}, nil
	}
	return nil, fmt.Errorf("unsupported query step %d", step.Kind)
}
