package browsertest

import (
	"fmt"
	"strings"
)

// The selector engine understands the subset of CSS the storefront contract
// uses: type, #id, .class, [attr], [attr="v"], :not(compound), descendant and
// child combinators, and comma-separated groups.

type attrCond struct {
	name  string
	value string
	exact bool
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrCond
	not     []compound
}

type complexSel struct {
	parts []compound
	// combs[i] joins parts[i-1] and parts[i]: ' ' or '>'.
	combs []byte
}

type selectorGroup []complexSel

func parseSelector(s string) (selectorGroup, error) {
	var group selectorGroup
	for _, part := range splitTopLevel(s, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty selector in %q", s)
		}
		c, err := parseComplex(part)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", s, err)
		}
		group = append(group, c)
	}
	return group, nil
}

func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case ch == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func parseComplex(s string) (complexSel, error) {
	var c complexSel
	comb := byte(' ')
	i := 0
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n':
			i++
			continue
		case '>':
			comb = '>'
			i++
			continue
		}

		end := compoundEnd(s, i)
		cp, err := parseCompound(s[i:end])
		if err != nil {
			return c, err
		}
		if len(c.parts) > 0 {
			c.combs = append(c.combs, comb)
		} else {
			c.combs = append(c.combs, 0)
		}
		c.parts = append(c.parts, cp)
		comb = ' '
		i = end
	}
	if len(c.parts) == 0 {
		return c, fmt.Errorf("no compound selector")
	}
	return c, nil
}

func compoundEnd(s string, i int) int {
	depth := 0
	var quote byte
	for ; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case depth == 0 && (ch == ' ' || ch == '>' || ch == '\t' || ch == '\n'):
			return i
		}
	}
	return i
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	if i < len(s) && s[i] == '*' {
		i++
	}
	start := i
	for i < len(s) && isIdent(s[i]) {
		i++
	}
	c.tag = strings.ToLower(s[start:i])

	for i < len(s) {
		switch s[i] {
		case '#':
			j := identEnd(s, i+1)
			c.id = s[i+1 : j]
			i = j
		case '.':
			j := identEnd(s, i+1)
			c.classes = append(c.classes, s[i+1:j])
			i = j
		case '[':
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				return c, fmt.Errorf("unclosed attribute selector in %q", s)
			}
			c.attrs = append(c.attrs, parseAttr(s[i+1:i+j]))
			i += j + 1
		case ':':
			if !strings.HasPrefix(s[i:], ":not(") {
				return c, fmt.Errorf("unsupported pseudo-class in %q", s)
			}
			j := strings.IndexByte(s[i:], ')')
			if j < 0 {
				return c, fmt.Errorf("unclosed :not in %q", s)
			}
			inner, err := parseCompound(s[i+5 : i+j])
			if err != nil {
				return c, err
			}
			c.not = append(c.not, inner)
			i += j + 1
		default:
			return c, fmt.Errorf("unexpected %q in %q", s[i], s)
		}
	}
	return c, nil
}

func parseAttr(s string) attrCond {
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return attrCond{name: strings.TrimSpace(s)}
	}
	v := strings.TrimSpace(s[eq+1:])
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	return attrCond{name: strings.TrimSpace(s[:eq]), value: v, exact: true}
}

func isIdent(ch byte) bool {
	return ch == '-' || ch == '_' || ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}

func identEnd(s string, i int) int {
	for i < len(s) && isIdent(s[i]) {
		i++
	}
	return i
}

func (c compound) match(n *Node) bool {
	if c.tag != "" && c.tag != n.Tag {
		return false
	}
	if c.id != "" && n.Attrs["id"] != c.id {
		return false
	}
	for _, cls := range c.classes {
		if !n.HasClass(cls) {
			return false
		}
	}
	for _, a := range c.attrs {
		v, ok := n.Attrs[a.name]
		if !ok || a.exact && v != a.value {
			return false
		}
	}
	for _, not := range c.not {
		if not.match(n) {
			return false
		}
	}
	return true
}

func (c complexSel) match(n *Node) bool {
	return c.matchFrom(n, len(c.parts)-1)
}

func (c complexSel) matchFrom(n *Node, i int) bool {
	if !c.parts[i].match(n) {
		return false
	}
	if i == 0 {
		return true
	}
	if c.combs[i] == '>' {
		return n.Parent != nil && c.matchFrom(n.Parent, i-1)
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if c.matchFrom(p, i-1) {
			return true
		}
	}
	return false
}

func (g selectorGroup) match(n *Node) bool {
	for _, c := range g {
		if c.match(n) {
			return true
		}
	}
	return false
}
