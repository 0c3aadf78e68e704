package browser

import (
	"fmt"
	"regexp"
	"strings"
)

// StepKind says how one step of a Query narrows the element set.
type StepKind int

const (
	// StepCSS selects descendants matching a CSS selector.
	StepCSS StepKind = iota
	// StepRole selects descendants with an ARIA role whose accessible name
	// matches Name.
	StepRole
	// StepText selects descendants whose text contains Text.
	StepText
	// StepNth keeps only the Nth element of the current set.
	StepNth
)

// Step is one stage of a Query.
type Step struct {
	Kind     StepKind
	Selector string
	Role     string
	Name     *regexp.Regexp
	Text     string
	Index    int
}

// Query describes how to find elements on a page. It holds no page state:
// adapters resolve it from scratch on every call, so a Query stays valid
// across reloads.
type Query struct {
	steps []Step
}

// CSS starts a query at the elements matching selector.
func CSS(selector string) Query {
	return Query{}.CSS(selector)
}

// Role starts a query at the elements with role whose accessible name matches name.
func Role(role string, name *regexp.Regexp) Query {
	return Query{}.Role(role, name)
}

// Text starts a query at the elements containing text.
func Text(text string) Query {
	return Query{}.Text(text)
}

// CSS narrows q to descendants matching selector.
func (q Query) CSS(selector string) Query {
	return q.with(Step{Kind: StepCSS, Selector: selector})
}

// Role narrows q to descendants with role whose accessible name matches name.
func (q Query) Role(role string, name *regexp.Regexp) Query {
	return q.with(Step{Kind: StepRole, Role: role, Name: name})
}

// Button is shorthand for Role("button", name).
func (q Query) Button(name *regexp.Regexp) Query {
	return q.Role("button", name)
}

// Text narrows q to descendants containing text.
func (q Query) Text(text string) Query {
	return q.with(Step{Kind: StepText, Text: text})
}

// Nth narrows q to its i-th match, counting from zero.
func (q Query) Nth(i int) Query {
	return q.with(Step{Kind: StepNth, Index: i})
}

// Steps returns the query's steps in evaluation order.
func (q Query) Steps() []Step {
	out := make([]Step, len(q.steps))
	copy(out, q.steps)
	return out
}

// IsZero reports whether q has no steps.
func (q Query) IsZero() bool {
	return len(q.steps) == 0
}

func (q Query) with(s Step) Query {
	steps := make([]Step, len(q.steps), len(q.steps)+1)
	copy(steps, q.steps)
	return Query{steps: append(steps, s)}
}

// String renders q in a Playwright-like selector chain. Two queries built the
// same way render identically.
func (q Query) String() string {
	parts := make([]string, 0, len(q.steps))
	for _, s := range q.steps {
		switch s.Kind {
		case StepCSS:
			parts = append(parts, "css="+s.Selector)
		case StepRole:
			name := ""
			if s.Name != nil {
				name = s.Name.String()
			}
			parts = append(parts, fmt.Sprintf("role=%s[name=/%s/]", s.Role, name))
		case StepText:
			parts = append(parts, fmt.Sprintf("text=%q", s.Text))
		case StepNth:
			parts = append(parts, fmt.Sprintf("nth=%d", s.Index))
		}
	}
	return strings.Join(parts, " >> ")
}
