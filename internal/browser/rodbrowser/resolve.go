package rodbrowser

import (
	"strings"

	"cartcheck/internal/browser"
)

// resolveJS evaluates a query chain in the page and returns the matching
// elements in document order. Each step searches below every element the
// previous step matched.
const resolveJS = `(steps) => {
	const roles = {
		button: 'button, input[type=submit], input[type=button], input[type=reset], [role=button]',
		link: 'a[href], [role=link]',
		textbox: 'input:not([type]), input[type=text], input[type=password], input[type=email], textarea, [role=textbox]',
		checkbox: 'input[type=checkbox], [role=checkbox]',
	};
	const accessibleName = (el) => {
		const label = el.getAttribute('aria-label');
		if (label) return label.trim();
		if (el.tagName === 'INPUT') return (el.value || '').trim();
		return (el.innerText || el.textContent || '').trim();
	};
	const ownText = (el, text) => Array.from(el.childNodes)
		.some((n) => n.nodeType === Node.TEXT_NODE && n.textContent.includes(text));

	let set = [document];
	for (const s of steps) {
		if (s.kind === 'nth') {
			set = s.index >= 0 && s.index < set.length ? [set[s.index]] : [];
			continue;
		}
		const seen = new Set();
		const next = [];
		for (const scope of set) {
			let found;
			if (s.kind === 'css') {
				found = Array.from(scope.querySelectorAll(s.selector));
			} else if (s.kind === 'role') {
				found = Array.from(scope.querySelectorAll(roles[s.role] || '[role="' + s.role + '"]'));
				if (s.name !== null) {
					const re = new RegExp(s.name, s.flags);
					found = found.filter((el) => re.test(accessibleName(el)));
				}
			} else {
				found = Array.from(scope.querySelectorAll('*')).filter((el) => ownText(el, s.text));
			}
			for (const el of found) {
				if (!seen.has(el)) {
					seen.add(el);
					next.push(el);
				}
			}
		}
		if (set.length > 1) {
			next.sort((a, b) => (a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING) ? -1 : 1);
		}
		set = next;
	}
	return set.filter((el) => el !== document);
}`

type jsStep struct {
	Kind     string  `json:"kind"`
	Selector string  `json:"selector,omitempty"`
	Role     string  `json:"role,omitempty"`
	Name     *string `json:"name"`
	Flags    string  `json:"flags"`
	Text     string  `json:"text,omitempty"`
	Index    int     `json:"index"`
}

// jsSteps converts q for resolveJS. Role name patterns are Go regexps; the
// leading (?i) flag group is turned into the JavaScript i flag, the rest of
// the pattern is passed through.
func jsSteps(q browser.Query) []jsStep {
	steps := q.Steps()
	out := make([]jsStep, 0, len(steps))
	for _, s := range steps {
		switch s.Kind {
		case browser.StepCSS:
			out = append(out, jsStep{Kind: "css", Selector: s.Selector})
		case browser.StepRole:
			js := jsStep{Kind: "role", Role: s.Role}
			if s.Name != nil {
				pattern, flags := jsPattern(s.Name.String())
				js.Name, js.Flags = &pattern, flags
			}
			out = append(out, js)
		case browser.StepText:
			out = append(out, jsStep{Kind: "text", Text: s.Text})
		case browser.StepNth:
			out = append(out, jsStep{Kind: "nth", Index: s.Index})
		}
	}
	return out
}

func jsPattern(re string) (pattern, flags string) {
	if strings.HasPrefix(re, "(?i)") {
		return strings.TrimPrefix(re, "(?i)"), "i"
	}
	return re, ""
}
