package rodbrowser

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartcheck/internal/browser"
)

func TestJSSteps(t *testing.T) {
	q := browser.CSS("div.note-item").
		Button(regexp.MustCompile(`(?i)купить`)).
		Text("Блокнот").
		Nth(2)

	steps := jsSteps(q)
	require.Len(t, steps, 4)

	assert.Equal(t, jsStep{Kind: "css", Selector: "div.note-item"}, steps[0])

	assert.Equal(t, "role", steps[1].Kind)
	assert.Equal(t, "button", steps[1].Role)
	require.NotNil(t, steps[1].Name)
	assert.Equal(t, "купить", *steps[1].Name)
	assert.Equal(t, "i", steps[1].Flags)

	assert.Equal(t, jsStep{Kind: "text", Text: "Блокнот"}, steps[2])
	assert.Equal(t, jsStep{Kind: "nth", Index: 2}, steps[3])
}

func TestJSStepsRoleWithoutName(t *testing.T) {
	steps := jsSteps(browser.Role("textbox", nil))
	require.Len(t, steps, 1)
	assert.Nil(t, steps[0].Name)
	assert.Empty(t, steps[0].Flags)
}

func TestJSPattern(t *testing.T) {
	tests := []struct {
		in, pattern, flags string
	}{
		{`(?i)вход`, `вход`, "i"},
		{`^Login$`, `^Login$`, ""},
		{`a(?i)b`, `a(?i)b`, ""},
	}
	for _, tt := range tests {
		pattern, flags := jsPattern(tt.in)
		assert.Equal(t, tt.pattern, pattern, tt.in)
		assert.Equal(t, tt.flags, flags, tt.in)
	}
}
