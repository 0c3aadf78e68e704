package browser

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryString(t *testing.T) {
	q := CSS("div.note-list").CSS(`div.note-item[data-product="3"]`).Button(regexp.MustCompile(`(?i)купить`))
	assert.Equal(t, `css=div.note-list >> css=div.note-item[data-product="3"] >> role=button[name=/(?i)купить/]`, q.String())

	assert.Equal(t, `text="Server Error"`, Text("Server Error").String())
	assert.Equal(t, "css=li >> nth=2", CSS("li").Nth(2).String())
}

func TestQueryIsImmutable(t *testing.T) {
	base := CSS("ul")
	a := base.CSS("li.a")
	b := base.CSS("li.b")

	require.Len(t, base.Steps(), 1)
	assert.Equal(t, "css=ul >> css=li.a", a.String())
	assert.Equal(t, "css=ul >> css=li.b", b.String())
	assert.True(t, Query{}.IsZero())
	assert.False(t, base.IsZero())
}

func TestCookieHeader(t *testing.T) {
	got := CookieHeader([]Cookie{{Name: "_csrf", Value: "abc"}, {Name: "session", Value: "42"}})
	assert.Equal(t, "_csrf=abc; session=42", got)
	assert.Equal(t, "", CookieHeader(nil))
}

func TestResponseOK(t *testing.T) {
	assert.True(t, (&Response{Status: 200}).OK())
	assert.True(t, (&Response{Status: 204}).OK())
	assert.False(t, (&Response{Status: 302}).OK())
	assert.False(t, (&Response{Status: 419}).OK())
	var r *Response
	assert.False(t, r.OK())
}
