package rodbrowser

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Cookie", "PHPSESSID=abc")
	h.Set("User-Agent", "go")
	h.Set("X-CSRF-Token", "tok")
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")

	assert.Equal(t, map[string]string{
		"X-Csrf-Token": "tok",
		"Accept":       "text/html, application/json",
	}, fetchHeaders(h))
}

func TestFetchHeadersEmpty(t *testing.T) {
	assert.Empty(t, fetchHeaders(nil))
}
