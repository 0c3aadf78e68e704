// Package browser is the seam between the cart harness and a browser
// automation engine. The harness only talks to these interfaces; engines live
// in the rodbrowser and pwbrowser subpackages.
package browser

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrNoElement is returned when a query matches nothing.
var ErrNoElement = errors.New("browser: no element matches query")

// Browser opens pages in isolated contexts.
type Browser interface {
	// NewPage opens a page in a fresh context. A nil state starts the context
	// with no cookies or local storage.
	NewPage(ctx context.Context, state *StorageState) (Page, error)
	Close() error
}

// Page is one tab of an isolated browser context.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	// WaitURL blocks until match accepts the page URL or ctx is done.
	WaitURL(ctx context.Context, match func(url string) bool) error

	Count(ctx context.Context, q Query) (int, error)
	// Text returns the rendered text of the first match.
	Text(ctx context.Context, q Query) (string, error)
	// Attribute returns the attribute of the first match; ok is false when the
	// attribute is absent.
	Attribute(ctx context.Context, q Query, name string) (value string, ok bool, err error)
	// Value returns the current value of the first matching form control.
	Value(ctx context.Context, q Query) (string, error)
	WaitVisible(ctx context.Context, q Query) error
	Click(ctx context.Context, q Query) error
	// Type sends text to the focused element through the keyboard.
	Type(ctx context.Context, text string) error

	// Cookies returns the cookies the context would send to url.
	Cookies(ctx context.Context, url string) ([]Cookie, error)
	// Post issues a POST within the page's session.
	Post(ctx context.Context, url string, header http.Header) (*Response, error)
	StorageState(ctx context.Context) (*StorageState, error)
	Close() error
}

// Response is the outcome of Page.Post.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Cookie mirrors a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// NameValue is one local storage item.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginState is the local storage of one origin.
type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// StorageState is everything that makes a context authenticated. Its JSON
// form is the Playwright storage state layout.
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// CookieHeader joins cookies into a Cookie request header value.
func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
