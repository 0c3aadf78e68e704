package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"cartcheck/internal/browser"
)

// ErrNotVisible is returned by WaitVisible and Click for hidden elements.
var ErrNotVisible = errors.New("browsertest: element not visible")

// Browser opens pages on a Shop.
type Browser struct {
	shop *Shop

	mu     sync.Mutex
	opened int
	closed bool
}

var _ browser.Browser = (*Browser)(nil)

func NewBrowser(shop *Shop) *Browser {
	return &Browser{shop: shop}
}

func (b *Browser) NewPage(ctx context.Context, state *browser.StorageState) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browsertest: browser closed")
	}
	b.opened++

	p := &Page{
		shop:    b.shop,
		url:     "about:blank",
		cookies: map[string]string{},
		local:   map[string]map[string]string{},
		doc:     el("#document", nil),
	}
	if state != nil {
		for _, c := range state.Cookies {
			p.cookies[c.Name] = c.Value
		}
		for _, o := range state.Origins {
			items := map[string]string{}
			for _, kv := range o.LocalStorage {
				items[kv.Name] = kv.Value
			}
			p.local[o.Origin] = items
		}
	}
	return p, nil
}

// Opened counts pages opened so far.
func (b *Browser) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Page is a tab rendering the Shop. A Page is used by one goroutine.
type Page struct {
	shop *Shop

	url       string
	cookies   map[string]string
	local     map[string]map[string]string
	doc       *Node
	panelOpen bool
	focused   *Node
	typed     int
	lagNode   *Node
	lagValue  string
	lagReads  int
	hops      []string
	closed    bool
	loginErr  bool
}

var _ browser.Page = (*Page)(nil)

// Token is the shop session this page is logged into.
func (p *Page) Token() string {
	return p.cookies[sessionCookie]
}

// Document exposes the current DOM for assertions in tests.
func (p *Page) Document() *Node {
	return p.doc
}

func (p *Page) check(ctx context.Context) error {
	if p.closed {
		return errors.New("browsertest: page closed")
	}
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if !strings.HasPrefix(rawURL, p.shop.Root) {
		return fmt.Errorf("browsertest: cannot reach %s", rawURL)
	}
	p.url = rawURL
	p.panelOpen = false
	p.focused = nil
	p.render()
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	return p.Navigate(ctx, p.url)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.url, nil
}

// WaitURL follows pending login redirects one hop at a time until match
// accepts the URL.
func (p *Page) WaitURL(ctx context.Context, match func(string) bool) error {
	for {
		if err := p.check(ctx); err != nil {
			return err
		}
		if match(p.url) {
			return nil
		}
		if len(p.hops) == 0 {
			return fmt.Errorf("waiting for URL, still at %s: %w", p.url, context.DeadlineExceeded)
		}
		p.url, p.hops = p.hops[0], p.hops[1:]
		p.render()
	}
}

func (p *Page) all(ctx context.Context, q browser.Query) ([]*Node, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return resolve(p.doc, q)
}

func (p *Page) first(ctx context.Context, q browser.Query) (*Node, error) {
	nodes, err := p.all(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNoElement, q)
	}
	return nodes[0], nil
}

func (p *Page) Count(ctx context.Context, q browser.Query) (int, error) {
	nodes, err := p.all(ctx, q)
	return len(nodes), err
}

func (p *Page) Text(ctx context.Context, q browser.Query) (string, error) {
	n, err := p.first(ctx, q)
	if err != nil {
		return "", err
	}
	return n.InnerText(), nil
}

func (p *Page) Attribute(ctx context.Context, q browser.Query, name string) (string, bool, error) {
	n, err := p.first(ctx, q)
	if err != nil {
		return "", false, err
	}
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (p *Page) Value(ctx context.Context, q browser.Query) (string, error) {
	n, err := p.first(ctx, q)
	if err != nil {
		return "", err
	}
	if n == p.lagNode && p.lagReads > 0 {
		p.lagReads--
		return p.lagValue, nil
	}
	return n.Value, nil
}

func (p *Page) WaitVisible(ctx context.Context, q browser.Query) error {
	n, err := p.first(ctx, q)
	if err != nil {
		return err
	}
	if !n.Visible() {
		return fmt.Errorf("%w: %s", ErrNotVisible, q)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, q browser.Query) error {
	n, err := p.first(ctx, q)
	if err != nil {
		return err
	}
	if !n.Visible() {
		return fmt.Errorf("%w: %s", ErrNotVisible, q)
	}
	if n.Tag == "input" {
		p.focused = n
	}
	if n.onClick != nil {
		return n.onClick()
	}
	return nil
}

func (p *Page) Type(ctx context.Context, s string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if p.focused == nil {
		return errors.New("browsertest: no focused element")
	}
	if p.shop.InputLag > 0 {
		if p.lagNode != p.focused || p.lagReads == 0 {
			p.lagNode, p.lagValue = p.focused, p.focused.Value
		}
		p.lagReads = p.shop.InputLag
	}
	for _, r := range s {
		p.typed++
		if p.shop.DropKeystroke > 0 && p.typed%p.shop.DropKeystroke == 0 {
			continue
		}
		p.focused.Value += string(r)
	}
	return nil
}

func (p *Page) Cookies(ctx context.Context, rawURL string) ([]browser.Cookie, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(rawURL, p.shop.Root) {
		return nil, nil
	}
	host := p.host()
	names := make([]string, 0, len(p.cookies))
	for name := range p.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]browser.Cookie, 0, len(names))
	for _, name := range names {
		out = append(out, browser.Cookie{
			Name:     name,
			Value:    p.cookies[name],
			Domain:   host,
			Path:     "/",
			Expires:  -1,
			HTTPOnly: name == sessionCookie,
		})
	}
	return out, nil
}

func (p *Page) Post(ctx context.Context, rawURL string, header http.Header) (*browser.Response, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(rawURL, p.shop.Root) {
		return nil, fmt.Errorf("browsertest: cannot reach %s", rawURL)
	}
	switch u.Path {
	case "/basket/clear":
		status := p.shop.clearViaAPI(header)
		return &browser.Response{Status: status, Body: []byte(fmt.Sprintf(`{"status":%d}`, status))}, nil
	}
	return &browser.Response{Status: http.StatusNotFound}, nil
}

func (p *Page) StorageState(ctx context.Context) (*browser.StorageState, error) {
	cookies, err := p.Cookies(ctx, p.shop.Root)
	if err != nil {
		return nil, err
	}
	state := &browser.StorageState{Cookies: cookies, Origins: []browser.OriginState{}}

	origins := make([]string, 0, len(p.local))
	for o := range p.local {
		origins = append(origins, o)
	}
	sort.Strings(origins)
	for _, o := range origins {
		origin := browser.OriginState{Origin: o}
		keys := make([]string, 0, len(p.local[o]))
		for k := range p.local[o] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			origin.LocalStorage = append(origin.LocalStorage, browser.NameValue{Name: k, Value: p.local[o][k]})
		}
		state.Origins = append(state.Origins, origin)
	}
	return state, nil
}

func (p *Page) Close() error {
	p.closed = true
	return nil
}

func (p *Page) host() string {
	u, err := url.Parse(p.shop.Root)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (p *Page) path() string {
	u, err := url.Parse(p.url)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
