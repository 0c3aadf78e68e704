package rodbrowser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	json "github.com/json-iterator/go"

	"cartcheck/internal/browser"
)

const (
	pollInterval = 100 * time.Millisecond
	maxBodySize  = 1 << 20
)

// restoreStorageJS seeds localStorage once per tab for the origin being
// loaded.
const restoreStorageJS = `(() => {
	const origins = %s;
	if (sessionStorage.getItem('__cartcheck_restored')) return;
	const o = origins.find((x) => x.origin === location.origin);
	if (!o) return;
	for (const kv of o.localStorage || []) localStorage.setItem(kv.name, kv.value);
	sessionStorage.setItem('__cartcheck_restored', '1');
})()`

const postJS = `async (url, headers, limit) => {
	const res = await fetch(url, {method: 'POST', headers, credentials: 'include', redirect: 'follow'});
	const text = await res.text();
	return JSON.stringify({status: res.status, body: text.slice(0, limit)});
}`

const captureStorageJS = `() => JSON.stringify({
	origin: location.origin,
	localStorage: Object.entries(localStorage).map(([name, value]) => ({name, value})),
})`

type Page struct {
	owner   *Browser
	context *rod.Browser
	page    *rod.Page

	closeOnce sync.Once
	closeErr  error
}

var _ browser.Page = (*Page)(nil)

func (p *Page) restore(ctx context.Context, state *browser.StorageState) error {
	if len(state.Cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(state.Cookies))
		for _, c := range state.Cookies {
			param := &proto.NetworkCookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
				SameSite: proto.NetworkCookieSameSite(c.SameSite),
			}
			if c.Expires > 0 {
				param.Expires = proto.TimeSinceEpoch(c.Expires)
			}
			params = append(params, param)
		}
		if err := p.context.Context(ctx).SetCookies(params); err != nil {
			return fmt.Errorf("failed to restore cookies: %w", err)
		}
	}

	if len(state.Origins) > 0 {
		origins, err := json.Marshal(state.Origins)
		if err != nil {
			return fmt.Errorf("failed to encode local storage: %w", err)
		}
		if _, err := p.page.Context(ctx).EvalOnNewDocument(fmt.Sprintf(restoreStorageJS, origins)); err != nil {
			return fmt.Errorf("failed to restore local storage: %w", err)
		}
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page %s failed to load: %w", url, err)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	page := p.page.Context(ctx)
	if err := page.Reload(); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page failed to load after reload: %w", err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page info: %w", err)
	}
	return info.URL, nil
}

func (p *Page) WaitURL(ctx context.Context, match func(string) bool) error {
	last := ""
	for {
		u, err := p.URL(ctx)
		if err == nil {
			if match(u) {
				return nil
			}
			last = u
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for URL, still at %s: %w", last, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (p *Page) elements(ctx context.Context, q browser.Query) (rod.Elements, error) {
	els, err := p.page.Context(ctx).ElementsByJS(rod.Eval(resolveJS, jsSteps(q)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", q, err)
	}
	return els, nil
}

// first waits for q to match and returns the first match.
func (p *Page) first(ctx context.Context, q browser.Query) (*rod.Element, error) {
	for {
		els, err := p.elements(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 {
			return els.First().Context(ctx), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", browser.ErrNoElement, q, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (p *Page) Count(ctx context.Context, q browser.Query) (int, error) {
	els, err := p.elements(ctx, q)
	return len(els), err
}

func (p *Page) Text(ctx context.Context, q browser.Query) (string, error) {
	el, err := p.first(ctx, q)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (p *Page) Attribute(ctx context.Context, q browser.Query, name string) (string, bool, error) {
	el, err := p.first(ctx, q)
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

func (p *Page) Value(ctx context.Context, q browser.Query) (string, error) {
	el, err := p.first(ctx, q)
	if err != nil {
		return "", err
	}
	v, err := el.Property("value")
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

func (p *Page) WaitVisible(ctx context.Context, q browser.Query) error {
	_, err := p.visible(ctx, q)
	return err
}

func (p *Page) visible(ctx context.Context, q browser.Query) (*rod.Element, error) {
	for {
		els, err := p.elements(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 {
			el := els.First().Context(ctx)
			if ok, err := el.Visible(); err == nil && ok {
				return el, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s did not become visible: %w", q, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (p *Page) Click(ctx context.Context, q browser.Query) error {
	el, err := p.visible(ctx, q)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", q, err)
	}
	return nil
}

// Type sends a key press for every rune of text to the focused element, so
// key handlers run the way they do for a user.
func (p *Page) Type(ctx context.Context, text string) error {
	page := p.page.Context(ctx)
	for _, r := range text {
		key := string(r)
		down := proto.InputDispatchKeyEvent{
			Type:           proto.InputDispatchKeyEventTypeKeyDown,
			Key:            key,
			Text:           key,
			UnmodifiedText: key,
		}
		if err := down.Call(page); err != nil {
			return fmt.Errorf("failed to type %q: %w", key, err)
		}
		up := proto.InputDispatchKeyEvent{Type: proto.InputDispatchKeyEventTypeKeyUp, Key: key}
		if err := up.Call(page); err != nil {
			return fmt.Errorf("failed to type %q: %w", key, err)
		}
	}
	return nil
}

func (p *Page) Cookies(ctx context.Context, url string) ([]browser.Cookie, error) {
	cookies, err := p.page.Context(ctx).Cookies([]string{url})
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}
	return convertCookies(cookies), nil
}

func convertCookies(cookies []*proto.NetworkCookie) []browser.Cookie {
	out := make([]browser.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// Post sends the request with fetch from inside the page, so the browser
// attaches its own cookies and stores any it receives. The URL must share the
// page's origin.
func (p *Page) Post(ctx context.Context, url string, header http.Header) (*browser.Response, error) {
	res, err := p.page.Context(ctx).Eval(postJS, url, fetchHeaders(header), maxBodySize)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	var out struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	if err := json.UnmarshalFromString(res.Value.Str(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return &browser.Response{Status: out.Status, Body: []byte(out.Body)}, nil
}

// fetchHeaders drops the headers fetch may not set. Cookies travel with
// credentials: 'include' instead.
func fetchHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch http.CanonicalHeaderKey(k) {
		case "Cookie", "User-Agent", "Host", "Content-Length":
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func (p *Page) StorageState(ctx context.Context) (*browser.StorageState, error) {
	cookies, err := p.context.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}
	state := &browser.StorageState{Cookies: convertCookies(cookies), Origins: []browser.OriginState{}}

	res, err := p.page.Context(ctx).Eval(captureStorageJS)
	if err != nil {
		return nil, fmt.Errorf("failed to read local storage: %w", err)
	}
	var origin browser.OriginState
	if err := json.UnmarshalFromString(res.Value.Str(), &origin); err != nil {
		return nil, fmt.Errorf("failed to decode local storage: %w", err)
	}
	if origin.Origin != "" && origin.Origin != "null" && len(origin.LocalStorage) > 0 {
		state.Origins = append(state.Origins, origin)
	}
	return state, nil
}

// Close closes the tab and disposes of its incognito context.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		if err := p.page.Close(); err != nil {
			p.closeErr = err
		}
		err := proto.TargetDisposeBrowserContext{BrowserContextID: p.context.BrowserContextID}.Call(p.owner.browser)
		if err != nil && p.closeErr == nil {
			p.closeErr = err
		}
	})
	return p.closeErr
}
