package pwbrowser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"cartcheck/internal/browser"
)

const pollInterval = 100 * time.Millisecond

type Page struct {
	context playwright.BrowserContext
	page    playwright.Page
}

var _ browser.Page = (*Page)(nil)

// timeout converts the ctx deadline to a Playwright timeout in milliseconds.
// Without a deadline Playwright's own default applies.
func timeout(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		// zero disables the timeout in Playwright
		ms = 1
	}
	return playwright.Float(ms)
}

// fail classifies Playwright timeouts as deadline errors so callers can treat
// both engines alike.
func fail(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// locator builds the native locator chain for q, rooted at the document.
func (p *Page) locator(q browser.Query) playwright.Locator {
	loc := p.page.Locator(":root")
	for _, s := range q.Steps() {
		switch s.Kind {
		case browser.StepCSS:
			loc = loc.Locator(s.Selector)
		case browser.StepRole:
			opts := playwright.LocatorGetByRoleOptions{}
			if s.Name != nil {
				opts.Name = s.Name
			}
			loc = loc.GetByRole(playwright.AriaRole(s.Role), opts)
		case browser.StepText:
			loc = loc.GetByText(s.Text)
		case browser.StepNth:
			loc = loc.Nth(s.Index)
		}
	}
	return loc
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeout(ctx),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, fail(ctx, err))
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{
		Timeout:   timeout(ctx),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("failed to reload: %w", fail(ctx, err))
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

func (p *Page) WaitURL(ctx context.Context, match func(string) bool) error {
	for {
		u := p.page.URL()
		if match(u) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for URL, still at %s: %w", u, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (p *Page) Count(ctx context.Context, q browser.Query) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.locator(q).Count()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q, err)
	}
	return n, nil
}

func (p *Page) attached(ctx context.Context, q browser.Query) (playwright.Locator, error) {
	loc := p.locator(q).First()
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: timeout(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", browser.ErrNoElement, q, fail(ctx, err))
	}
	return loc, nil
}

func (p *Page) Text(ctx context.Context, q browser.Query) (string, error) {
	loc, err := p.attached(ctx, q)
	if err != nil {
		return "", err
	}
	text, err := loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: timeout(ctx)})
	return text, fail(ctx, err)
}

func (p *Page) Attribute(ctx context.Context, q browser.Query, name string) (string, bool, error) {
	loc, err := p.attached(ctx, q)
	if err != nil {
		return "", false, err
	}
	v, err := loc.Evaluate(`(el, name) => el.getAttribute(name)`, name, playwright.LocatorEvaluateOptions{Timeout: timeout(ctx)})
	if err != nil {
		return "", false, fail(ctx, err)
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (p *Page) Value(ctx context.Context, q browser.Query) (string, error) {
	loc, err := p.attached(ctx, q)
	if err != nil {
		return "", err
	}
	v, err := loc.InputValue(playwright.LocatorInputValueOptions{Timeout: timeout(ctx)})
	return v, fail(ctx, err)
}

func (p *Page) WaitVisible(ctx context.Context, q browser.Query) error {
	err := p.locator(q).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeout(ctx),
	})
	if err != nil {
		return fmt.Errorf("%s did not become visible: %w", q, fail(ctx, err))
	}
	return nil
}

func (p *Page) Click(ctx context.Context, q browser.Query) error {
	if err := p.locator(q).First().Click(playwright.LocatorClickOptions{Timeout: timeout(ctx)}); err != nil {
		return fmt.Errorf("failed to click %s: %w", q, fail(ctx, err))
	}
	return nil
}

func (p *Page) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Keyboard().Type(text)
}

func (p *Page) Cookies(ctx context.Context, url string) ([]browser.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cookies, err := p.context.Cookies(url)
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}
	return fromPlaywrightCookies(cookies), nil
}

func (p *Page) Post(ctx context.Context, url string, header http.Header) (*browser.Response, error) {
	resp, err := p.context.Request().Post(url, playwright.APIRequestContextPostOptions{
		Headers: headerMap(header),
		Timeout: timeout(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, fail(ctx, err))
	}
	defer resp.Dispose()

	body, err := resp.Body()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &browser.Response{Status: resp.Status(), Body: body}, nil
}

// headerMap flattens h for the request API; repeated values are joined the
// way they would travel on the wire.
func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func (p *Page) StorageState(ctx context.Context) (*browser.StorageState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := p.context.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to capture storage state: %w", err)
	}

	out := &browser.StorageState{
		Cookies: fromPlaywrightCookies(state.Cookies),
		Origins: make([]browser.OriginState, 0, len(state.Origins)),
	}
	for _, o := range state.Origins {
		origin := browser.OriginState{Origin: o.Origin, LocalStorage: make([]browser.NameValue, 0, len(o.LocalStorage))}
		for _, kv := range o.LocalStorage {
			origin.LocalStorage = append(origin.LocalStorage, browser.NameValue{Name: kv.Name, Value: kv.Value})
		}
		out.Origins = append(out.Origins, origin)
	}
	return out, nil
}

// Close closes the page together with its browser context.
func (p *Page) Close() error {
	return p.context.Close()
}
