// Package pwbrowser drives Chromium through playwright-go. Queries map onto
// native Playwright locators and Post goes through the context's request API,
// so it shares the page's cookie jar.
package pwbrowser

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"cartcheck/internal/browser"
	"cartcheck/internal/config"
)

type Browser struct {
	cfg     config.BrowserConfig
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *zap.Logger
}

var _ browser.Browser = (*Browser)(nil)

type Option func(*Browser)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Browser) { b.logger = logger }
}

// Launch starts the Playwright driver and Chromium, or attaches to
// cfg.Remote over CDP. Browsers must already be installed with
// `playwright install chromium`.
func Launch(ctx context.Context, cfg config.BrowserConfig, opts ...Option) (*Browser, error) {
	b := &Browser{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	b.pw = pw

	if cfg.Remote != "" {
		b.browser, err = pw.Chromium.ConnectOverCDP(cfg.Remote)
	} else {
		launch := playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(cfg.Headless),
		}
		if cfg.Bin != "" {
			launch.ExecutablePath = playwright.String(cfg.Bin)
		}
		b.browser, err = pw.Chromium.Launch(launch)
	}
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b.logger.Info("browser ready",
		zap.String("version", b.browser.Version()),
		zap.Bool("headless", cfg.Headless),
		zap.Bool("remote", cfg.Remote != ""))
	return b, nil
}

// NewPage opens a page in a new browser context seeded with state.
func (b *Browser) NewPage(ctx context.Context, state *browser.StorageState) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := playwright.BrowserNewContextOptions{}
	if b.cfg.ViewportWidth > 0 && b.cfg.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{Width: b.cfg.ViewportWidth, Height: b.cfg.ViewportHeight}
	}
	if state != nil {
		opts.StorageState = toPlaywrightState(state)
	}

	bctx, err := b.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &Page{context: bctx, page: page}, nil
}

func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.pw != nil {
		if stopErr := b.pw.Stop(); err == nil {
			err = stopErr
		}
	}
	return err
}

func toPlaywrightState(state *browser.StorageState) *playwright.OptionalStorageState {
	out := &playwright.OptionalStorageState{}
	for _, c := range state.Cookies {
		cookie := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			Expires:  playwright.Float(c.Expires),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.SameSite != "" {
			sameSite := playwright.SameSiteAttribute(c.SameSite)
			cookie.SameSite = &sameSite
		}
		out.Cookies = append(out.Cookies, cookie)
	}
	for _, o := range state.Origins {
		origin := playwright.Origin{Origin: o.Origin}
		for _, kv := range o.LocalStorage {
			origin.LocalStorage = append(origin.LocalStorage, playwright.NameValue{Name: kv.Name, Value: kv.Value})
		}
		out.Origins = append(out.Origins, origin)
	}
	return out
}

func fromPlaywrightCookies(cookies []playwright.Cookie) []browser.Cookie {
	out := make([]browser.Cookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		out = append(out, cookie)
	}
	return out
}
