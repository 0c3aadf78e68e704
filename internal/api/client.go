// Package api calls storefront endpoints directly, bypassing the UI, with the
// session and anti-forgery token of the page the harness is driving.
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"cartcheck/internal/browser"
	"cartcheck/internal/config"
)

const (
	csrfMetaName   = "csrf-token"
	csrfHeaderName = "X-CSRF-Token"
)

// MissingCsrfTokenError means the page carries no csrf-token meta tag, so no
// state-changing request can be made on its behalf.
type MissingCsrfTokenError struct {
	URL string
}

func (e *MissingCsrfTokenError) Error() string {
	return fmt.Sprintf("no csrf-token meta tag found on page %s", e.URL)
}

type Client struct {
	page   browser.Page
	urls   config.URLs
	meta   browser.Query
	logger *zap.Logger
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New returns a client acting for page. metaSelector locates the document's
// head meta tags.
func New(page browser.Page, urls config.URLs, metaSelector string, opts ...Option) *Client {
	c := &Client{
		page:   page,
		urls:   urls,
		meta:   browser.CSS(metaSelector),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CookieHeader joins the cookies the browser holds for the site root.
func (c *Client) CookieHeader(ctx context.Context) (string, error) {
	cookies, err := c.page.Cookies(ctx, c.urls.Root)
	if err != nil {
		return "", fmt.Errorf("failed to get cookies: %w", err)
	}
	return browser.CookieHeader(cookies), nil
}

// CSRFToken returns the content of the page's csrf-token meta tag.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	n, err := c.page.Count(ctx, c.meta)
	if err != nil {
		return "", fmt.Errorf("failed to list meta tags: %w", err)
	}

	token := ""
	for i := 0; i < n; i++ {
		tag := c.meta.Nth(i)
		name, ok, err := c.page.Attribute(ctx, tag, "name")
		if err != nil {
			return "", fmt.Errorf("failed to read meta tag name: %w", err)
		}
		if !ok || name != csrfMetaName {
			continue
		}
		content, ok, err := c.page.Attribute(ctx, tag, "content")
		if err != nil {
			return "", fmt.Errorf("failed to read csrf-token content: %w", err)
		}
		if ok {
			token = content
		}
	}

	if token == "" {
		url, _ := c.page.URL(ctx)
		return "", &MissingCsrfTokenError{URL: url}
	}
	return token, nil
}

// Headers builds the headers every state-changing request needs.
func (c *Client) Headers(ctx context.Context) (http.Header, error) {
	cookie, err := c.CookieHeader(ctx)
	if err != nil {
		return nil, err
	}
	token, err := c.CSRFToken(ctx)
	if err != nil {
		return nil, err
	}

	h := make(http.Header)
	h.Set("Cookie", cookie)
	h.Set(csrfHeaderName, token)
	return h, nil
}

// ClearCart empties the server-side cart. It does not retry and does not
// judge the status; callers check Response.OK.
func (c *Client) ClearCart(ctx context.Context) (*browser.Response, error) {
	h, err := c.Headers(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.page.Post(ctx, c.urls.BasketClear, h)
	if err != nil {
		return nil, fmt.Errorf("clear cart request failed: %w", err)
	}

	c.logger.Debug("cart cleared via API",
		zap.String("url", c.urls.BasketClear),
		zap.Int("status", resp.Status))
	return resp, nil
}
