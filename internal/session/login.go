package session

import (
	"context"
	"fmt"
	"time"

	"cartcheck/internal/browser"
	"cartcheck/internal/config"
	"cartcheck/internal/locale"
)

// FieldMismatchError means a login field does not hold what was typed into
// it, usually because the page dropped a keystroke.
type FieldMismatchError struct {
	Field    string
	Expected string
	Observed string
	Secret   bool
}

func (e *FieldMismatchError) Error() string {
	if e.Secret {
		return fmt.Sprintf("login field %s holds %d characters, typed %d", e.Field, len([]rune(e.Observed)), len([]rune(e.Expected)))
	}
	return fmt.Sprintf("login field %s holds %q, typed %q", e.Field, e.Observed, e.Expected)
}

// LoginFlow signs an account in through the storefront's login form.
type LoginFlow struct {
	LoginURL   string
	LandingURL string

	Username browser.Query
	Password browser.Query
	Submit   browser.Query

	ActionTimeout   time.Duration
	PageLoadTimeout time.Duration
	// PollInterval spaces the readbacks of a field's value.
	PollInterval time.Duration
}

func NewLoginFlow(cfg *config.Config, labels *locale.Labels) LoginFlow {
	urls := cfg.URLs()
	return LoginFlow{
		LoginURL:        urls.Login,
		LandingURL:      urls.Landing,
		Username:        browser.CSS(cfg.Selectors.LoginUsername),
		Password:        browser.CSS(cfg.Selectors.LoginPassword),
		Submit:          browser.Role("button", labels.Login()),
		ActionTimeout:   cfg.Browser.Action(),
		PageLoadTimeout: cfg.Browser.PageLoad(),
		PollInterval:    100 * time.Millisecond,
	}
}

// Login fills the form on page, submits it and waits until the login
// redirects settle on the landing URL. It returns the resulting storage
// state.
func (f LoginFlow) Login(ctx context.Context, page browser.Page, acct Account) (*browser.StorageState, error) {
	navCtx, cancel := context.WithTimeout(ctx, f.PageLoadTimeout)
	err := page.Navigate(navCtx, f.LoginURL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	if err := f.fill(ctx, page, "username", f.Username, acct.Username, false); err != nil {
		return nil, err
	}
	if err := f.fill(ctx, page, "password", f.Password, acct.Password, true); err != nil {
		return nil, err
	}

	actCtx, cancel := context.WithTimeout(ctx, f.ActionTimeout)
	err = page.Click(actCtx, f.Submit)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to submit login form: %w", err)
	}

	// Cookies may be set across several redirects; only the landing URL
	// means the session is complete.
	waitCtx, cancel := context.WithTimeout(ctx, f.PageLoadTimeout)
	err = page.WaitURL(waitCtx, func(u string) bool { return u == f.LandingURL })
	cancel()
	if err != nil {
		return nil, fmt.Errorf("login did not reach %s: %w", f.LandingURL, err)
	}

	state, err := page.StorageState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture storage state: %w", err)
	}
	return state, nil
}

// fill types value one character at a time and waits, up to the action
// timeout, for the field to hold all of it.
func (f LoginFlow) fill(ctx context.Context, page browser.Page, field string, q browser.Query, value string, secret bool) error {
	ctx, cancel := context.WithTimeout(ctx, f.ActionTimeout)
	defer cancel()

	if err := page.Click(ctx, q); err != nil {
		return fmt.Errorf("failed to focus %s field: %w", field, err)
	}
	for _, r := range value {
		if err := page.Type(ctx, string(r)); err != nil {
			return fmt.Errorf("failed to type into %s field: %w", field, err)
		}
	}

	var got string
	for {
		v, err := page.Value(ctx, q)
		if err == nil {
			if v == value {
				return nil
			}
			got = v
		} else if ctx.Err() == nil {
			return fmt.Errorf("failed to read %s field: %w", field, err)
		}

		select {
		case <-ctx.Done():
			return &FieldMismatchError{Field: field, Expected: value, Observed: got, Secret: secret}
		case <-time.After(f.PollInterval):
		}
	}
}
