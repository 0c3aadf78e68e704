package pwbrowser

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartcheck/internal/browser"
)

func TestTimeout(t *testing.T) {
	assert.Nil(t, timeout(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ms := timeout(ctx)
	require.NotNil(t, ms)
	assert.InDelta(t, 2000, *ms, 100)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.Equal(t, 1.0, *timeout(expired))
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, fail(ctx, nil))

	other := errors.New("target closed")
	assert.Same(t, other, fail(ctx, other))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := fail(cancelled, other)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, other)
}

func TestHeaderMap(t *testing.T) {
	h := http.Header{}
	h.Set("Cookie", "a=1; b=2")
	h.Set("X-CSRF-Token", "tok")
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")

	assert.Equal(t, map[string]string{
		"Cookie":       "a=1; b=2",
		"X-Csrf-Token": "tok",
		"Accept":       "text/html, application/json",
	}, headerMap(h))
}

func TestStorageStateConversion(t *testing.T) {
	state := &browser.StorageState{
		Cookies: []browser.Cookie{
			{Name: "PHPSESSID", Value: "abc", Domain: "shop.test", Path: "/", Expires: -1, HTTPOnly: true},
			{Name: "_csrf", Value: "x", Domain: "shop.test", Path: "/", Expires: 1.7e9, Secure: true, SameSite: "Lax"},
		},
		Origins: []browser.OriginState{{
			Origin:       "https://shop.test",
			LocalStorage: []browser.NameValue{{Name: "theme", Value: "dark"}},
		}},
	}

	pw := toPlaywrightState(state)
	require.Len(t, pw.Cookies, 2)
	assert.Equal(t, "PHPSESSID", pw.Cookies[0].Name)
	assert.Equal(t, "shop.test", *pw.Cookies[0].Domain)
	assert.True(t, *pw.Cookies[0].HttpOnly)
	assert.Nil(t, pw.Cookies[0].SameSite)
	require.NotNil(t, pw.Cookies[1].SameSite)
	assert.Equal(t, playwright.SameSiteAttribute("Lax"), *pw.Cookies[1].SameSite)
	require.Len(t, pw.Origins, 1)
	assert.Equal(t, "dark", pw.Origins[0].LocalStorage[0].Value)

	lax := playwright.SameSiteAttribute("Lax")
	back := fromPlaywrightCookies([]playwright.Cookie{
		{Name: "PHPSESSID", Value: "abc", Domain: "shop.test", Path: "/", Expires: -1, HttpOnly: true},
		{Name: "_csrf", Value: "x", Domain: "shop.test", Path: "/", Expires: 1.7e9, Secure: true, SameSite: &lax},
	})
	assert.Equal(t, state.Cookies, back)
}
