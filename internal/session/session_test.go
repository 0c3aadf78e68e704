package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cartcheck/internal/browser"
	"cartcheck/internal/browser/browsertest"
	"cartcheck/internal/config"
	"cartcheck/internal/locale"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), ".auth"))

	_, ok, err := store.Load(0)
	require.NoError(t, err)
	assert.False(t, ok)

	state := &browser.StorageState{
		Cookies: []browser.Cookie{{Name: "PHPSESSID", Value: "abc", Domain: "shop.test", Path: "/", Expires: -1, HTTPOnly: true}},
		Origins: []browser.OriginState{{
			Origin:       "http://shop.test",
			LocalStorage: []browser.NameValue{{Name: "theme", Value: "dark"}},
		}},
	}
	require.NoError(t, store.Save(3, state))
	assert.FileExists(t, filepath.Join(store.Dir(), "3.json"))

	got, ok, err := store.Load(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, got)

	data, err := os.ReadFile(store.Path(3))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"httpOnly": true`)
	assert.Contains(t, string(data), `"localStorage"`)
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, os.WriteFile(store.Path(1), []byte("{not json"), 0o600))

	_, _, err := store.Load(1)
	assert.Error(t, err)
}

func TestStoreWorkersAndClear(t *testing.T) {
	store := NewStore(t.TempDir())

	ids, err := store.Workers()
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []int{2, 0, 1} {
		require.NoError(t, store.Save(id, &browser.StorageState{}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), nil, 0o600))

	ids, err = store.Workers()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, ids)

	require.NoError(t, store.Remove(1))
	require.NoError(t, store.Remove(1))

	n, err := store.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ids, err = store.Workers()
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.FileExists(t, filepath.Join(store.Dir(), "notes.txt"))
}

func TestStoreMissingDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent"))
	n, err := store.Clear()
	require.NoError(t, err)
	assert.Zero(t, n)
}

type harness struct {
	shop    *browsertest.Shop
	browser *browsertest.Browser
	store   *Store
	broker  *Broker
}

func newHarness(t *testing.T, accounts AccountFunc) *harness {
	t.Helper()
	shop := browsertest.NewShop(browsertest.Product{ID: "1", Name: "Pen", Price: 10, Stock: 1})
	br := browsertest.NewBrowser(shop)

	cfg := config.DefaultConfig()
	cfg.Site.RootURL = shop.Root
	cfg.Browser.PageLoadTimeout = 1
	store := NewStore(filepath.Join(t.TempDir(), ".auth"))
	if accounts == nil {
		accounts = StaticAccount("test", "test")
	}
	flow := NewLoginFlow(cfg, locale.MustLoad("ru_RU"))
	flow.ActionTimeout = 200 * time.Millisecond
	flow.PollInterval = 5 * time.Millisecond

	return &harness{
		shop:    shop,
		browser: br,
		store:   store,
		broker:  NewBroker(br, store, accounts, flow, WithLogger(zaptest.NewLogger(t))),
	}
}

func TestAcquireLogsInOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.broker.Acquire(ctx, 0)
	require.NoError(t, err)
	assert.True(t, first.Fresh)
	assert.Equal(t, h.store.Path(0), first.Path)
	assert.FileExists(t, first.Path)
	assert.Equal(t, 1, h.shop.Logins())

	second, err := h.broker.Acquire(ctx, 0)
	require.NoError(t, err)
	assert.False(t, second.Fresh)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, 1, h.shop.Logins())

	page, err := h.browser.NewPage(ctx, second.State)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, h.shop.Root+"/"))
	n, err := page.Count(ctx, browser.CSS("#dropdownUser"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAcquireConcurrentSameWorker(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.broker.Acquire(context.Background(), 5)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.shop.Logins())
}

func TestAcquireDistinctWorkers(t *testing.T) {
	var mu sync.Mutex
	var asked []int
	h := newHarness(t, func(workerID int) (Account, error) {
		mu.Lock()
		asked = append(asked, workerID)
		mu.Unlock()
		return Account{Username: "test", Password: "test"}, nil
	})
	ctx := context.Background()

	a, err := h.broker.Acquire(ctx, 0)
	require.NoError(t, err)
	b, err := h.broker.Acquire(ctx, 1)
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.NotEqual(t, a.State.Cookies[0].Value, b.State.Cookies[0].Value)
	assert.Equal(t, []int{0, 1}, asked)
	assert.Equal(t, 2, h.shop.Logins())
}

func TestAcquireFollowsLoginRedirects(t *testing.T) {
	h := newHarness(t, nil)
	h.shop.LoginRedirects = 3

	s, err := h.broker.Acquire(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, s.Fresh)
}

func TestAcquireDroppedKeystroke(t *testing.T) {
	h := newHarness(t, StaticAccount("test", "secret-password"))
	h.shop.SetAccount("test", "secret-password")
	h.shop.DropKeystroke = 7

	_, err := h.broker.Acquire(context.Background(), 0)
	var mismatch *FieldMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "password", mismatch.Field)
	assert.NotContains(t, err.Error(), "secret")

	_, ok, err := h.store.Load(0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcquireWaitsForSlowInput(t *testing.T) {
	h := newHarness(t, nil)
	h.shop.InputLag = 3

	s, err := h.broker.Acquire(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, s.Fresh)
	assert.Equal(t, 1, h.shop.Logins())
}

func TestAcquireWrongPassword(t *testing.T) {
	h := newHarness(t, StaticAccount("test", "wrong"))

	_, err := h.broker.Acquire(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoFileExists(t, h.store.Path(0))
}

func TestAcquireWithoutCredentials(t *testing.T) {
	h := newHarness(t, StaticAccount("", ""))

	_, err := h.broker.Acquire(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials are not set")
	assert.Zero(t, h.browser.Opened())
}

func TestAcquireAccountError(t *testing.T) {
	boom := errors.New("pool exhausted")
	h := newHarness(t, func(int) (Account, error) { return Account{}, boom })

	_, err := h.broker.Acquire(context.Background(), 2)
	assert.ErrorIs(t, err, boom)
}

func TestFieldMismatchError(t *testing.T) {
	err := &FieldMismatchError{Field: "username", Expected: "test", Observed: "tst"}
	assert.Equal(t, `login field username holds "tst", typed "test"`, err.Error())

	err = &FieldMismatchError{Field: "password", Expected: "hunter2", Observed: "huner2", Secret: true}
	assert.Equal(t, "login field password holds 6 characters, typed 7", err.Error())
}
