package browsertest

import (
	"context"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartcheck/internal/browser"
)

func TestSelectorMatching(t *testing.T) {
	item := el("div", map[string]string{"class": "note-item hasDiscount", "data-product": "7"})
	col := el("div", map[string]string{"class": "col"}, item)
	row := el("div", map[string]string{"class": "note-list row"}, col)
	el("#document", nil, el("body", nil, el("div", map[string]string{"id": "main"}, row)))

	tests := []struct {
		selector string
		want     bool
	}{
		{"div.note-item", true},
		{"div.note-item.hasDiscount", true},
		{"div.note-item:not(.hasDiscount)", false},
		{"[data-product]", true},
		{`[data-product="7"]`, true},
		{`[data-product='8']`, false},
		{"#main div.note-item", true},
		{"#main > div.note-item", false},
		{"div.note-list.row > div > div.note-item", true},
		{"body > div > div.note-list.row > div > .note-item", true},
		{"span, div.note-item", true},
		{"span", false},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			g, err := parseSelector(tt.selector)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.match(item))
		})
	}
}

func TestSelectorErrors(t *testing.T) {
	for _, s := range []string{"", "a,,b", "div[data", "a:hover", "div:not(.x"} {
		_, err := parseSelector(s)
		assert.Error(t, err, s)
	}
}

func TestResolveSteps(t *testing.T) {
	doc := el("#document", nil,
		el("ul", nil,
			el("li", nil, button("Buy", nil), text("span", "name", "first")),
			el("li", nil, button("Delete", nil), text("span", "name", "second")),
		))

	nodes, err := resolve(doc, browser.CSS("li"))
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	nodes, err = resolve(doc, browser.CSS("li").Nth(1).CSS("span.name"))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "second", nodes[0].InnerText())

	nodes, err = resolve(doc, browser.CSS("li").Button(regexp.MustCompile(`(?i)^buy$`)))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Buy", nodes[0].Text)

	nodes, err = resolve(doc, browser.Text("second"))
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	nodes, err = resolve(doc, browser.CSS("li").Nth(5))
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func testShop() *Shop {
	return NewShop(
		Product{ID: "1", Name: "Notebook", Price: 100, Stock: 5},
		Product{ID: "2", Name: "Pen", Price: 30, Stock: 12, Discount: true},
	)
}

func login(t *testing.T, ctx context.Context, p browser.Page, user, pass string) {
	t.Helper()
	require.NoError(t, p.Navigate(ctx, "http://shop.test/login"))
	require.NoError(t, p.Click(ctx, browser.CSS("#loginform-username")))
	require.NoError(t, p.Type(ctx, user))
	require.NoError(t, p.Click(ctx, browser.CSS("#loginform-password")))
	require.NoError(t, p.Type(ctx, pass))
	require.NoError(t, p.Click(ctx, browser.Role("button", regexp.MustCompile("Вход"))))
}

func TestLoginFollowsRedirects(t *testing.T) {
	ctx := context.Background()
	shop := testShop()
	shop.LoginRedirects = 2
	b := NewBrowser(shop)

	p, err := b.NewPage(ctx, nil)
	require.NoError(t, err)
	login(t, ctx, p, "test", "test")

	u, err := p.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://shop.test/auth/hop/1", u)

	require.NoError(t, p.WaitURL(ctx, func(u string) bool { return u == "http://shop.test/" }))
	assert.Equal(t, 1, shop.Logins())

	n, err := p.Count(ctx, browser.CSS("#dropdownUser"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	shop := testShop()
	p, err := NewBrowser(shop).NewPage(ctx, nil)
	require.NoError(t, err)

	login(t, ctx, p, "test", "nope")
	err = p.WaitURL(ctx, func(u string) bool { return u == "http://shop.test/" })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, shop.Logins())
}

func TestUnauthenticatedRedirectsToLogin(t *testing.T) {
	ctx := context.Background()
	p, err := NewBrowser(testShop()).NewPage(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, p.Navigate(ctx, "http://shop.test/"))
	u, err := p.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://shop.test/login", u)
}

func TestDroppedKeystroke(t *testing.T) {
	ctx := context.Background()
	shop := testShop()
	shop.DropKeystroke = 3
	p, err := NewBrowser(shop).NewPage(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, p.Navigate(ctx, "http://shop.test/login"))
	require.NoError(t, p.Click(ctx, browser.CSS("#loginform-username")))
	require.NoError(t, p.Type(ctx, "abcdef"))
	v, err := p.Value(ctx, browser.CSS("#loginform-username"))
	require.NoError(t, err)
	assert.Equal(t, "abde", v)
}

func TestStorageStateRestoresSession(t *testing.T) {
	ctx := context.Background()
	shop := testShop()
	b := NewBrowser(shop)

	first, err := b.NewPage(ctx, nil)
	require.NoError(t, err)
	login(t, ctx, first, "test", "test")
	state, err := first.StorageState(ctx)
	require.NoError(t, err)
	require.Len(t, state.Cookies, 1)
	assert.Equal(t, "PHPSESSID", state.Cookies[0].Name)
	assert.Equal(t, "shop.test", state.Cookies[0].Domain)

	second, err := b.NewPage(ctx, state)
	require.NoError(t, err)
	require.NoError(t, second.Navigate(ctx, "http://shop.test/"))
	u, _ := second.URL(ctx)
	assert.Equal(t, "http://shop.test/", u)
	assert.Equal(t, 2, b.Opened())
	assert.Equal(t, 1, shop.Logins())
}

func TestBuyUpdatesBadgeAndPanel(t *testing.T) {
	ctx := context.Background()
	shop := testShop()
	p, err := NewBrowser(shop).NewPage(ctx, nil)
	require.NoError(t, err)
	login(t, ctx, p, "test", "test")

	buy := browser.CSS(`div.note-item[data-product="2"]`).Button(regexp.MustCompile("(?i)купить"))
	require.NoError(t, p.Click(ctx, buy))
	require.NoError(t, p.Click(ctx, buy))

	badge, err := p.Text(ctx, browser.CSS("#basketContainer > span.basket-count-items"))
	require.NoError(t, err)
	assert.Equal(t, "2", badge)

	panel := browser.CSS("#basketContainer > div.dropdown-menu.dropdown-menu-right")
	assert.ErrorIs(t, p.WaitVisible(ctx, panel), ErrNotVisible)
	require.NoError(t, p.Click(ctx, browser.CSS("#dropdownBasket")))
	require.NoError(t, p.WaitVisible(ctx, panel))

	price, err := p.Text(ctx, panel.CSS("li.basket-item").Nth(0).CSS("span.basket-item-price"))
	require.NoError(t, err)
	assert.Equal(t, "- 60 р.", price)
	total, err := p.Text(ctx, panel.CSS("span.basket_price"))
	require.NoError(t, err)
	assert.Equal(t, "60", total)
	assert.Equal(t, 2, shop.CartSize(p.(*Page).Token()))
}

func TestHiddenBuyButton(t *testing.T) {
	ctx := context.Background()
	shop := testShop()
	shop.HiddenBuy = map[string]bool{"1": true}
	p, err := NewBrowser(shop).NewPage(ctx, nil)
	require.NoError(t, err)
	login(t, ctx, p, "test", "test")

	buy := browser.CSS(`div.note-item[data-product="1"]`).Button(regexp.MustCompile("(?i)купить"))
	assert.ErrorIs(t, p.Click(ctx, buy), ErrNotVisible)
	assert.Zero(t, shop.BuyClicks())
}

func TestClearViaAPI(t *testing.T) {
	ctx := context.Background()
	shop := testShop()
	p, err := NewBrowser(shop).NewPage(ctx, nil)
	require.NoError(t, err)
	login(t, ctx, p, "test", "test")
	page := p.(*Page)

	require.NoError(t, p.Click(ctx, browser.CSS(`div.note-item[data-product="1"]`).Button(regexp.MustCompile("(?i)купить"))))
	require.Equal(t, 1, shop.CartSize(page.Token()))

	resp, err := p.Post(ctx, "http://shop.test/basket/clear", http.Header{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	sess, _ := shop.session(page.Token())
	h := http.Header{}
	h.Set("Cookie", "PHPSESSID="+page.Token())
	h.Set("X-CSRF-Token", "wrong")
	resp, err = p.Post(ctx, "http://shop.test/basket/clear", h)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	h.Set("X-CSRF-Token", sess.csrf)
	resp, err = p.Post(ctx, "http://shop.test/basket/clear", h)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Zero(t, shop.CartSize(page.Token()))
	assert.Equal(t, 1, shop.Clears())

	resp, err = p.Post(ctx, "http://shop.test/nowhere", h)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestClosedPage(t *testing.T) {
	ctx := context.Background()
	p, err := NewBrowser(testShop()).NewPage(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.Error(t, p.Navigate(ctx, "http://shop.test/login"))
}
