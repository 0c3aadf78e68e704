package storefront

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartcheck/internal/api"
	"cartcheck/internal/browser"
	"cartcheck/internal/browser/browsertest"
	"cartcheck/internal/config"
	"cartcheck/internal/locale"
)

func catalog() []browsertest.Product {
	return []browsertest.Product{
		{ID: "11", Name: "Блокнот", Price: 400, Stock: 12},
		{ID: "12", Name: "Ручка", Price: 90, Stock: 5, Discount: true},
		{ID: "13", Name: "Тетрадь", Price: 50, Stock: 9},
	}
}

type fixture struct {
	shop  *browsertest.Shop
	page  *browsertest.Page
	model *Model
}

func newFixture(t *testing.T, shop *browsertest.Shop, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	state, err := shop.SessionState("test", "test")
	require.NoError(t, err)
	p, err := browsertest.NewBrowser(shop).NewPage(ctx, state)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Site.RootURL = shop.Root
	client := api.New(p, cfg.URLs(), cfg.Selectors.HeadMeta)

	opts = append([]Option{
		WithAssertTimeout(50 * time.Millisecond),
		WithPollInterval(5 * time.Millisecond),
	}, opts...)
	m := New(p, cfg, locale.MustLoad("ru_RU"), client, opts...)
	require.NoError(t, m.Open(ctx))

	return &fixture{shop: shop, page: p.(*browsertest.Page), model: m}
}

// loaded returns a fixture whose catalog is discovered and cart reset.
func loaded(t *testing.T, shop *browsertest.Shop, opts ...Option) *fixture {
	t.Helper()
	f := newFixture(t, shop, opts...)
	require.NoError(t, f.model.DiscoverCatalog(context.Background()))
	require.NoError(t, f.model.ResetCart(context.Background()))
	return f
}

func TestDiscoverCatalog(t *testing.T) {
	f := newFixture(t, browsertest.NewShop(catalog()...))
	m := f.model
	assert.Equal(t, Unloaded, m.State())

	require.NoError(t, m.DiscoverCatalog(context.Background()))
	assert.Equal(t, Loaded, m.State())

	products := m.Products()
	require.Len(t, products, 3)
	ids := []string{products[0].ID(), products[1].ID(), products[2].ID()}
	assert.Equal(t, []string{"11", "12", "13"}, ids)

	pen, ok := m.Product("12")
	require.True(t, ok)
	assert.Equal(t, "Ручка", pen.Name())
	assert.Equal(t, 90, pen.UnitPrice())
	assert.Equal(t, 5, pen.Stock())
	assert.True(t, pen.HasDiscount())
	assert.False(t, products[0].HasDiscount())
	assert.Equal(t, `css=body > div > div.container > div > div.note-list.row > div >> css=div.note-item[data-product="12"]`, pen.Query().String())
}

func TestDiscoverCatalogTwice(t *testing.T) {
	f := newFixture(t, browsertest.NewShop(catalog()...))
	require.NoError(t, f.model.DiscoverCatalog(context.Background()))

	var stateErr *StateError
	require.ErrorAs(t, f.model.DiscoverCatalog(context.Background()), &stateErr)
	assert.Equal(t, Loaded, stateErr.State)
}

func TestDiscoverEmptyCatalog(t *testing.T) {
	f := newFixture(t, browsertest.NewShop())

	var emptyErr *EmptyCatalogError
	require.ErrorAs(t, f.model.DiscoverCatalog(context.Background()), &emptyErr)
	assert.Equal(t, "http://shop.test/", emptyErr.URL)
	assert.Equal(t, Unloaded, f.model.State())
}

func TestDiscoverDuplicateIDs(t *testing.T) {
	f := newFixture(t, browsertest.NewShop(
		browsertest.Product{ID: "1", Name: "first", Price: 10, Stock: 1},
		browsertest.Product{ID: "2", Name: "second", Price: 20, Stock: 1},
		browsertest.Product{ID: "1", Name: "again", Price: 30, Stock: 1},
	))
	require.NoError(t, f.model.DiscoverCatalog(context.Background()))

	products := f.model.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "1", products[0].ID())
	assert.Equal(t, "again", products[0].Name())
	assert.Equal(t, 30, products[0].UnitPrice())
	assert.Equal(t, "2", products[1].ID())
}

func TestDiscoverMissingID(t *testing.T) {
	f := newFixture(t, browsertest.NewShop(
		browsertest.Product{ID: "1", Name: "ok", Price: 10, Stock: 1},
		browsertest.Product{ID: "", Name: "broken", Price: 10, Stock: 1},
	))

	var attrErr *MissingAttributeError
	require.ErrorAs(t, f.model.DiscoverCatalog(context.Background()), &attrErr)
	assert.Equal(t, "data-product", attrErr.Attribute)
	assert.Equal(t, 1, attrErr.Index)
}

func TestPurchaseRequiresCatalog(t *testing.T) {
	f := newFixture(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()

	var stateErr *StateError
	_, err := f.model.BuyFirstNormalPriced(ctx)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "BuyFirstNormalPriced", stateErr.Op)
	assert.ErrorAs(t, f.model.BuyDistinctProducts(ctx, 2), &stateErr)
	assert.ErrorAs(t, f.model.AssertCartEmpty(ctx), &stateErr)
	assert.Zero(t, f.shop.BuyClicks())
}

func TestBuyFirstNormalPriced(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()
	m := f.model

	require.NoError(t, m.AssertLoggedIn(ctx))
	require.NoError(t, m.AssertCartEmpty(ctx))

	p, err := m.BuyFirstNormalPriced(ctx)
	require.NoError(t, err)
	assert.Equal(t, "11", p.ID())
	assert.Equal(t, Interacting, m.State())

	require.NoError(t, m.VerifyCart(ctx, VerifyOptions{Panel: true, CartPage: true}))
	assert.Equal(t, Verified, m.State())

	u, err := f.page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://shop.test/basket", u)
}

func TestBuyFirstDiscounted(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()

	p, err := f.model.BuyFirstDiscounted(ctx)
	require.NoError(t, err)
	assert.Equal(t, "12", p.ID())
	require.NoError(t, f.model.VerifyCart(ctx, VerifyOptions{Panel: true}))
}

func TestBuyFirstDiscountedNotFound(t *testing.T) {
	f := loaded(t, browsertest.NewShop(browsertest.Product{ID: "1", Name: "plain", Price: 10, Stock: 3}))

	var notFound *NotFoundError
	_, err := f.model.BuyFirstDiscounted(context.Background())
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "discounted product", notFound.Criterion)
	assert.Zero(t, f.model.Cart().Len())
}

func TestBuyDistinctProductsCycles(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()
	m := f.model

	_, err := m.BuyFirstDiscounted(ctx)
	require.NoError(t, err)
	require.NoError(t, m.AssertCartBadgeCount(ctx, 1))

	require.NoError(t, m.BuyDistinctProducts(ctx, 8))
	require.NoError(t, m.AssertCartBadgeCount(ctx, 9))

	entries := m.Cart().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "12", entries[0].ID)
	sum := 0
	for _, e := range entries {
		sum += e.Count
	}
	assert.Equal(t, 9, sum)
	assert.Equal(t, 4*90+3*400+2*50, m.Cart().TotalPrice())

	require.NoError(t, m.VerifyCart(ctx, VerifyOptions{Panel: true, CartPage: true}))
}

func TestBuySameProduct(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()

	p, err := f.model.BuySameProduct(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "11", p.ID())

	entry, ok := f.model.Cart().Entry("11")
	require.True(t, ok)
	assert.Equal(t, 9, entry.Count)
	assert.Equal(t, 9*400, entry.TotalPrice)
	assert.Equal(t, 1, f.model.Cart().Len())

	require.NoError(t, f.model.VerifyCart(ctx, VerifyOptions{Panel: true, CartPage: true}))
}

func TestBuySameProductInsufficientStock(t *testing.T) {
	f := loaded(t, browsertest.NewShop(
		browsertest.Product{ID: "1", Name: "a", Price: 10, Stock: 9},
		browsertest.Product{ID: "2", Name: "b", Price: 20, Stock: 4},
	))

	_, err := f.model.BuySameProduct(context.Background(), 10)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 10, stockErr.Requested)
	assert.Equal(t, 9, stockErr.MaxStock)
	assert.Zero(t, f.shop.BuyClicks())
	assert.Zero(t, f.model.Cart().Len())
}

func TestPurchaseFailureLeavesCartUntouched(t *testing.T) {
	shop := browsertest.NewShop(catalog()...)
	shop.HiddenBuy = map[string]bool{"11": true}
	f := loaded(t, shop, WithActionTimeout(20*time.Millisecond))

	_, err := f.model.BuyFirstNormalPriced(context.Background())
	require.ErrorIs(t, err, browsertest.ErrNotVisible)
	assert.Zero(t, f.model.Cart().Len())
	assert.Equal(t, Loaded, f.model.State())
}

func TestPanelRowCountMismatch(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()

	// A click the oracle never saw.
	buy := browser.CSS(`div.note-item[data-product="13"]`).Button(regexp.MustCompile("(?i)купить"))
	require.NoError(t, f.page.Click(ctx, buy))

	require.NoError(t, f.model.OpenCartPanel(ctx))
	var assertErr *AssertionError
	require.ErrorAs(t, f.model.AssertCartPanelMatches(ctx), &assertErr)
	assert.Equal(t, "cart panel rows", assertErr.Check)
	assert.Equal(t, "0", assertErr.Expected)
	assert.Equal(t, "1", assertErr.Observed)
}

func TestPanelPriceMismatch(t *testing.T) {
	shop := browsertest.NewShop(catalog()...)
	shop.PanelPriceSkew = 1
	f := loaded(t, shop)
	ctx := context.Background()

	_, err := f.model.BuyFirstNormalPriced(ctx)
	require.NoError(t, err)

	err = f.model.VerifyCart(ctx, VerifyOptions{Panel: true})
	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, "cart panel row 1 price", assertErr.Check)
	assert.Equal(t, `"- 400 р."`, assertErr.Expected)
	assert.Equal(t, `"- 401 р."`, assertErr.Observed)
}

func TestBadgeMismatch(t *testing.T) {
	shop := browsertest.NewShop(catalog()...)
	shop.BadgeSkew = 2
	f := newFixture(t, shop)
	ctx := context.Background()
	require.NoError(t, f.model.DiscoverCatalog(ctx))

	var assertErr *AssertionError
	require.ErrorAs(t, f.model.AssertCartEmpty(ctx), &assertErr)
	assert.Equal(t, "cart badge count", assertErr.Check)
	assert.Equal(t, "2", assertErr.Observed)
}

func TestPanelOrder(t *testing.T) {
	buyTwo := func(t *testing.T, f *fixture) {
		ctx := context.Background()
		_, err := f.model.BuyFirstNormalPriced(ctx)
		require.NoError(t, err)
		_, err = f.model.BuyFirstDiscounted(ctx)
		require.NoError(t, err)
	}

	t.Run("insertion rejects reordered rows", func(t *testing.T) {
		shop := browsertest.NewShop(catalog()...)
		shop.ReversePanel = true
		f := loaded(t, shop)
		buyTwo(t, f)

		var assertErr *AssertionError
		require.ErrorAs(t, f.model.VerifyCart(context.Background(), VerifyOptions{Panel: true}), &assertErr)
		assert.Equal(t, "cart panel row 1 name", assertErr.Check)
	})

	t.Run("any accepts reordered rows", func(t *testing.T) {
		shop := browsertest.NewShop(catalog()...)
		shop.ReversePanel = true
		f := loaded(t, shop, WithPanelOrder(config.PanelOrderAny))
		buyTwo(t, f)

		require.NoError(t, f.model.VerifyCart(context.Background(), VerifyOptions{Panel: true}))
	})

	t.Run("any reports a diff", func(t *testing.T) {
		shop := browsertest.NewShop(catalog()...)
		shop.ReversePanel = true
		shop.PanelPriceSkew = 5
		f := loaded(t, shop, WithPanelOrder(config.PanelOrderAny))
		buyTwo(t, f)

		var assertErr *AssertionError
		require.ErrorAs(t, f.model.VerifyCart(context.Background(), VerifyOptions{Panel: true}), &assertErr)
		assert.Equal(t, "cart panel rows", assertErr.Check)
		assert.Contains(t, assertErr.Diff, "- 405 р.")
	})
}

func TestResetCart(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()
	m := f.model

	require.NoError(t, m.BuyDistinctProducts(ctx, 4))
	require.NoError(t, m.AssertCartBadgeCount(ctx, 4))

	require.NoError(t, m.ResetCart(ctx))
	assert.Zero(t, m.Cart().Len())
	assert.Equal(t, Loaded, m.State())
	assert.Equal(t, 2, f.shop.Clears())
	require.NoError(t, m.AssertCartEmpty(ctx))
	require.NoError(t, m.VerifyCart(ctx, VerifyOptions{Panel: true}))
}

func TestResetCartRejected(t *testing.T) {
	shop := browsertest.NewShop(catalog()...)
	f := newFixture(t, shop)
	shop.ClearStatus = http.StatusInternalServerError

	var clearErr *ClearCartError
	require.ErrorAs(t, f.model.ResetCart(context.Background()), &clearErr)
	assert.Equal(t, http.StatusInternalServerError, clearErr.Status)
	assert.Contains(t, clearErr.Error(), "500")
}

func TestResetCartWithoutCSRFToken(t *testing.T) {
	shop := browsertest.NewShop(catalog()...)
	shop.OmitCSRF = true
	f := newFixture(t, shop)

	var csrfErr *api.MissingCsrfTokenError
	require.ErrorAs(t, f.model.ResetCart(context.Background()), &csrfErr)
	assert.Zero(t, shop.Clears())
}

func TestClickResetCartButton(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()
	m := f.model

	_, err := m.BuySameProduct(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, m.OpenCartPanel(ctx))
	require.NoError(t, m.ClickResetCartButton(ctx))

	assert.Zero(t, m.Cart().Len())
	assert.Zero(t, f.shop.CartSize(f.page.Token()))
	require.NoError(t, m.AssertCartEmpty(ctx))
}

func TestAssertOnCartPageServerError(t *testing.T) {
	shop := browsertest.NewShop(catalog()...)
	shop.ServerError = true
	f := loaded(t, shop)
	ctx := context.Background()

	err := f.model.VerifyCart(ctx, VerifyOptions{CartPage: true})
	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, "server error banner", assertErr.Check)
}

func TestAssertOnCartPageWrongURL(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))

	var assertErr *AssertionError
	require.ErrorAs(t, f.model.AssertOnCartPage(context.Background()), &assertErr)
	assert.Equal(t, "cart page URL", assertErr.Check)
	assert.Equal(t, "http://shop.test/", assertErr.Observed)
}

func TestCartTotalTracksEveryPurchase(t *testing.T) {
	f := loaded(t, browsertest.NewShop(catalog()...))
	ctx := context.Background()

	want := 0
	for _, id := range []string{"13", "11", "13", "12", "13", "11"} {
		p, ok := f.model.Product(id)
		require.True(t, ok)
		require.NoError(t, p.Purchase(ctx))
		want += p.UnitPrice()
	}
	assert.Equal(t, want, f.model.Cart().TotalPrice())
	assert.Equal(t, 6, f.model.Cart().Count())
	require.NoError(t, f.model.VerifyCart(ctx, VerifyOptions{Panel: true}))
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&NotFoundError{Criterion: "discounted product"}, "no product found: discounted product"},
		{&InsufficientStockError{Requested: 10, MaxStock: 9}, "no product with stock >= 10 (largest stock is 9)"},
		{&StateError{Op: "BuySameProduct", State: Unloaded}, "BuySameProduct not allowed in state unloaded"},
		{&ClearCartError{Status: 403}, "cart clear request failed with status 403"},
		{&AssertionError{Check: "cart badge count", Expected: "1", Observed: "0"}, "cart badge count: expected 1, observed 0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestClearCartErrorTruncatesOnRuneBoundary(t *testing.T) {
	// byte 200 falls inside the "и" of the sixteenth word
	body := strings.Repeat("ошибка ", 60)
	msg := (&ClearCartError{Status: 500, Body: body}).Error()

	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "..."))
	got := strings.TrimPrefix(strings.TrimSuffix(msg, "..."), "cart clear request failed with status 500: ")
	assert.Equal(t, maxBodyRunes, utf8.RuneCountInString(got))
	assert.True(t, strings.HasPrefix(body, got))
}
