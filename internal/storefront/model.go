// Package storefront models the storefront page a cart scenario drives: it
// discovers the catalog, performs purchases that feed the cart oracle, resets
// the cart between scenarios and checks the rendered cart against the oracle.
package storefront

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"cartcheck/internal/browser"
	"cartcheck/internal/cart"
	"cartcheck/internal/config"
	"cartcheck/internal/locale"
	"cartcheck/internal/textparse"
)

// State is the scenario lifecycle of a Model.
type State int

const (
	Unloaded State = iota
	Loaded
	Interacting
	Verified
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case Interacting:
		return "interacting"
	case Verified:
		return "verified"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CartClearer empties the server-side cart without going through the UI.
// *api.Client implements it.
type CartClearer interface {
	ClearCart(ctx context.Context) (*browser.Response, error)
}

// Model is one scenario's view of the storefront. It is driven by a single
// goroutine.
type Model struct {
	page    browser.Page
	regions regions
	urls    config.URLs
	clearer CartClearer
	logger  *zap.Logger

	panelOrder      string
	pageLoadTimeout time.Duration
	actionTimeout   time.Duration
	assertTimeout   time.Duration
	pollInterval    time.Duration

	state    State
	cart     *cart.Cart
	products map[string]*Product
	order    []string
}

type Option func(*Model)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Model) { m.logger = logger }
}

// WithAssertTimeout overrides how long text assertions wait for the expected
// value.
func WithAssertTimeout(d time.Duration) Option {
	return func(m *Model) { m.assertTimeout = d }
}

func WithActionTimeout(d time.Duration) Option {
	return func(m *Model) { m.actionTimeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Model) { m.pollInterval = d }
}

// WithPanelOrder sets how cart panel rows are matched against the cart:
// config.PanelOrderInsertion or config.PanelOrderAny.
func WithPanelOrder(order string) Option {
	return func(m *Model) { m.panelOrder = order }
}

// New returns an Unloaded model for page with an empty cart.
func New(page browser.Page, cfg *config.Config, labels *locale.Labels, clearer CartClearer, opts ...Option) *Model {
	m := &Model{
		page:            page,
		regions:         regions{sel: cfg.Selectors, labels: labels},
		urls:            cfg.URLs(),
		clearer:         clearer,
		logger:          zap.NewNop(),
		panelOrder:      cfg.PanelOrder,
		pageLoadTimeout: cfg.Browser.PageLoad(),
		actionTimeout:   cfg.Browser.Action(),
		assertTimeout:   cfg.Browser.Assert(),
		pollInterval:    100 * time.Millisecond,
		cart:            cart.New(),
		products:        make(map[string]*Product),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) State() State { return m.state }
func (m *Model) Cart() *cart.Cart { return m.cart }

// Products lists the discovered products in discovery order.
func (m *Model) Products() []*Product {
	out := make([]*Product, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.products[id])
	}
	return out
}

func (m *Model) Product(id string) (*Product, bool) {
	p, ok := m.products[id]
	return p, ok
}

func (m *Model) allow(op string, states ...State) error {
	for _, s := range states {
		if m.state == s {
			return nil
		}
	}
	return &StateError{Op: op, State: m.state}
}

// Open navigates to the landing page.
func (m *Model) Open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.pageLoadTimeout)
	defer cancel()
	if err := m.page.Navigate(ctx, m.urls.Landing); err != nil {
		return fmt.Errorf("failed to open %s: %w", m.urls.Landing, err)
	}
	return nil
}

// DiscoverCatalog reads every catalog item into a Product. Items sharing an
// id collapse into one product holding the last item's data, at the position
// the id was first seen.
func (m *Model) DiscoverCatalog(ctx context.Context) error {
	if err := m.allow("DiscoverCatalog", Unloaded); err != nil {
		return err
	}

	var n int
	err := m.expect(ctx, func(ctx context.Context) error {
		var err error
		n, err = m.page.Count(ctx, m.regions.catalogItems())
		if err != nil {
			return err
		}
		if n == 0 {
			u, _ := m.page.URL(ctx)
			return &EmptyCatalogError{URL: u}
		}
		return nil
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.actionTimeout)
	defer cancel()

	for i := 0; i < n; i++ {
		p, err := m.readProduct(ctx, i)
		if err != nil {
			return err
		}
		if _, seen := m.products[p.id]; !seen {
			m.order = append(m.order, p.id)
		} else {
			m.logger.Warn("duplicate product id in catalog", zap.String("product", p.id), zap.Int("index", i))
		}
		m.products[p.id] = p
	}

	m.state = Loaded
	m.logger.Info("catalog discovered",
		zap.Int("items", n),
		zap.Int("products", len(m.order)))
	return nil
}

func (m *Model) readProduct(ctx context.Context, i int) (*Product, error) {
	item := m.regions.catalogItem(i)
	sel := m.regions.sel

	name, err := m.page.Text(ctx, m.regions.productName(item))
	if err != nil {
		return nil, fmt.Errorf("failed to read name of catalog item %d: %w", i, err)
	}

	priceText, err := m.page.Text(ctx, m.regions.productPrice(item))
	if err != nil {
		return nil, fmt.Errorf("failed to read price of catalog item %d: %w", i, err)
	}
	price, err := textparse.ParsePrice(priceText)
	if err != nil {
		return nil, fmt.Errorf("catalog item %d: %w", i, err)
	}

	class, _, err := m.page.Attribute(ctx, item, "class")
	if err != nil {
		return nil, fmt.Errorf("failed to read class of catalog item %d: %w", i, err)
	}

	stockText, err := m.page.Text(ctx, m.regions.productStock(item))
	if err != nil {
		return nil, fmt.Errorf("failed to read stock of catalog item %d: %w", i, err)
	}
	stock, err := textparse.ParseCount(stockText)
	if err != nil {
		return nil, fmt.Errorf("catalog item %d: %w", i, err)
	}

	id, ok, err := m.page.Attribute(ctx, item, sel.ProductIDAttr)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s of catalog item %d: %w", sel.ProductIDAttr, i, err)
	}
	if !ok || id == "" {
		return nil, &MissingAttributeError{Attribute: sel.ProductIDAttr, Index: i}
	}

	p := &Product{
		id:        id,
		name:      strings.TrimSpace(name),
		unitPrice: price,
		stock:     stock,
		discount:  strings.Contains(class, sel.DiscountClass),
		item:      m.regions.product(id),
		model:     m,
	}
	m.logger.Debug("product discovered",
		zap.String("product", p.id),
		zap.String("name", p.name),
		zap.Int("price", p.unitPrice),
		zap.Int("stock", p.stock),
		zap.Bool("discount", p.discount))
	return p, nil
}

// BuyFirstNormalPriced purchases the first product without a discount.
func (m *Model) BuyFirstNormalPriced(ctx context.Context) (*Product, error) {
	return m.buyFirst(ctx, "BuyFirstNormalPriced", "normal-priced product", func(p *Product) bool { return !p.discount })
}

// BuyFirstDiscounted purchases the first discounted product.
func (m *Model) BuyFirstDiscounted(ctx context.Context) (*Product, error) {
	return m.buyFirst(ctx, "BuyFirstDiscounted", "discounted product", func(p *Product) bool { return p.discount })
}

func (m *Model) buyFirst(ctx context.Context, op, criterion string, match func(*Product) bool) (*Product, error) {
	if err := m.allow(op, Loaded, Interacting, Verified); err != nil {
		return nil, err
	}
	for _, p := range m.Products() {
		if match(p) {
			return p, p.Purchase(ctx)
		}
	}
	return nil, &NotFoundError{Criterion: criterion}
}

// BuyDistinctProducts purchases n units, cycling through the catalog in
// discovery order so n may exceed the number of products.
func (m *Model) BuyDistinctProducts(ctx context.Context, n int) error {
	if err := m.allow("BuyDistinctProducts", Loaded, Interacting, Verified); err != nil {
		return err
	}
	products := m.Products()
	if len(products) == 0 {
		return &NotFoundError{Criterion: "any product"}
	}
	for i := 0; i < n; i++ {
		if err := products[i%len(products)].Purchase(ctx); err != nil {
			return err
		}
	}
	return nil
}

// BuySameProduct purchases n units of the first product whose stock covers
// n. Nothing is clicked when no product qualifies.
func (m *Model) BuySameProduct(ctx context.Context, n int) (*Product, error) {
	if err := m.allow("BuySameProduct", Loaded, Interacting, Verified); err != nil {
		return nil, err
	}

	var chosen *Product
	maxStock := 0
	for _, p := range m.Products() {
		if p.stock > maxStock {
			maxStock = p.stock
		}
		if chosen == nil && p.stock >= n {
			chosen = p
		}
	}
	if chosen == nil {
		return nil, &InsufficientStockError{Requested: n, MaxStock: maxStock}
	}

	for i := 0; i < n; i++ {
		if err := chosen.Purchase(ctx); err != nil {
			return chosen, err
		}
	}
	return chosen, nil
}

// ResetCart empties the oracle, clears the server cart through the API and
// reloads the page. A rejected clear request is returned as *ClearCartError.
func (m *Model) ResetCart(ctx context.Context) error {
	m.cart.Reset()

	resp, err := m.clearer.ClearCart(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset cart: %w", err)
	}
	if !resp.OK() {
		return &ClearCartError{Status: resp.Status, Body: string(resp.Body)}
	}

	reloadCtx, cancel := context.WithTimeout(ctx, m.pageLoadTimeout)
	defer cancel()
	if err := m.page.Reload(reloadCtx); err != nil {
		return fmt.Errorf("failed to reload after cart reset: %w", err)
	}

	if len(m.order) > 0 {
		m.state = Loaded
	}
	m.logger.Debug("cart reset", zap.Int("status", resp.Status))
	return nil
}

// OpenCartPanel clicks the cart toggle in the navigation bar.
func (m *Model) OpenCartPanel(ctx context.Context) error {
	return m.clickVisible(ctx, m.regions.cartToggle(), "cart toggle")
}

// GoToCartPage clicks the panel's go-to-cart button. The panel must be open.
func (m *Model) GoToCartPage(ctx context.Context) error {
	return m.clickVisible(ctx, m.regions.goToCartButton(), "go to cart button")
}

// ClickResetCartButton empties the cart through the panel's clear button and
// empties the oracle with it. The panel must be open.
func (m *Model) ClickResetCartButton(ctx context.Context) error {
	if err := m.clickVisible(ctx, m.regions.clearCartButton(), "clear cart button"); err != nil {
		return err
	}
	m.cart.Reset()
	if len(m.order) > 0 {
		m.state = Loaded
	}
	return nil
}

func (m *Model) clickVisible(ctx context.Context, q browser.Query, what string) error {
	ctx, cancel := context.WithTimeout(ctx, m.actionTimeout)
	defer cancel()
	if err := m.page.WaitVisible(ctx, q); err != nil {
		return fmt.Errorf("%s is not visible: %w", what, err)
	}
	if err := m.page.Click(ctx, q); err != nil {
		return fmt.Errorf("failed to click %s: %w", what, err)
	}
	return nil
}
