package storefront

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cartcheck/internal/browser"
	"cartcheck/internal/cart"
)

// Product is a catalog item as discovered on the page, bound to a query that
// re-locates it by id and to the scenario's cart.
type Product struct {
	id        string
	name      string
	unitPrice int
	stock     int
	discount  bool

	item  browser.Query
	model *Model
}

var _ cart.Item = (*Product)(nil)

func (p *Product) ID() string { return p.id }
func (p *Product) Name() string { return p.name }
func (p *Product) UnitPrice() int { return p.unitPrice }
func (p *Product) Stock() int { return p.stock }
func (p *Product) HasDiscount() bool { return p.discount }
func (p *Product) Query() browser.Query { return p.item }

func (p *Product) String() string {
	return fmt.Sprintf("%s %q (%d)", p.id, p.name, p.unitPrice)
}

// Purchase clicks the item's buy button and, once the click went through,
// records one unit in the cart. A failed click leaves the cart untouched.
func (p *Product) Purchase(ctx context.Context) error {
	m := p.model
	if err := m.allow("Purchase", Loaded, Interacting, Verified); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.actionTimeout)
	defer cancel()

	buy := m.regions.buyButton(p.item)
	if err := m.page.WaitVisible(ctx, buy); err != nil {
		return fmt.Errorf("buy button of product %s is not visible: %w", p.id, err)
	}
	if err := m.page.Click(ctx, buy); err != nil {
		return fmt.Errorf("failed to click buy button of product %s: %w", p.id, err)
	}

	m.cart.Add(p)
	m.state = Interacting
	m.logger.Debug("product purchased",
		zap.String("product", p.id),
		zap.Int("price", p.unitPrice),
		zap.Int("cart_count", m.cart.Count()))
	return nil
}
