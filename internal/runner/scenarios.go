package runner

import (
	"context"
	"errors"
	"fmt"

	"cartcheck/internal/storefront"
)

// Scenario is one cart test. Run starts from a model whose catalog is
// discovered and whose cart has just been reset.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, m *storefront.Model) error
}

// full is the verification every scenario ends with.
var full = storefront.VerifyOptions{Panel: true, CartPage: true}

// DefaultScenarios returns the cart suite in its canonical order.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "empty cart", Run: emptyCart},
		{Name: "one normal-priced product", Run: oneNormalPriced},
		{Name: "one discounted product", Run: oneDiscounted},
		{Name: "nine distinct products", Run: nineDistinct},
		{Name: "nine of the same product", Run: sameProduct(9)},
		{Name: "ten of the same product", Run: tenOfSame},
	}
}

// Select returns the scenarios whose names are listed, in suite order. An
// unknown name is an error.
func Select(all []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Scenario
	for _, s := range all {
		if want[s.Name] {
			out = append(out, s)
			delete(want, s.Name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("unknown scenario %q", n)
	}
	return out, nil
}

// start checks the precondition shared by every scenario: a signed-in user
// looking at an empty cart.
func start(ctx context.Context, m *storefront.Model) error {
	if err := m.AssertLoggedIn(ctx); err != nil {
		return err
	}
	return m.AssertCartEmpty(ctx)
}

func emptyCart(ctx context.Context, m *storefront.Model) error {
	if err := start(ctx, m); err != nil {
		return err
	}
	return m.VerifyCart(ctx, full)
}

func oneNormalPriced(ctx context.Context, m *storefront.Model) error {
	if err := start(ctx, m); err != nil {
		return err
	}
	if _, err := m.BuyFirstNormalPriced(ctx); err != nil {
		return err
	}
	return m.VerifyCart(ctx, full)
}

func oneDiscounted(ctx context.Context, m *storefront.Model) error {
	if err := start(ctx, m); err != nil {
		return err
	}
	if _, err := m.BuyFirstDiscounted(ctx); err != nil {
		return err
	}
	return m.VerifyCart(ctx, full)
}

func nineDistinct(ctx context.Context, m *storefront.Model) error {
	if err := start(ctx, m); err != nil {
		return err
	}
	if _, err := m.BuyFirstDiscounted(ctx); err != nil {
		return err
	}
	if err := m.AssertCartBadgeCount(ctx, 1); err != nil {
		return err
	}
	if err := m.BuyDistinctProducts(ctx, 8); err != nil {
		return err
	}
	return m.VerifyCart(ctx, full)
}

func sameProduct(n int) func(context.Context, *storefront.Model) error {
	return func(ctx context.Context, m *storefront.Model) error {
		if err := start(ctx, m); err != nil {
			return err
		}
		if _, err := m.BuySameProduct(ctx, n); err != nil {
			return err
		}
		return m.VerifyCart(ctx, full)
	}
}

// tenOfSame passes when ten units can be bought and verified, and also when
// no product has ten in stock, provided nothing was clicked.
func tenOfSame(ctx context.Context, m *storefront.Model) error {
	err := sameProduct(10)(ctx, m)

	var stockErr *storefront.InsufficientStockError
	if !errors.As(err, &stockErr) {
		return err
	}
	if n := m.Cart().Len(); n != 0 {
		return fmt.Errorf("cart holds %d entries after refused purchase: %w", n, err)
	}
	return m.AssertCartEmpty(ctx)
}
