package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"cartcheck/internal/browser"
	"cartcheck/internal/config"
	"cartcheck/internal/textparse"
)

// VerifyOptions selects which parts of the cart UI VerifyCart checks. The
// badge is always checked.
type VerifyOptions struct {
	// Panel opens the cart panel and compares its rows and total.
	Panel bool
	// CartPage follows the panel's go-to-cart button and checks the cart
	// page renders without a server error.
	CartPage bool
}

// Row is one cart panel line as rendered text.
type Row struct {
	Name  string
	Price string
	Count string
}

// expect polls check until it returns nil or the assert timeout elapses, in
// which case the last failure is returned.
func (m *Model) expect(ctx context.Context, check func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.assertTimeout)
	defer cancel()

	var last error
	for {
		err := check(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil || last == nil || !errors.Is(err, ctx.Err()) {
			last = err
		}

		select {
		case <-ctx.Done():
			return last
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *Model) expectText(ctx context.Context, check string, q browser.Query, want string) error {
	return m.expect(ctx, func(ctx context.Context) error {
		got, err := m.page.Text(ctx, q)
		if err != nil {
			return fmt.Errorf("%s: %w", check, err)
		}
		if normalizeSpace(got) != want {
			return &AssertionError{Check: check, Expected: strconv.Quote(want), Observed: strconv.Quote(got)}
		}
		return nil
	})
}

func (m *Model) verifying(op string) error {
	return m.allow(op, Loaded, Interacting, Verified)
}

// AssertLoggedIn checks the authenticated user menu is visible.
func (m *Model) AssertLoggedIn(ctx context.Context) error {
	if err := m.verifying("AssertLoggedIn"); err != nil {
		return err
	}
	err := m.expect(ctx, func(ctx context.Context) error {
		return m.page.WaitVisible(ctx, m.regions.userMenu())
	})
	if err != nil {
		return &AssertionError{Check: "logged in", Expected: "user menu visible", Observed: err.Error()}
	}
	m.state = Verified
	return nil
}

// AssertCartBadgeCount checks the cart badge shows want units.
func (m *Model) AssertCartBadgeCount(ctx context.Context, want int) error {
	if err := m.verifying("AssertCartBadgeCount"); err != nil {
		return err
	}
	err := m.expect(ctx, func(ctx context.Context) error {
		text, err := m.page.Text(ctx, m.regions.cartBadge())
		if err != nil {
			return fmt.Errorf("failed to read cart badge: %w", err)
		}
		got, err := textparse.ParseCount(text)
		if err != nil {
			return err
		}
		if got != want {
			return &AssertionError{Check: "cart badge count", Expected: strconv.Itoa(want), Observed: strconv.Itoa(got)}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.state = Verified
	return nil
}

// AssertCartEmpty checks the cart badge shows zero units.
func (m *Model) AssertCartEmpty(ctx context.Context) error {
	return m.AssertCartBadgeCount(ctx, 0)
}

// AssertCartPanelMatches checks the open cart panel against the cart: the
// number of rows must equal the number of cart entries, every row must show
// its entry's name, total price and count, and the panel total must equal the
// cart total.
func (m *Model) AssertCartPanelMatches(ctx context.Context) error {
	if err := m.verifying("AssertCartPanelMatches"); err != nil {
		return err
	}

	err := m.expect(ctx, func(ctx context.Context) error {
		return m.page.WaitVisible(ctx, m.regions.cartPanel())
	})
	if err != nil {
		return &AssertionError{Check: "cart panel", Expected: "visible", Observed: err.Error()}
	}

	rctx, cancel := context.WithTimeout(ctx, m.actionTimeout)
	n, err := m.page.Count(rctx, m.regions.panelRows())
	cancel()
	if err != nil {
		return fmt.Errorf("failed to count cart panel rows: %w", err)
	}
	if n != m.cart.Len() {
		return &AssertionError{
			Check:    "cart panel rows",
			Expected: strconv.Itoa(m.cart.Len()),
			Observed: strconv.Itoa(n),
		}
	}

	if m.panelOrder == config.PanelOrderAny {
		err = m.matchRowsAnyOrder(ctx, n)
	} else {
		err = m.matchRowsInOrder(ctx)
	}
	if err != nil {
		return err
	}

	if err := m.expectText(ctx, "cart panel total", m.regions.panelTotal(), strconv.Itoa(m.cart.TotalPrice())); err != nil {
		return err
	}

	m.state = Verified
	m.logger.Debug("cart panel verified",
		zap.Int("rows", n),
		zap.Int("total", m.cart.TotalPrice()))
	return nil
}

func (m *Model) expectedRows() []Row {
	entries := m.cart.Entries()
	rows := make([]Row, len(entries))
	for i, e := range entries {
		rows[i] = Row{
			Name:  e.Name,
			Price: m.regions.labels.FormatPrice(e.TotalPrice),
			Count: strconv.Itoa(e.Count),
		}
	}
	return rows
}

func (m *Model) matchRowsInOrder(ctx context.Context) error {
	for i, want := range m.expectedRows() {
		row := m.regions.panelRow(i)
		checks := []struct {
			field string
			q     browser.Query
			want  string
		}{
			{"name", m.regions.rowName(row), want.Name},
			{"price", m.regions.rowPrice(row), want.Price},
			{"count", m.regions.rowCount(row), want.Count},
		}
		for _, c := range checks {
			if err := m.expectText(ctx, fmt.Sprintf("cart panel row %d %s", i+1, c.field), c.q, c.want); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Model) matchRowsAnyOrder(ctx context.Context, n int) error {
	want := sortRows(m.expectedRows())

	var got []Row
	err := m.expect(ctx, func(ctx context.Context) error {
		var err error
		got, err = m.ReadPanel(ctx, n)
		if err != nil {
			return err
		}
		got = sortRows(got)
		if !cmp.Equal(want, got) {
			return errRowsDiffer
		}
		return nil
	})
	if errors.Is(err, errRowsDiffer) {
		return &AssertionError{Check: "cart panel rows", Diff: cmp.Diff(want, got)}
	}
	return err
}

var errRowsDiffer = errors.New("cart panel rows differ")

// ReadPanel returns the text of the first n cart panel rows in DOM order.
func (m *Model) ReadPanel(ctx context.Context, n int) ([]Row, error) {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		row := m.regions.panelRow(i)
		var r Row
		for _, f := range []struct {
			dst *string
			q   browser.Query
		}{
			{&r.Name, m.regions.rowName(row)},
			{&r.Price, m.regions.rowPrice(row)},
			{&r.Count, m.regions.rowCount(row)},
		} {
			text, err := m.page.Text(ctx, f.q)
			if err != nil {
				return nil, fmt.Errorf("failed to read cart panel row %d: %w", i+1, err)
			}
			*f.dst = normalizeSpace(text)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func sortRows(rows []Row) []Row {
	out := append([]Row(nil), rows...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.Count < b.Count
	})
	return out
}

// AssertNoServerError checks the page shows no server error banner.
func (m *Model) AssertNoServerError(ctx context.Context) error {
	if err := m.verifying("AssertNoServerError"); err != nil {
		return err
	}
	err := m.expect(ctx, func(ctx context.Context) error {
		n, err := m.page.Count(ctx, m.regions.serverError())
		if err != nil {
			return err
		}
		if n != 0 {
			return &AssertionError{Check: "server error banner", Expected: "0", Observed: strconv.Itoa(n)}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.state = Verified
	return nil
}

// AssertOnCartPage checks the browser is on the cart page and the page shows
// no server error.
func (m *Model) AssertOnCartPage(ctx context.Context) error {
	if err := m.verifying("AssertOnCartPage"); err != nil {
		return err
	}
	basket, err := url.Parse(m.urls.Basket)
	if err != nil {
		return err
	}

	var current string
	err = m.expect(ctx, func(ctx context.Context) error {
		var err error
		current, err = m.page.URL(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(current, basket.Path) {
			return &AssertionError{Check: "cart page URL", Expected: "*" + basket.Path + "*", Observed: current}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return m.AssertNoServerError(ctx)
}

// VerifyCart checks the cart UI against the cart: the badge always, then the
// panel and the cart page as opts select. Asking for the cart page opens the
// panel even when Panel is false.
func (m *Model) VerifyCart(ctx context.Context, opts VerifyOptions) error {
	if err := m.AssertCartBadgeCount(ctx, m.cart.Count()); err != nil {
		return err
	}
	if !opts.Panel && !opts.CartPage {
		return nil
	}

	if err := m.OpenCartPanel(ctx); err != nil {
		return err
	}
	if opts.Panel {
		if err := m.AssertCartPanelMatches(ctx); err != nil {
			return err
		}
	}
	if opts.CartPage {
		if err := m.GoToCartPage(ctx); err != nil {
			return err
		}
		if err := m.AssertOnCartPage(ctx); err != nil {
			return err
		}
	}
	return nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
