package storefront

import (
	"fmt"
	"strconv"

	"cartcheck/internal/browser"
	"cartcheck/internal/config"
	"cartcheck/internal/locale"
)

// regions maps the markup contract onto queries. Every method builds a fresh
// descriptor; nothing here holds a live element.
type regions struct {
	sel    config.SelectorConfig
	labels *locale.Labels
}

func (r regions) userMenu() browser.Query { return browser.CSS(r.sel.UserMenu) }
func (r regions) cartBadge() browser.Query { return browser.CSS(r.sel.CartBadge) }
func (r regions) cartToggle() browser.Query { return browser.CSS(r.sel.CartToggle) }

func (r regions) catalogItems() browser.Query {
	return browser.CSS(r.sel.CatalogContainer).CSS(r.sel.CatalogItem)
}

func (r regions) catalogItem(i int) browser.Query {
	return r.catalogItems().Nth(i)
}

// product locates a catalog item by its identity attribute.
func (r regions) product(id string) browser.Query {
	return browser.CSS(r.sel.CatalogContainer).
		CSS(fmt.Sprintf("%s[%s=%s]", r.sel.CatalogItem, r.sel.ProductIDAttr, strconv.Quote(id)))
}

func (r regions) productName(item browser.Query) browser.Query { return item.CSS(r.sel.ProductName) }
func (r regions) productPrice(item browser.Query) browser.Query { return item.CSS(r.sel.ProductPrice) }
func (r regions) productStock(item browser.Query) browser.Query { return item.CSS(r.sel.ProductStock) }
func (r regions) buyButton(item browser.Query) browser.Query { return item.Button(r.labels.Buy()) }

func (r regions) cartPanel() browser.Query { return browser.CSS(r.sel.CartPanel) }
func (r regions) panelRows() browser.Query { return r.cartPanel().CSS(r.sel.PanelRow) }
func (r regions) panelTotal() browser.Query { return r.cartPanel().CSS(r.sel.PanelTotal) }

func (r regions) panelRow(i int) browser.Query { return r.panelRows().Nth(i) }
func (r regions) rowName(row browser.Query) browser.Query { return row.CSS(r.sel.RowName) }
func (r regions) rowPrice(row browser.Query) browser.Query { return row.CSS(r.sel.RowPrice) }
func (r regions) rowCount(row browser.Query) browser.Query { return row.CSS(r.sel.RowCount) }
func (r regions) clearCartButton() browser.Query { return r.cartPanel().Button(r.labels.ClearCart()) }
func (r regions) goToCartButton() browser.Query { return r.cartPanel().Button(r.labels.GoToCart()) }
func (r regions) serverError() browser.Query { return browser.Text(r.labels.ServerError) }
