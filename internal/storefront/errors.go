package storefront

import (
	"fmt"
	"strings"
)

// NotFoundError means no discovered product satisfies a purchase criterion.
type NotFoundError struct {
	Criterion string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no product found: %s", e.Criterion)
}

// InsufficientStockError means no product has enough stock for the requested
// number of units. It is returned before any click.
type InsufficientStockError struct {
	Requested int
	MaxStock  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("no product with stock >= %d (largest stock is %d)", e.Requested, e.MaxStock)
}

// EmptyCatalogError means the catalog rendered no items.
type EmptyCatalogError struct {
	URL string
}

func (e *EmptyCatalogError) Error() string {
	return fmt.Sprintf("catalog at %s has no items", e.URL)
}

// MissingAttributeError means a catalog item lacks its identity attribute.
type MissingAttributeError struct {
	Attribute string
	Index     int
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("catalog item %d has no %s attribute", e.Index, e.Attribute)
}

// StateError is returned when an operation is invoked from a state that does
// not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

const maxBodyRunes = 200

// ClearCartError means the cart-clear request was not accepted.
type ClearCartError struct {
	Status int
	Body   string
}

func (e *ClearCartError) Error() string {
	body := strings.TrimSpace(e.Body)
	if r := []rune(body); len(r) > maxBodyRunes {
		body = string(r[:maxBodyRunes]) + "..."
	}
	if body == "" {
		return fmt.Sprintf("cart clear request failed with status %d", e.Status)
	}
	return fmt.Sprintf("cart clear request failed with status %d: %s", e.Status, body)
}

// AssertionError is a mismatch between the oracle and the rendered cart.
type AssertionError struct {
	Check    string
	Expected string
	Observed string
	Diff     string
}

func (e *AssertionError) Error() string {
	if e.Diff != "" {
		return fmt.Sprintf("%s: mismatch (-expected +observed):\n%s", e.Check, e.Diff)
	}
	return fmt.Sprintf("%s: expected %s, observed %s", e.Check, e.Expected, e.Observed)
}
