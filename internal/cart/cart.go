// Package cart holds the oracle: the cart contents a test scenario expects,
// built only from the purchase actions the scenario performed.
package cart

// Item is anything that can be put into the cart.
type Item interface {
	ID() string
	Name() string
	UnitPrice() int
}

// Entry aggregates every unit of one product added to the cart.
type Entry struct {
	ID         string
	Name       string
	TotalPrice int
	Count      int
}

// Cart maps product ids to entries in first-purchase order.
//
// A Cart is used by a single scenario at a time and is not safe for
// concurrent mutation.
type Cart struct {
	index   map[string]int
	entries []Entry
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{index: make(map[string]int)}
}

// Add records one unit of item.
func (c *Cart) Add(item Item) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	i, ok := c.index[item.ID()]
	if !ok {
		i = len(c.entries)
		c.index[item.ID()] = i
		c.entries = append(c.entries, Entry{ID: item.ID(), Name: item.Name()})
	}
	c.entries[i].Count++
	c.entries[i].TotalPrice += item.UnitPrice()
}

// TotalPrice is the expected grand total. It is summed on every call.
func (c *Cart) TotalPrice() int {
	total := 0
	for _, e := range c.entries {
		total += e.TotalPrice
	}
	return total
}

// Count is the number of units in the cart, which is what the cart badge shows.
func (c *Cart) Count() int {
	n := 0
	for _, e := range c.entries {
		n += e.Count
	}
	return n
}

// Len is the number of distinct products.
func (c *Cart) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the entries in insertion order.
func (c *Cart) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Entry returns the entry for id.
func (c *Cart) Entry(id string) (Entry, bool) {
	i, ok := c.index[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Reset empties the cart in place so products bound to it stay usable.
func (c *Cart) Reset() {
	c.index = make(map[string]int)
	c.entries = nil
}
