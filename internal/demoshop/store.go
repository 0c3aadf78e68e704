// Package demoshop is a small storefront that renders the markup the cart
// harness expects. It exists so the harness can run end to end without the
// production site: a login form with redirect hops, a catalog, a cart badge
// and dropdown panel, a cart page and a CSRF-protected clear endpoint.
package demoshop

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Product is one catalog entry.
type Product struct {
	ID       string
	Name     string
	Price    int
	OldPrice int
	Stock    int
	Discount bool
}

// Line is one product in a cart.
type Line struct {
	Product Product
	Count   int
}

// Total is the price of every unit in the line.
func (l Line) Total() int { return l.Product.Price * l.Count }

// Basket is a cart as the templates render it.
type Basket struct {
	Lines []Line
}

// Units is the number the cart badge shows.
func (b Basket) Units() int {
	n := 0
	for _, l := range b.Lines {
		n += l.Count
	}
	return n
}

func (b Basket) Total() int {
	total := 0
	for _, l := range b.Lines {
		total += l.Total()
	}
	return total
}

var (
	ErrUnknownProduct = errors.New("unknown product")
	ErrOutOfStock     = errors.New("not enough stock")
	ErrBadCredentials = errors.New("wrong username or password")
)

type session struct {
	user  string
	csrf  string
	lines []*Line
}

// store holds accounts, sessions and carts in memory.
type store struct {
	mu       sync.Mutex
	products []Product
	accounts map[string][]byte
	sessions map[string]*session
}

func newStore(products []Product) *store {
	return &store{
		products: products,
		accounts: map[string][]byte{},
		sessions: map[string]*session{},
	}
}

func (s *store) addAccount(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[username] = hash
	return nil
}

// login checks the credentials and opens a session, returning its id.
func (s *store) login(username, password string) (string, error) {
	s.mu.Lock()
	hash, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok {
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", ErrBadCredentials
	}

	csrf, err := randomToken()
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &session{user: username, csrf: csrf}
	return id, nil
}

func (s *store) logout(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// view returns the user, CSRF token and cart of session id.
func (s *store) view(id string) (user, csrf string, basket Basket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", "", Basket{}, false
	}
	for _, l := range sess.lines {
		basket.Lines = append(basket.Lines, *l)
	}
	return sess.user, sess.csrf, basket, true
}

func (s *store) catalog() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Product(nil), s.products...)
}

// buy adds one unit of productID to the cart of session id. A cart never
// holds more units of a product than its stock.
func (s *store) buy(id, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrBadCredentials
	}

	var product *Product
	for i := range s.products {
		if s.products[i].ID == productID {
			product = &s.products[i]
			break
		}
	}
	if product == nil {
		return ErrUnknownProduct
	}

	for _, l := range sess.lines {
		if l.Product.ID == productID {
			if l.Count >= product.Stock {
				return ErrOutOfStock
			}
			l.Count++
			return nil
		}
	}
	if product.Stock < 1 {
		return ErrOutOfStock
	}
	sess.lines = append(sess.lines, &Line{Product: *product, Count: 1})
	return nil
}

func (s *store) clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.lines = nil
	}
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
