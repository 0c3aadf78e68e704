// Package browsertest provides an in-memory storefront and a browser.Browser
// that renders it, so the cart harness can be tested without Chrome.
//
// The rendered markup follows the storefront contract the default selectors
// expect: catalog items with data-product ids, a cart badge, a cart dropdown
// panel, a csrf-token meta tag and a /basket/clear endpoint.
package browsertest

import (
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"cartcheck/internal/browser"
)

// Product is one catalog item of the fake shop.
type Product struct {
	ID       string
	Name     string
	Price    int
	Stock    int
	Discount bool
}

type line struct {
	productID string
	count     int
}

type shopSession struct {
	user  string
	csrf  string
	lines []line
}

const sessionCookie = "PHPSESSID"

// Shop is the server side of the fake storefront. It is safe for use by
// pages in several goroutines.
type Shop struct {
	Root string

	mu       sync.Mutex
	username string
	password string
	products []Product
	sessions map[string]*shopSession

	// Fault injection. Set before pages are opened.
	DropKeystroke  int             // drop every Nth typed character
	InputLag       int             // reads of a field that still miss the latest typing
	ReversePanel   bool            // render cart panel rows newest first
	PanelPriceSkew int             // added to every rendered row price
	BadgeSkew      int             // added to the rendered badge count
	ClearStatus    int             // forced status for /basket/clear
	OmitCSRF       bool            // render no csrf-token meta tag
	ServerError    bool            // show the error banner on the cart page
	HiddenBuy      map[string]bool // product ids whose buy button is hidden
	LoginRedirects int             // extra hops before the landing page

	logins    int
	clears    int
	buyClicks int
}

// NewShop returns a shop at http://shop.test with the account test/test.
func NewShop(products ...Product) *Shop {
	return &Shop{
		Root:     "http://shop.test",
		username: "test",
		password: "test",
		products: products,
		sessions: map[string]*shopSession{},
	}
}

// SetAccount replaces the single valid account.
func (s *Shop) SetAccount(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// Logins counts successful logins.
func (s *Shop) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Clears counts accepted /basket/clear calls.
func (s *Shop) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// BuyClicks counts purchase button clicks.
func (s *Shop) BuyClicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buyClicks
}

// CartSize returns the number of units in the cart of the session token.
func (s *Shop) CartSize(token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return 0
	}
	n := 0
	for _, l := range sess.lines {
		n += l.count
	}
	return n
}

// CSRF returns the token the shop expects from the session token, or "" when
// there is no such session.
func (s *Shop) CSRF(token string) string {
	sess, _ := s.session(token)
	return sess.csrf
}

// SessionState logs in on the server side and returns the storage state a
// browser holds after a successful login.
func (s *Shop) SessionState(user, password string) (*browser.StorageState, error) {
	token, ok := s.login(user, password)
	if !ok {
		return nil, errors.New("browsertest: invalid credentials")
	}
	u, err := url.Parse(s.Root)
	if err != nil {
		return nil, err
	}
	return &browser.StorageState{
		Cookies: []browser.Cookie{{
			Name:     sessionCookie,
			Value:    token,
			Domain:   u.Hostname(),
			Path:     "/",
			Expires:  -1,
			HTTPOnly: true,
		}},
		Origins: []browser.OriginState{},
	}, nil
}

func (s *Shop) login(user, password string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user != s.username || password != s.password {
		return "", false
	}
	token := uuid.NewString()
	s.sessions[token] = &shopSession{user: user, csrf: uuid.NewString()}
	s.logins++
	return token, true
}

func (s *Shop) session(token string) (shopSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return shopSession{}, false
	}
	cp := *sess
	cp.lines = append([]line(nil), sess.lines...)
	return cp, true
}

func (s *Shop) product(id string) (Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func (s *Shop) buy(token, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyClicks++
	sess, ok := s.sessions[token]
	if !ok {
		return
	}
	for i := range sess.lines {
		if sess.lines[i].productID == productID {
			sess.lines[i].count++
			return
		}
	}
	sess.lines = append(sess.lines, line{productID: productID, count: 1})
}

func (s *Shop) clear(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok {
		sess.lines = nil
	}
}

// clearViaAPI handles POST /basket/clear.
func (s *Shop) clearViaAPI(h http.Header) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ClearStatus != 0 {
		return s.ClearStatus
	}

	req := &http.Request{Header: h}
	c, err := req.Cookie(sessionCookie)
	if err != nil {
		return http.StatusUnauthorized
	}
	sess, ok := s.sessions[c.Value]
	if !ok {
		return http.StatusUnauthorized
	}
	if h.Get("X-CSRF-Token") != sess.csrf {
		return http.StatusBadRequest
	}
	sess.lines = nil
	s.clears++
	return http.StatusOK
}
