// Package locale holds the wording a storefront renders in one language: the
// accessible names of its buttons, its currency format and its error banner.
package locale

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var builtin embed.FS

// Labels is one storefront wording pack.
type Labels struct {
	Locale string `yaml:"-"`

	BuyButton       string `yaml:"buy_button"`
	ClearCartButton string `yaml:"clear_cart_button"`
	GoToCartButton  string `yaml:"go_to_cart_button"`
	LoginButton     string `yaml:"login_button"`
	PriceFormat     string `yaml:"price_format"`
	ServerError     string `yaml:"server_error"`

	buy, clearCart, goToCart, login *regexp.Regexp
}

// Load returns the wording pack for locale. A file lang/<locale>.yaml in
// overrideDir wins over the built-in pack; an empty overrideDir uses the
// built-in packs only.
func Load(locale, overrideDir string) (*Labels, error) {
	if overrideDir != "" {
		path := filepath.Join(overrideDir, "lang", locale+".yaml")
		data, err := os.ReadFile(path)
		if err == nil {
			return parse(locale, data)
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read locale file %s: %w", path, err)
		}
	}

	data, err := builtin.ReadFile("lang/" + locale + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown storefront locale %q (available: %s)", locale, strings.Join(Available(), ", "))
	}
	return parse(locale, data)
}

// MustLoad is Load for built-in packs that are known to exist.
func MustLoad(locale string) *Labels {
	l, err := Load(locale, "")
	if err != nil {
		panic(err)
	}
	return l
}

// Available lists the built-in locales.
func Available() []string {
	entries, err := builtin.ReadDir("lang")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}

func parse(locale string, data []byte) (*Labels, error) {
	var l Labels
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse locale %s: %w", locale, err)
	}
	l.Locale = locale

	if !strings.Contains(l.PriceFormat, "%d") {
		return nil, fmt.Errorf("locale %s: price_format %q has no %%d verb", locale, l.PriceFormat)
	}
	if l.ServerError == "" {
		return nil, fmt.Errorf("locale %s: server_error is empty", locale)
	}

	patterns := []struct {
		key string
		src string
		dst **regexp.Regexp
	}{
		{"buy_button", l.BuyButton, &l.buy},
		{"clear_cart_button", l.ClearCartButton, &l.clearCart},
		{"go_to_cart_button", l.GoToCartButton, &l.goToCart},
		{"login_button", l.LoginButton, &l.login},
	}
	for _, p := range patterns {
		if p.src == "" {
			return nil, fmt.Errorf("locale %s: %s is empty", locale, p.key)
		}
		re, err := regexp.Compile(p.src)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %s: %w", locale, p.key, err)
		}
		*p.dst = re
	}

	return &l, nil
}

// Buy matches the accessible name of a catalog item's purchase button.
func (l *Labels) Buy() *regexp.Regexp { return l.buy }

// ClearCart matches the cart panel's clear button.
func (l *Labels) ClearCart() *regexp.Regexp { return l.clearCart }

// GoToCart matches the cart panel's link to the cart page.
func (l *Labels) GoToCart() *regexp.Regexp { return l.goToCart }

// Login matches the login form's submit button.
func (l *Labels) Login() *regexp.Regexp { return l.login }

// FormatPrice renders a price the way cart panel rows show it.
func (l *Labels) FormatPrice(price int) string {
	return fmt.Sprintf(l.PriceFormat, price)
}
