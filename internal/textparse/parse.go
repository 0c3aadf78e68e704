// Package textparse extracts integers from the text the storefront renders
// around prices and stock counts ("123 р.", "9 шт.").
package textparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// MaxSafeInteger is the largest magnitude a parsed value may have. Values past
// it cannot round-trip through the page's JavaScript number type.
const MaxSafeInteger = 1<<53 - 1

var (
	// ErrNotInteger reports text that does not start with a digit run.
	ErrNotInteger = errors.New("no leading integer")
	// ErrUnsafeInteger reports a digit run outside ±MaxSafeInteger.
	ErrUnsafeInteger = errors.New("integer out of safe range")
)

// ParseError describes text that could not be turned into an integer.
type ParseError struct {
	Field string // "price", "count" or empty for unlabeled calls
	Text  string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse integer from %q: %v", e.Text, e.Err)
	}
	return fmt.Sprintf("failed to parse %s from %q: %v", e.Field, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseInteger reads the integer at the start of text. Leading whitespace and
// a single sign are allowed; anything after the digit run is ignored, so
// "123 р." yields 123 while "abc" and ".5" fail.
func ParseInteger(text string) (int, error) {
	return parse("", text)
}

// ParsePrice parses a displayed price in the smallest currency unit.
func ParsePrice(text string) (int, error) {
	return parse("price", text)
}

// ParseCount parses a displayed stock or quantity count.
func ParseCount(text string) (int, error) {
	return parse("count", text)
}

func parse(field, text string) (int, error) {
	s := strings.TrimLeftFunc(text, unicode.IsSpace)

	sign := ""
	if s != "" && (s[0] == '+' || s[0] == '-') {
		sign, s = s[:1], s[1:]
	}

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, &ParseError{Field: field, Text: text, Err: ErrNotInteger}
	}

	digits := strings.TrimLeft(s[:end], "0")
	if len(digits) > 16 {
		return 0, &ParseError{Field: field, Text: text, Err: ErrUnsafeInteger}
	}

	n, err := strconv.ParseInt(sign+s[:end], 10, 64)
	if err != nil {
		// strconv only fails here on overflow; the digit run is already validated.
		return 0, &ParseError{Field: field, Text: text, Err: ErrUnsafeInteger}
	}
	if n > MaxSafeInteger || n < -MaxSafeInteger {
		return 0, &ParseError{Field: field, Text: text, Err: ErrUnsafeInteger}
	}
	return int(n), nil
}
