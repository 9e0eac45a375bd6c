package content

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy  = bluemonday.StrictPolicy()
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Sanitize turns untrusted message text into something safe to print on
// a terminal: markup is stripped, entities are decoded and control
// characters other than newline and tab are dropped.
func Sanitize(input string) string {
	text := html.UnescapeString(policy.Sanitize(input))
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}

// Preview shortens s to at most n runes for one-line listings.
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(Sanitize(s)), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// ValidateID checks that a ride or conversation id can be placed into a
// destination name or URL path as is.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dash, underscore)")
	}
	return nil
}
