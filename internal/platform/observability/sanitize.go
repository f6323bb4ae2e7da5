package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// sanitizeString drops control characters and truncates to limit runes. Newlines go too so a
// crafted header cannot forge a second log line.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	b.Grow(len(value))
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if count == limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod upper-cases the method and strips anything that is not a token character.
func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(strings.TrimSpace(method), 10))
}

// SanitizeOperator normalises the operator badge supplied by the cart station.
func SanitizeOperator(operator string) string {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return ""
	}
	return sanitizeString(operator, 64)
}

// SanitizeCartID bounds cart identifiers taken from the URL.
func SanitizeCartID(cartID string) string {
	return sanitizeString(strings.TrimSpace(cartID), 128)
}
