package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

const maxIDLen = 128

// CleanID validates an identifier taken from a URL or query. Identifiers that carry
// markup, surrounding whitespace or exceed the column size are rejected.
func CleanID(input string) (string, bool) {
	clean := strings.TrimSpace(strictPolicy.Sanitize(input))
	if clean == "" || clean != input || len(clean) > maxIDLen {
		return "", false
	}
	return clean, true
}
