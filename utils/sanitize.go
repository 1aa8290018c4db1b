package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var plainText = bluemonday.StrictPolicy()

// SanitizeText strips all markup from user input and trims surrounding space.
// Entities produced by the policy are decoded so titles round-trip as typed.
func SanitizeText(input string) string {
	return strings.TrimSpace(html.UnescapeString(plainText.Sanitize(input)))
}
