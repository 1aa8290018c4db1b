package utils

import (
	"strconv"
	"time"

	"github.com/gosimple/slug"
)

// Slugify lowercases title into a URL-safe slug. Titles with no usable
// characters fall back to "dashboard".
func Slugify(title string) string {
	s := slug.Make(title)
	if s == "" {
		return "dashboard"
	}
	return s
}

// UniqueSlug appends the current unix millisecond time to base.
func UniqueSlug(base string, now time.Time) string {
	return base + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}
