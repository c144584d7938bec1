// Package slug turns display names into URL-safe identifiers.
package slug

import (
	"regexp"
	"strings"
)

var (
	// \s in RE2 is ASCII only, so Unicode space separators are listed too.
	disallowed = regexp.MustCompile(`[^\w\s\p{Z}\x{FEFF}-]`)
	separators = regexp.MustCompile(`[\s\p{Z}\x{FEFF}_-]+`)
)

// Slugify lowercases and trims text, drops anything that is not a word
// character, whitespace or hyphen, and collapses separator runs into a single
// hyphen. It does not guarantee uniqueness.
func Slugify(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = disallowed.ReplaceAllString(s, "")
	s = separators.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
