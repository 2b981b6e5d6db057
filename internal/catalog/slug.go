package catalog

import (
	"regexp"
	"strings"
)

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a product title: lowercase, "&"
// spelled "and", every run of other characters collapsed to one dash.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = strings.ReplaceAll(s, "&", "and")
	s = nonSlugRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
