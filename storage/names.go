package storage

import (
	"net/url"
	"strings"
)

// nameKey folds a board name into a key usable as a path segment, a Redis key
// part and an Azure table row key.
func nameKey(name string) string {
	folded := strings.ToLower(strings.Join(strings.Fields(name), " "))
	return strings.ReplaceAll(url.QueryEscape(folded), ".", "%2E")
}
