// Package normalize cleans host names coming from Consul keys, static
// configuration and client requests.
package normalize

import (
	"sort"
	"strings"
	"unicode"
)

// Host trims whitespace and invisible edge characters and lowercases the
// result. Host names compare case-insensitively.
func Host(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) ||
			r == '\u200B' || // zero width space
			r == '\u200C' || // zero width non-joiner
			r == '\u200D' || // zero width joiner
			r == '\uFEFF' // BOM
	}))
}

// Hosts normalizes every entry, drops empties and duplicates and sorts.
func Hosts(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = Host(h)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
