package xstrings

import "strings"

// Shorten cuts text to at most max bytes, preferring a word boundary, and
// appends an ellipsis when anything was dropped. Text at or under the limit
// is returned unchanged.
func Shorten(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}

	cut := text[:max]
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \t\n") + "…"
}
