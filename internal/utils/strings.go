// Package utils provides common utility functions.
package utils

// Truncate shortens s to at most n runes, appending "..." when cut.
// Use this to keep error text readable in context lines and alerts.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ShortID returns the first 8 characters of an id for compact log fields.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
