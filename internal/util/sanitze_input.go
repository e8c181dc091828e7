package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and HTML-escapes free-text fields that end up in
// stored records and responses (API-key names, data-request reasons).
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious flags markup and template fragments in fields that
// must stay plain text, such as display names. The check is deliberately
// coarse; anything matching is rejected outright rather than cleaned.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	for _, c := range badChars {
		if strings.Contains(strings.ToLower(s), c) {
			return true
		}
	}
	return false
}
