package util

import (
	"regexp"
	"strings"
)

var (
	reSpaces   = regexp.MustCompile(`\s+`)
	reFileSafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// SignificantMatch returns the trimmed match string, or "" when it is too
// short to filter on (blank or a single character).
func SignificantMatch(input string) string {
	trimmed := strings.TrimSpace(input)
	if len([]rune(trimmed)) <= 1 {
		return ""
	}
	return trimmed
}

// SafeFileName turns an arbitrary identifier into a file name component.
func SafeFileName(input string) string {
	out := strings.Trim(reFileSafe.ReplaceAllString(input, "_"), "_")
	if len(out) > 120 {
		out = out[:120]
	}
	if out == "" {
		return "file"
	}
	return out
}
