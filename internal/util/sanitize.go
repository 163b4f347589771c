package util

import (
	"regexp"
	"strings"
)

var (
	schemeRe    = regexp.MustCompile(`(?i)(javascript|data|vbscript):`)
	handlerRe   = regexp.MustCompile(`(?i)on\w+=`)
	cssExprRe   = regexp.MustCompile(`(?i)(expression|url)\(`)
	htmlEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
		"/", "&#x2F;",
	)
)

// SanitizeInput neutralizes markup and script-injection vectors in
// free-form user input and truncates it to a safe length. Applied to
// usernames, device names and blacklist reasons before storage.
func SanitizeInput(s string) string {
	s = htmlEscaper.Replace(s)
	s = schemeRe.ReplaceAllString(s, "")
	s = handlerRe.ReplaceAllString(s, "")
	s = cssExprRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "<!--", "")
	s = strings.ReplaceAll(s, "-->", "")
	s = strings.TrimSpace(s)
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

// Truncate limits s to max bytes, for user-agent strings and labels.
func Truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
