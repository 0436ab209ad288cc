// Package redact removes sensitive material from strings before they are
// logged or returned in error responses: provider API keys, bearer
// tokens, and storage connection strings can all end up inside wrapped
// error messages.
package redact

import (
	"regexp"
)

// Redaction placeholders
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedTokenPlaceholder      = "[REDACTED_TOKEN]"
)

var (
	// Connection strings with inline credentials (postgres://user:pw@host)
	connStringRegex = regexp.MustCompile(`(?i)(postgres|postgresql|redis|mysql)://[^@\s]+@`)

	// Provider API keys and generic secrets following a key-ish label
	apiKeyRegex = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|key|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)

	// JWT bearer tokens (three base64url segments)
	jwtTokenRegex = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)

	patternPlaceholders = []struct {
		pattern     *regexp.Regexp
		placeholder string
	}{
		{connStringRegex, RedactedCredentialPlaceholder + "@"},
		{jwtTokenRegex, RedactedTokenPlaceholder},
		{apiKeyRegex, "$1$2" + RedactedKeyPlaceholder},
	}
)

// String redacts sensitive content from s.
func String(s string) string {
	for _, p := range patternPlaceholders {
		s = p.pattern.ReplaceAllString(s, p.placeholder)
	}
	return s
}

// Error redacts an error's message. Safe to call with nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
