// Package logging redacts credentials from text that ends up in logs or in
// stored error columns (sync_status.last_error, search log error_message).
package logging

import (
	"regexp"
)

const (
	// MaxSearchTextLogLength caps search text written to logs.
	MaxSearchTextLogLength = 120
	// MaxErrorTextLength caps error text stored in the database.
	MaxErrorTextLength = 2000
	// RedactedText replaces sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Authorization: Bearer <token>
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// OpenAI-style secret keys (sk-..., sk-proj-...)
	secretKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{16,}`)

	// api_key=..., apikey=..., key=...
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9\-_]{16,}`)

	// user:pass@host in URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a DSN or URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError renders err without credentials, truncated to
// MaxErrorTextLength. Use it for anything persisted or logged from the
// database, embedding or Redis clients.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return TruncateString(redact(err.Error()), MaxErrorTextLength)
}

// SanitizeSearchText prepares caller search text for logs.
func SanitizeSearchText(text string) string {
	if text == "" {
		return ""
	}
	return redact(TruncateString(text, MaxSearchTextLogLength))
}

func redact(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = secretKeyPattern.ReplaceAllString(s, RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
}

// TruncateString truncates s to maxLen bytes and appends "..." when cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
