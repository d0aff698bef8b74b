// Package redact strips credentials, tokens, SQL text and other sensitive
// fragments from strings before they are logged or returned to clients.
package redact

import "regexp"

// Placeholders substituted for redacted fragments.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedTokenPlaceholder      = "[REDACTED_TOKEN]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules see the unmodified text.
var rules = []rule{
	{
		pattern:     regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`),
		replacement: RedactedStackPlaceholder,
	},
	{
		// userinfo of connection URLs: postgres, redis, mysql, amqp
		pattern:     regexp.MustCompile(`(?i)\b(postgres(?:ql)?|rediss?|mysql|amqps?)://[^\s@/]+@`),
		replacement: "${1}://" + RedactedCredentialPlaceholder + "@",
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/=]+`),
		replacement: "Bearer " + RedactedTokenPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		replacement: RedactedJWTPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|passwd|pwd)(\s*[=:]\s*)['"]?[^'"&\s]+['"]?`),
		replacement: "${1}${2}" + RedactedCredentialPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|access[_-]?key)(\s*[=:]\s*)['"]?[A-Za-z0-9_\-.~+/]{8,}['"]?`),
		replacement: "${1}${2}" + RedactedKeyPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`),
		replacement: RedactedKeyPlaceholder,
	},
	{
		// upper-case statements only, so prose such as "failed to update" survives
		pattern:     regexp.MustCompile(`\b(?:SELECT\s[^;]*?\sFROM|INSERT\s+INTO|UPDATE\s+\w+\s+SET|DELETE\s+FROM|WITH\s+\w+\s+AS)\b[^;]*`),
		replacement: RedactedSQLPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		replacement: RedactedEmailPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?:/[\w.-]+){2,}`),
		replacement: RedactedPathPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`\b[A-Za-z]:\\[^\\\s]+(?:\\[^\\\s]+)+`),
		replacement: RedactedPathPlaceholder,
	},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}
