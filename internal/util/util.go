package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxLogValue bounds how much of a caller or agent supplied value ends up in a log line or error message.
const maxLogValue = 512

// SanitizeLog makes a caller supplied value safe to log: control characters, line breaks included, are
// dropped so a value cannot forge log lines, and long values are cut at maxLogValue runes.
// https://codeql.github.com/codeql-query-help/go/go-log-injection/
func SanitizeLog(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(cleaned) <= maxLogValue {
		return cleaned
	}
	return string([]rune(cleaned)[:maxLogValue]) + "..."
}

// Is2xxResponse reports whether an agent or status list host accepted a request.
func Is2xxResponse(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
