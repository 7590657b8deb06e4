package utils

import "strings"

// WordCount matches the client-side counter exactly: trim, split on runs of
// whitespace, drop empty tokens, count the rest. Rejection messages on both
// sides must agree on the number.
func WordCount(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	return len(strings.Fields(trimmed))
}
