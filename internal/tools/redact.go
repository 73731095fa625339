package tools

import "regexp"

// Backend URLs embed function keys as code=... query params; keep them out of
// tool results and logs.
var codeKeyPattern = regexp.MustCompile(`(?i)(code=)[^&\s]+`)

func redactSecrets(s string) string {
	return codeKeyPattern.ReplaceAllString(s, "${1}***")
}
