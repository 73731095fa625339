// Package llm wraps the Anthropic Messages API: client construction, the
// system prompt source, and the tool-calling engine.
package llm

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// NewClient returns a Messages client. With an empty key the SDK falls back
// to ANTHROPIC_API_KEY from the environment.
func NewClient(apiKey string, opts ...option.RequestOption) *anthropic.Client {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	c := anthropic.NewClient(opts...)
	return &c
}

// SupportsReasoning reports whether a model should run with extended
// thinking. A configured allow-list wins; otherwise a name heuristic is used.
func SupportsReasoning(model string, allowList []string) bool {
	if len(allowList) > 0 {
		for _, m := range allowList {
			if m == model {
				return true
			}
		}
		return false
	}
	lower := strings.ToLower(model)
	return strings.HasPrefix(lower, "claude-opus") ||
		strings.HasPrefix(lower, "claude-sonnet-4") ||
		strings.Contains(lower, "-thinking")
}

// thinkingBudget maps a reasoning effort to a token budget.
func thinkingBudget(effort string) int64 {
	switch strings.ToLower(strings.TrimSpace(effort)) {
	case "high":
		return 16384
	case "medium":
		return 8192
	default:
		return 2048
	}
}
