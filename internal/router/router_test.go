package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	latency := func(ms int) Constraints { return Constraints{MaxLatencyMs: &ms} }

	tests := []struct {
		name         string
		prompt       string
		hasTools     bool
		cons         Constraints
		allowedTools []string
		want         Mode
	}{
		{
			name:   "short prompt is trivial",
			prompt: "Bonjour",
			want:   ModeTrivial,
		},
		{
			name:   "medium prompt is standard",
			prompt: strings.Repeat("context ", 30),
			want:   ModeStandard,
		},
		{
			name:   "long prompt is deep",
			prompt: strings.Repeat("context ", 120),
			want:   ModeDeep,
		},
		{
			name:   "english marker is deep",
			prompt: "Prove that this algorithm terminates",
			want:   ModeDeep,
		},
		{
			name:   "french marker is deep",
			prompt: "Explique pourquoi le service tombe en panne",
			want:   ModeDeep,
		},
		{
			name:   "prefer reasoning forces deep",
			prompt: "ok",
			cons:   Constraints{PreferReasoning: true},
			want:   ModeDeep,
		},
		{
			name:   "tight latency downshifts deep",
			prompt: "Prove that this algorithm terminates",
			cons:   latency(1000),
			want:   ModeStandard,
		},
		{
			name:   "loose latency keeps deep",
			prompt: "Prove that this algorithm terminates",
			cons:   latency(5000),
			want:   ModeDeep,
		},
		{
			name:         "tools win over everything",
			prompt:       "Prove this, step by step",
			hasTools:     true,
			allowedTools: []string{"search_web"},
			want:         ModeTools,
		},
		{
			name:     "tools without allow-list fall through",
			prompt:   "hi",
			hasTools: true,
			want:     ModeTrivial,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Route(tt.prompt, tt.hasTools, tt.cons, tt.allowedTools)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeConstraints(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want Constraints
	}{
		{name: "nil map", raw: nil, want: Constraints{}},
		{
			name: "snake case",
			raw:  map[string]any{"prefer_reasoning": true, "max_latency_ms": float64(1200)},
			want: Constraints{PreferReasoning: true, MaxLatencyMs: intPtr(1200)},
		},
		{
			name: "camel case",
			raw:  map[string]any{"preferReasoning": "yes", "maxLatencyMs": "900"},
			want: Constraints{PreferReasoning: true, MaxLatencyMs: intPtr(900)},
		},
		{
			name: "string truthiness",
			raw:  map[string]any{"prefer_reasoning": "1"},
			want: Constraints{PreferReasoning: true},
		},
		{
			name: "falsy string ignored",
			raw:  map[string]any{"prefer_reasoning": "nope"},
			want: Constraints{},
		},
		{
			name: "garbage latency ignored",
			raw:  map[string]any{"max_latency_ms": "fast"},
			want: Constraints{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeConstraints(tt.raw)
			assert.Equal(t, tt.want.PreferReasoning, got.PreferReasoning)
			if tt.want.MaxLatencyMs == nil {
				assert.Nil(t, got.MaxLatencyMs)
			} else {
				assert.NotNil(t, got.MaxLatencyMs)
				assert.Equal(t, *tt.want.MaxLatencyMs, *got.MaxLatencyMs)
			}
		})
	}
}

func intPtr(n int) *int { return &n }
