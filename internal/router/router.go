// Package router selects an execution mode (and therefore a model) for a
// prompt: tools when the caller allow-listed a usable toolset, deep for
// reasoning-heavy prompts, trivial for short ones, standard otherwise.
package router

import (
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Mode is the routing decision for a prompt.
type Mode string

const (
	ModeTrivial  Mode = "trivial"
	ModeStandard Mode = "standard"
	ModeTools    Mode = "tools"
	ModeDeep     Mode = "deep"
)

// Constraints are caller-provided routing hints.
type Constraints struct {
	PreferReasoning bool
	MaxLatencyMs    *int
}

type rawConstraints struct {
	PreferReasoning any `mapstructure:"preferreasoning"`
	MaxLatencyMs    any `mapstructure:"maxlatencyms"`
}

// DecodeConstraints accepts the free-form constraints object from a request
// body. Keys may be camelCase or snake_case; boolean flags may be real
// booleans or string forms ("1", "true", "yes", "on"); the latency budget may
// be a number or a numeric string. Anything unparseable is ignored.
func DecodeConstraints(raw map[string]any) Constraints {
	var c Constraints
	if len(raw) == 0 {
		return c
	}
	folded := make(map[string]any, len(raw))
	for k, v := range raw {
		folded[strings.ReplaceAll(strings.ToLower(k), "_", "")] = v
	}
	var rc rawConstraints
	if err := mapstructure.Decode(folded, &rc); err != nil {
		return c
	}
	c.PreferReasoning = truthy(rc.PreferReasoning)
	if n, ok := asInt(rc.MaxLatencyMs); ok {
		c.MaxLatencyMs = &n
	}
	return c
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		}
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Deep markers include French forms so FR prompts trigger reasoning too.
var deepMarkers = []string{
	"plan", "multi-step", "derive", "prove", "why", "strategy", "chain of thought",
	"plan d'action", "multi-etapes", "multi étapes", "démontrer", "demontrer",
	"prouve", "pourquoi", "stratégie", "strategie", "raisonnement",
	"chaine de raisonnement", "chaîne de raisonnement", "réfléchis", "reflechis",
	"pas à pas", "pas a pas", "analyse détaillée", "explication détaillée",
}

const (
	deepLengthThreshold    = 800
	trivialLengthThreshold = 160
	tightLatencyBudgetMs   = 1500
)

// Route decides the mode for a prompt. Tools mode requires both a resolvable
// toolset and an explicit caller allow-list.
func Route(prompt string, hasTools bool, cons Constraints, allowedTools []string) Mode {
	if hasTools && len(allowedTools) > 0 {
		return ModeTools
	}
	text := strings.ToLower(prompt)
	deep := cons.PreferReasoning || len(prompt) > deepLengthThreshold
	if !deep {
		for _, m := range deepMarkers {
			if strings.Contains(text, m) {
				deep = true
				break
			}
		}
	}
	if deep {
		// A tight latency budget downshifts to standard.
		if cons.MaxLatencyMs != nil && *cons.MaxLatencyMs < tightLatencyBudgetMs {
			return ModeStandard
		}
		return ModeDeep
	}
	if len(prompt) < trivialLengthThreshold {
		return ModeTrivial
	}
	return ModeStandard
}
