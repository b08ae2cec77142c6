// Package analyzer provides semantic-analysis collaborators that turn a raw
// instruction into the structured core.Signal the kernel acts on. Two
// implementations are included: a deterministic keyword classifier and a
// model-backed one. The kernel consumes only the core.Analyzer interface;
// production deployments typically plug their own router behind it.
package analyzer

import (
	"context"
	"strings"

	"github.com/hupe1980/reactmesh/core"
)

// ClassRule maps trigger keywords to a command classification.
type ClassRule struct {
	Class       string
	Keywords    []string
	Risk        core.RiskLevel
	Constraints []string
	// RequiresPlanning forces multi-step planning for the class.
	RequiresPlanning bool
}

// Heuristic is a deterministic keyword-based Analyzer. First matching rule
// wins, in declaration order. An instruction matching no rule and no
// ignore keyword is classified with the default class.
type Heuristic struct {
	rules        []ClassRule
	ignore       []string
	defaultClass string
	defaultRisk  core.RiskLevel
}

// HeuristicOption configures a Heuristic analyzer.
type HeuristicOption func(*Heuristic)

// WithClassRule appends a classification rule.
func WithClassRule(rule ClassRule) HeuristicOption {
	return func(h *Heuristic) { h.rules = append(h.rules, rule) }
}

// WithIgnoreKeywords marks instructions as non-actionable when they contain
// one of the keywords (greetings, acknowledgements).
func WithIgnoreKeywords(keywords ...string) HeuristicOption {
	return func(h *Heuristic) { h.ignore = append(h.ignore, keywords...) }
}

// WithDefaultClass sets the fallback classification.
func WithDefaultClass(class string, risk core.RiskLevel) HeuristicOption {
	return func(h *Heuristic) {
		h.defaultClass = class
		h.defaultRisk = risk
	}
}

// NewHeuristic constructs a keyword analyzer.
func NewHeuristic(opts ...HeuristicOption) *Heuristic {
	h := &Heuristic{defaultClass: "general", defaultRisk: core.RiskLow}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Analyze implements core.Analyzer.
func (h *Heuristic) Analyze(_ context.Context, instruction string) (core.Signal, error) {
	text := strings.ToLower(strings.TrimSpace(instruction))
	if text == "" {
		return core.Signal{Actionable: false}, nil
	}
	for _, kw := range h.ignore {
		if strings.Contains(text, strings.ToLower(kw)) {
			return core.Signal{Actionable: false}, nil
		}
	}

	for _, rule := range h.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return core.Signal{
					Actionable:       true,
					RequiresPlanning: rule.RequiresPlanning,
					RiskLevel:        rule.Risk,
					CommandClass:     rule.Class,
					Constraints:      rule.Constraints,
				}, nil
			}
		}
	}

	return core.Signal{
		Actionable:       true,
		RequiresPlanning: true,
		RiskLevel:        h.defaultRisk,
		CommandClass:     h.defaultClass,
	}, nil
}
