// internal/rules/evaluate.go
package rules

import (
	"github.com/solatis/sievefold/internal/types"
)

/*
 * Rule evaluation against a message.
 *
 * Mirrors the semantics the generated script has on the server:
 *   - a condition with several patterns matches when any pattern matches
 *     any resolved value
 *   - a condition group combines its conditions with its logic
 *   - a consolidated rule matches when any of its groups matches
 *
 * Used to explain which rules fire for a sample message and to check that
 * consolidation leaves matching unchanged.
 */

// MatchResult records one rule that fired.
type MatchResult struct {
	Name       string
	GroupIndex int // first matching condition group
	Actions    []types.Action
}

// MatchCondition reports whether a single condition matches the message.
func MatchCondition(c types.Condition, m Message) bool {
	if c.Operator == types.OpHas {
		return c.Type == types.ConditionAttachments && len(m.Attachments) > 0
	}
	for _, pattern := range c.Patterns() {
		values, bare := resolve(c.Type, pattern, m)
		for _, v := range values {
			if Compare(c.Operator, v, bare) {
				return true
			}
		}
	}
	return false
}

// MatchGroup evaluates a condition group. Short-circuits in both modes.
func MatchGroup(g types.ConditionGroup, m Message) bool {
	if g.Logic == types.LogicOr {
		for _, c := range g.Conditions {
			if MatchCondition(c, m) {
				return true
			}
		}
		return false
	}
	for _, c := range g.Conditions {
		if !MatchCondition(c, m) {
			return false
		}
	}
	return len(g.Conditions) > 0
}

// MatchRule evaluates a captured rule.
func MatchRule(r types.Rule, m Message) bool {
	return MatchGroup(types.ConditionGroup{Logic: r.Logic, Conditions: r.Conditions}, m)
}

// MatchConsolidated evaluates a consolidated rule and returns the index of
// the first matching group, or -1.
func MatchConsolidated(cr types.ConsolidatedRule, m Message) int {
	for i, g := range cr.ConditionGroups {
		if MatchGroup(g, m) {
			return i
		}
	}
	return -1
}

// Explain returns every consolidated rule that fires for the message, in
// script order.
func Explain(rules []types.ConsolidatedRule, m Message) []MatchResult {
	var out []MatchResult
	for _, cr := range rules {
		if idx := MatchConsolidated(cr, m); idx >= 0 {
			out = append(out, MatchResult{Name: cr.Name, GroupIndex: idx, Actions: cr.Actions})
		}
	}
	return out
}

// ExplainRules returns every captured rule that fires for the message, in
// input order. Status is not considered.
func ExplainRules(rules []types.Rule, m Message) []MatchResult {
	var out []MatchResult
	for _, r := range rules {
		if MatchRule(r, m) {
			out = append(out, MatchResult{Name: r.Name, Actions: r.Actions})
		}
	}
	return out
}
