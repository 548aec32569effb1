// internal/rules/merge.go
package rules

import (
	"strings"

	"github.com/solatis/sievefold/internal/types"
)

/*
 * Merge-conditions pass.
 *
 * Within one ConsolidatedRule, condition groups holding exactly one condition
 * with the same type and operator collapse into one multi-value condition.
 * The groups are OR'd, so OR-ing their values inside one condition matches
 * the same messages.
 *
 * Groups with two or more conditions are never touched: folding
 * "sender=A AND subject=urgent" with "sender=B" into a shared value set would
 * demand "urgent" from B.
 *
 * Header conditions also key on the header name, since "X-Spam: yes" and
 * "List-Id: dev" test different headers.
 *
 * A merged group keeps the position of the first group with its key; the
 * pass is idempotent.
 */

// MergeConditions is the merge-conditions pass.
type MergeConditions struct{}

// Name implements Pass.
func (MergeConditions) Name() string { return "merge-conditions" }

// Apply implements Pass.
func (MergeConditions) Apply(in []types.ConsolidatedRule) []types.ConsolidatedRule {
	out := make([]types.ConsolidatedRule, len(in))
	for i, cr := range in {
		out[i] = mergeGroups(cr)
	}
	return out
}

func mergeGroups(cr types.ConsolidatedRule) types.ConsolidatedRule {
	groups := make([]types.ConditionGroup, 0, len(cr.ConditionGroups))
	merged := make(map[string]int)

	for _, g := range cr.ConditionGroups {
		copied := types.ConditionGroup{Logic: g.Logic, Conditions: types.CloneConditions(g.Conditions)}
		if len(g.Conditions) != 1 {
			groups = append(groups, copied)
			continue
		}

		key := mergeKey(g.Conditions[0])
		idx, ok := merged[key]
		if !ok {
			merged[key] = len(groups)
			groups = append(groups, copied)
			continue
		}

		target := &groups[idx].Conditions[0]
		values := appendUnique(append([]string(nil), target.Patterns()...), g.Conditions[0].Patterns()...)
		if len(values) > 1 {
			target.Values = values
			target.Value = ""
		}
	}

	cr.ConditionGroups = groups
	cr.Actions = types.CloneActions(cr.Actions)
	cr.SourceRuleNames = append([]string(nil), cr.SourceRuleNames...)
	return cr
}

func mergeKey(c types.Condition) string {
	key := string(c.Type) + "|" + string(c.Operator)
	if c.Type == types.ConditionHeader {
		name, _, _ := types.HeaderName(c.Patterns()[0])
		key += "|" + strings.ToLower(name)
	}
	return key
}

// appendUnique appends values not already present, preserving order.
func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst)+len(values))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}
