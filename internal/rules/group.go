// internal/rules/group.go
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/solatis/sievefold/internal/types"
)

/*
 * Group-by-action lift.
 *
 * Turns []types.Rule into []types.ConsolidatedRule: rules whose action lists
 * are structurally identical share one output rule, each contributing its
 * conditions as one intact ConditionGroup.
 *
 * Structural identity: same action types in the same order with the same
 * parameters. Order matters because the generated script executes actions in
 * sequence.
 *
 * Output order: consolidated rules appear in the order their first source rule
 * was seen; condition groups within one rule follow input order, which the
 * engine has already sorted by priority.
 */

// GroupByAction merges rules with identical actions. Input must be valid.
func GroupByAction(rules []types.Rule) []types.ConsolidatedRule {
	index := make(map[string]int)
	var out []types.ConsolidatedRule

	for _, r := range rules {
		group := types.ConditionGroup{
			Logic:      r.Logic,
			Conditions: types.CloneConditions(r.Conditions),
		}

		key := ActionKey(r.Actions)
		if i, ok := index[key]; ok {
			out[i].ConditionGroups = append(out[i].ConditionGroups, group)
			out[i].SourceRuleNames = append(out[i].SourceRuleNames, r.Name)
			continue
		}

		index[key] = len(out)
		out = append(out, types.ConsolidatedRule{
			Name:            r.Name,
			ConditionGroups: []types.ConditionGroup{group},
			Actions:         types.CloneActions(r.Actions),
			SourceRuleNames: []string{r.Name},
		})
	}

	for i := range out {
		if n := out[i].SourceRuleCount(); n > 1 {
			out[i].Name = ConsolidatedName(out[i].Actions, n)
		}
	}
	return out
}

// ActionKey canonicalizes an action list: "type|k=v;k=v" per action with
// sorted parameter keys, joined in list order.
func ActionKey(actions []types.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		params := make([]string, len(keys))
		for j, k := range keys {
			params[j] = fmt.Sprintf("%q=%q", k, a.Parameters[k])
		}
		parts[i] = string(a.Type) + "|" + strings.Join(params, ";")
	}
	return strings.Join(parts, " && ")
}

// ConsolidatedName names a rule built from several sources.
func ConsolidatedName(actions []types.Action, sources int) string {
	return fmt.Sprintf("%s (consolidated from %d rules)", types.DescribeActions(actions), sources)
}
