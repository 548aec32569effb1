package rules

import (
	"sort"

	"github.com/solatis/sievefold/internal/types"
)

// Opportunity is a set of enabled rules sharing one action list.
type Opportunity struct {
	Actions   string   `json:"actions"`
	RuleNames []string `json:"rule_names"`
	// Mergeable counts the single-condition rules whose conditions would
	// collapse into another rule's value set.
	Mergeable int `json:"mergeable"`
}

// Analysis describes a rule list before consolidation.
type Analysis struct {
	Total                 int                         `json:"total"`
	ByStatus              map[types.Status]int        `json:"by_status"`
	ActionDistribution    map[types.ActionType]int    `json:"action_distribution"`
	ConditionDistribution map[types.ConditionType]int `json:"condition_distribution"`
	Opportunities         []Opportunity               `json:"opportunities"`
	PotentialReduction    int                         `json:"potential_reduction"`
}

// Analyze reports distributions over all rules and consolidation
// opportunities among the enabled ones.
func Analyze(rules []types.Rule) Analysis {
	a := Analysis{
		Total:                 len(rules),
		ByStatus:              make(map[types.Status]int),
		ActionDistribution:    make(map[types.ActionType]int),
		ConditionDistribution: make(map[types.ConditionType]int),
	}

	var enabled []types.Rule
	for _, r := range rules {
		a.ByStatus[r.Status]++
		for _, act := range r.Actions {
			a.ActionDistribution[act.Type]++
		}
		for _, c := range r.Conditions {
			a.ConditionDistribution[c.Type]++
		}
		if r.Status == types.StatusEnabled {
			enabled = append(enabled, r)
		}
	}

	for _, cr := range GroupByAction(enabled) {
		if cr.SourceRuleCount() < 2 {
			continue
		}
		merged := mergeGroups(cr)
		a.Opportunities = append(a.Opportunities, Opportunity{
			Actions:   types.DescribeActions(cr.Actions),
			RuleNames: cr.SourceRuleNames,
			Mergeable: len(cr.ConditionGroups) - len(merged.ConditionGroups),
		})
		a.PotentialReduction += cr.SourceRuleCount() - 1
	}

	sort.SliceStable(a.Opportunities, func(i, j int) bool {
		ni, nj := len(a.Opportunities[i].RuleNames), len(a.Opportunities[j].RuleNames)
		if ni != nj {
			return ni > nj
		}
		return a.Opportunities[i].Actions < a.Opportunities[j].Actions
	})
	return a
}
