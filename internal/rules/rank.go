// internal/rules/rank.go
package rules

import (
	"sort"

	"github.com/solatis/sievefold/internal/types"
)

/*
 * Action ranking for the optimize-ordering pass.
 *
 * Destructive and terminal actions run first so that later, broader rules
 * cannot shadow them. A rule ranks by its most urgent action.
 *
 * Sort key: rank ascending, then source rule count descending, then name
 * ascending. The key is total, so the output order never depends on input
 * order.
 */

// Canonical action ranks; lower runs earlier.
const (
	RankDelete   = 0
	RankArchive  = 1
	RankMoveTo   = 2
	RankLabel    = 3
	RankMarkRead = 4
	RankStar     = 5

	// RankUnknown places unranked action types last.
	RankUnknown = 10
)

var actionRanks = map[types.ActionType]int{
	types.ActionDelete:   RankDelete,
	types.ActionArchive:  RankArchive,
	types.ActionMoveTo:   RankMoveTo,
	types.ActionLabel:    RankLabel,
	types.ActionMarkRead: RankMarkRead,
	types.ActionStar:     RankStar,
}

// ActionRank returns the lowest rank among the actions.
func ActionRank(actions []types.Action) int {
	best := RankUnknown
	for _, a := range actions {
		r, ok := actionRanks[a.Type]
		if !ok {
			r = RankUnknown
		}
		if r < best {
			best = r
		}
	}
	return best
}

// OptimizeOrdering is the optimize-ordering pass.
type OptimizeOrdering struct{}

// Name implements Pass.
func (OptimizeOrdering) Name() string { return "optimize-ordering" }

// Apply implements Pass.
func (OptimizeOrdering) Apply(in []types.ConsolidatedRule) []types.ConsolidatedRule {
	out := append([]types.ConsolidatedRule(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := ActionRank(out[i].Actions), ActionRank(out[j].Actions)
		if ri != rj {
			return ri < rj
		}
		ci, cj := out[i].SourceRuleCount(), out[j].SourceRuleCount()
		if ci != cj {
			return ci > cj
		}
		return out[i].Name < out[j].Name
	})
	return out
}
