package rules

import (
	"testing"

	"github.com/solatis/sievefold/internal/types"
)

func TestAnalyze(t *testing.T) {
	rules := append(workScenario(),
		senderRule("spam", "spam", 9, []types.Action{{Type: types.ActionDelete}}),
		senderRule("old", "old", 9, moveTo("Work")).WithStatus(types.StatusDisabled),
	)

	a := Analyze(rules)
	if a.Total != 5 {
		t.Errorf("Total = %d, want 5", a.Total)
	}
	if a.ByStatus[types.StatusEnabled] != 4 || a.ByStatus[types.StatusDisabled] != 1 {
		t.Errorf("ByStatus = %v", a.ByStatus)
	}
	if a.ActionDistribution[types.ActionMoveTo] != 4 || a.ActionDistribution[types.ActionDelete] != 1 {
		t.Errorf("ActionDistribution = %v", a.ActionDistribution)
	}
	if a.ConditionDistribution[types.ConditionSender] != 5 || a.ConditionDistribution[types.ConditionSubject] != 1 {
		t.Errorf("ConditionDistribution = %v", a.ConditionDistribution)
	}

	if len(a.Opportunities) != 1 {
		t.Fatalf("len(Opportunities) = %d, want 1", len(a.Opportunities))
	}
	op := a.Opportunities[0]
	if op.Actions != "Move to Work" || len(op.RuleNames) != 3 || op.Mergeable != 1 {
		t.Errorf("Opportunity = %+v", op)
	}
	if a.PotentialReduction != 2 {
		t.Errorf("PotentialReduction = %d, want 2", a.PotentialReduction)
	}
}
