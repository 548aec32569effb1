package rules

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/sievefold/internal/types"
)

var (
	vocabulary = []string{"alice", "bob", "carol", "urgent", "invoice", "dev", "a*e", "report"}

	actionChoices = [][]types.Action{
		moveTo("Work"),
		moveTo("Home"),
		{{Type: types.ActionLabel, Parameters: map[string]string{types.ParamLabel: "News"}}},
		{{Type: types.ActionMarkRead}},
		{{Type: types.ActionDelete}},
		{moveTo("Work")[0], {Type: types.ActionMarkRead}},
	}

	conditionTypes = []types.ConditionType{
		types.ConditionSender, types.ConditionRecipient, types.ConditionSubject,
		types.ConditionHeader, types.ConditionAttachments,
	}

	valueOperators = []types.Operator{
		types.OpContains, types.OpIs, types.OpMatches, types.OpStartsWith, types.OpEndsWith,
	}
)

func pick[T any](rng *rand.Rand, from []T) T {
	return from[rng.Intn(len(from))]
}

func randomCondition(rng *rand.Rand) types.Condition {
	ct := pick(rng, conditionTypes)
	if ct == types.ConditionAttachments && rng.Intn(2) == 0 {
		return types.Condition{Type: ct, Operator: types.OpHas}
	}
	value := pick(rng, vocabulary)
	if ct == types.ConditionHeader {
		value = pick(rng, []string{"X-Tag", "List-Id"}) + ": " + value
	}
	return types.Condition{Type: ct, Operator: pick(rng, valueOperators), Value: value}
}

func randomRules(rng *rand.Rand, n int) []types.Rule {
	rules := make([]types.Rule, n)
	for i := range rules {
		conds := make([]types.Condition, 1+rng.Intn(3))
		for j := range conds {
			conds[j] = randomCondition(rng)
		}
		logic := types.LogicAnd
		if rng.Intn(3) == 0 {
			logic = types.LogicOr
		}
		rules[i] = types.Rule{
			Name:       fmt.Sprintf("rule-%d", i),
			Status:     types.StatusEnabled,
			Priority:   rng.Intn(5),
			Logic:      logic,
			Conditions: conds,
			Actions:    types.CloneActions(pick(rng, actionChoices)),
		}
	}
	return rules
}

func randomMessage(rng *rand.Rand) Message {
	word := func() string { return pick(rng, vocabulary) }
	m := Message{
		From:    []string{word() + "@example.com"},
		To:      []string{word() + "@example.org"},
		Subject: word() + " " + word(),
		Headers: map[string][]string{},
	}
	if rng.Intn(2) == 0 {
		m.Headers[pick(rng, []string{"X-Tag", "List-Id"})] = []string{word()}
	}
	if rng.Intn(2) == 0 {
		m.Attachments = []string{word() + ".pdf"}
	}
	return m
}

func TestConsolidate_MatchingEquivalence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("consolidated rules match exactly what their sources match", prop.ForAll(
		func(seed int64, n int) bool {
			rng := rand.New(rand.NewSource(seed))
			rules := randomRules(rng, n)
			byName := make(map[string]types.Rule, len(rules))
			for _, r := range rules {
				byName[r.Name] = r
			}

			out, report, err := NewEngine().Consolidate(rules)
			if err != nil {
				return false
			}
			if report.ConsolidatedCount > report.EnabledCount {
				return false
			}

			covered := 0
			for _, cr := range out {
				covered += cr.SourceRuleCount()
			}
			if covered != len(rules) {
				return false
			}

			for k := 0; k < 30; k++ {
				msg := randomMessage(rng)
				for _, cr := range out {
					want := false
					for _, name := range cr.SourceRuleNames {
						if MatchRule(byName[name], msg) {
							want = true
							break
						}
					}
					if (MatchConsolidated(cr, msg) >= 0) != want {
						return false
					}
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(0, 25),
	))

	properties.Property("consolidation is deterministic", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			rules := randomRules(rng, 15)
			a, _, errA := NewEngine().Consolidate(rules)
			b, _, errB := NewEngine().Consolidate(rules)
			if errA != nil || errB != nil || len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i].String() != b[i].String() {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
