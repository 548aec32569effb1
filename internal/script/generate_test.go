package script

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/sievefold/internal/rules"
	"github.com/solatis/sievefold/internal/types"
)

func moveTo(folder string) []types.Action {
	return []types.Action{{Type: types.ActionMoveTo, Parameters: map[string]string{types.ParamFolder: folder}}}
}

func workRules(t *testing.T) []types.ConsolidatedRule {
	t.Helper()
	cond := func(ct types.ConditionType, v string) types.Condition {
		return types.Condition{Type: ct, Operator: types.OpContains, Value: v}
	}
	in := []types.Rule{
		{Name: "alice", Status: types.StatusEnabled, Priority: 1, Logic: types.LogicAnd,
			Conditions: []types.Condition{cond(types.ConditionSender, "alice")}, Actions: moveTo("Work")},
		{Name: "bob", Status: types.StatusEnabled, Priority: 2, Logic: types.LogicAnd,
			Conditions: []types.Condition{cond(types.ConditionSender, "bob")}, Actions: moveTo("Work")},
		{Name: "carol urgent", Status: types.StatusEnabled, Priority: 3, Logic: types.LogicAnd,
			Conditions: []types.Condition{cond(types.ConditionSender, "carol"), cond(types.ConditionSubject, "urgent")},
			Actions:    moveTo("Work")},
		{Name: "spam", Status: types.StatusEnabled, Priority: 4, Logic: types.LogicAnd,
			Conditions: []types.Condition{{Type: types.ConditionHeader, Operator: types.OpIs, Value: "X-Spam-Flag: YES"}},
			Actions:    []types.Action{{Type: types.ActionDelete}}},
		{Name: "newsletters", Status: types.StatusEnabled, Priority: 5, Logic: types.LogicAnd,
			Conditions: []types.Condition{{Type: types.ConditionSubject, Operator: types.OpStartsWith, Value: "[news*]"}},
			Actions:    []types.Action{{Type: types.ActionMarkRead}, {Type: types.ActionStar}}},
	}
	out, _, err := rules.NewEngine().Consolidate(in)
	if err != nil {
		t.Fatalf("Consolidate() error = %v, want nil", err)
	}
	return out
}

func TestGenerate_Golden(t *testing.T) {
	got, err := Generate(workRules(t))
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}

	want := `require ["fileinto", "imap4flags"];

# BEGIN SIEVEFOLD GENERATED RULES
# spam
if header :is "X-Spam-Flag" "YES" {
    fileinto "trash";
}

# Move to Work (consolidated from 3 rules)
# sources: alice, bob, carol urgent
if anyof (
    address :contains "from" ["alice", "bob"],
    allof (address :contains "from" "carol", header :contains "subject" "urgent")
) {
    fileinto "Work";
}

# newsletters
if header :matches "subject" "[news\\*]*" {
    addflag "\\Seen";
    addflag "\\Flagged";
}
# END SIEVEFOLD GENERATED RULES
`
	if got != want {
		t.Errorf("Generate() mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestGenerate_Empty(t *testing.T) {
	got, err := Generate(nil)
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}
	want := BeginMarker + "\n" + EndMarker + "\n"
	if got != want {
		t.Errorf("Generate(nil) = %q, want %q", got, want)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	in := workRules(t)
	first, err := Generate(in)
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Generate(in)
		if err != nil {
			t.Fatalf("Generate() error = %v, want nil", err)
		}
		if again != first {
			t.Fatalf("Generate() output differs on run %d", i)
		}
	}
}

func TestGenerate_SingleRequireListsEachCapabilityOnce(t *testing.T) {
	got, err := Generate(workRules(t))
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}
	if n := strings.Count(got, "require "); n != 1 {
		t.Errorf("require statements = %d, want 1", n)
	}
	caps := Capabilities(got)
	if len(caps) != 2 || caps[0] != CapFileinto || caps[1] != CapIMAP4Flags {
		t.Errorf("Capabilities() = %v", caps)
	}
}

func TestRenderCondition(t *testing.T) {
	tests := []struct {
		name string
		cond types.Condition
		want string
	}{
		{
			name: "recipient is",
			cond: types.Condition{Type: types.ConditionRecipient, Operator: types.OpIs, Value: "me@example.org"},
			want: `address :is "to" "me@example.org"`,
		},
		{
			name: "ends with escapes wildcards",
			cond: types.Condition{Type: types.ConditionSender, Operator: types.OpEndsWith, Value: "?.example.com"},
			want: `address :matches "from" "*\\?.example.com"`,
		},
		{
			name: "matches keeps wildcards",
			cond: types.Condition{Type: types.ConditionSubject, Operator: types.OpMatches, Value: "build * failed"},
			want: `header :matches "subject" "build * failed"`,
		},
		{
			name: "quotes are escaped",
			cond: types.Condition{Type: types.ConditionSubject, Operator: types.OpContains, Value: `say "hi"`},
			want: `header :contains "subject" "say \"hi\""`,
		},
		{
			name: "attachments has",
			cond: types.Condition{Type: types.ConditionAttachments, Operator: types.OpHas},
			want: `header :contains "Content-Type" "multipart/mixed"`,
		},
		{
			name: "attachment name",
			cond: types.Condition{Type: types.ConditionAttachments, Operator: types.OpContains, Value: ".pdf"},
			want: `header :contains "Content-Disposition" ".pdf"`,
		},
		{
			name: "header value set across headers",
			cond: types.Condition{Type: types.ConditionHeader, Operator: types.OpContains,
				Values: []string{"X-Tag: a", "List-Id: dev", "x-tag: b"}},
			want: `anyof (header :contains "X-Tag" ["a", "b"], header :contains "List-Id" "dev")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderCondition(tt.cond)
			if err != nil {
				t.Fatalf("renderCondition() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("renderCondition() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGenerate_OrGroupAndLabel(t *testing.T) {
	cr := types.ConsolidatedRule{
		Name: "lists",
		ConditionGroups: []types.ConditionGroup{{Logic: types.LogicOr, Conditions: []types.Condition{
			{Type: types.ConditionSender, Operator: types.OpContains, Value: "list"},
			{Type: types.ConditionSubject, Operator: types.OpContains, Value: "digest"},
		}}},
		Actions:         []types.Action{{Type: types.ActionLabel, Parameters: map[string]string{types.ParamLabel: "Lists"}}},
		SourceRuleNames: []string{"lists"},
	}
	got, err := Generate([]types.ConsolidatedRule{cr})
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}
	if !strings.Contains(got, `if anyof (address :contains "from" "list", header :contains "subject" "digest") {`) {
		t.Errorf("OR group not rendered with anyof:\n%s", got)
	}
	if !strings.Contains(got, `fileinto "Lists";`) {
		t.Errorf("label not rendered:\n%s", got)
	}
}

func TestGenerate_Unsupported(t *testing.T) {
	cr := types.ConsolidatedRule{
		Name:            "forward",
		ConditionGroups: []types.ConditionGroup{{Logic: types.LogicAnd, Conditions: []types.Condition{{Type: types.ConditionSender, Operator: types.OpIs, Value: "a"}}}},
		Actions:         []types.Action{{Type: "forward"}},
		SourceRuleNames: []string{"forward"},
	}
	_, err := Generate([]types.ConsolidatedRule{cr})
	var uerr *UnsupportedError
	if !errors.As(err, &uerr) || uerr.Rule != "forward" {
		t.Fatalf("Generate() error = %v, want UnsupportedError for forward", err)
	}
}

func TestGenerate_NameCannotForgeMarker(t *testing.T) {
	cr := types.ConsolidatedRule{
		Name:            "evil\n" + EndMarker,
		ConditionGroups: []types.ConditionGroup{{Logic: types.LogicAnd, Conditions: []types.Condition{{Type: types.ConditionSender, Operator: types.OpIs, Value: "a"}}}},
		Actions:         []types.Action{{Type: types.ActionStar}},
		SourceRuleNames: []string{"evil"},
	}
	got, err := Generate([]types.ConsolidatedRule{cr})
	if err != nil {
		t.Fatalf("Generate() error = %v, want nil", err)
	}
	if _, err := Section(got); err != nil {
		t.Errorf("Section() error = %v, want nil", err)
	}
}

func TestGenerate_DeterministicProperty(t *testing.T) {
	actions := [][]types.Action{
		moveTo("Work"),
		moveTo("Lists"),
		{{Type: types.ActionLabel, Parameters: map[string]string{types.ParamLabel: "news"}}},
		{{Type: types.ActionStar}},
	}
	condTypes := []types.ConditionType{types.ConditionSender, types.ConditionSubject}
	ops := []types.Operator{types.OpContains, types.OpIs}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same rules render the same text", prop.ForAll(
		func(picks []int) bool {
			in := make([]types.Rule, len(picks))
			for i, p := range picks {
				in[i] = types.Rule{
					Name:   fmt.Sprintf("r%d", i),
					Status: types.StatusEnabled,
					Logic:  types.LogicAnd,
					Conditions: []types.Condition{{
						Type:     condTypes[p%len(condTypes)],
						Operator: ops[(p/2)%len(ops)],
						Value:    fmt.Sprintf("v%d", p%7),
					}},
					Actions: actions[(p/4)%len(actions)],
				}
			}
			consolidated, _, err := rules.NewEngine().Consolidate(in)
			if err != nil {
				return false
			}
			first, err := Generate(consolidated)
			if err != nil {
				return false
			}
			second, err := Generate(consolidated)
			if err != nil || first != second {
				return false
			}
			return strings.Count(first, BeginMarker) == 1 && strings.Count(first, "require ") <= 1
		},
		gen.SliceOf(gen.IntRange(0, 63)),
	))

	properties.TestingRun(t)
}
