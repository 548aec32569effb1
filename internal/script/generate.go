// Package script renders consolidated rules as a Sieve script and merges the
// generated section into a user's existing script.
package script

import (
	"fmt"
	"sort"
	"strings"

	"github.com/solatis/sievefold/internal/types"
)

// Section markers wrapping the generated rules.
const (
	BeginMarker = "# BEGIN SIEVEFOLD GENERATED RULES"
	EndMarker   = "# END SIEVEFOLD GENERATED RULES"

	// markerTag identifies lines that look like markers.
	markerTag = "SIEVEFOLD GENERATED RULES"
)

const indent = "    "

// UnsupportedError reports a condition or action with no table entry.
type UnsupportedError struct {
	Rule string
	What string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("rule %q: no script mapping for %s", e.Rule, e.What)
}

// Generate renders rules as a complete script: one require statement listing
// every needed capability in sorted order, then the marked section holding one
// control block per rule. Identical input yields identical output.
func Generate(rules []types.ConsolidatedRule) (string, error) {
	caps := make(map[string]bool)
	blocks := make([]string, 0, len(rules))
	for _, cr := range rules {
		block, err := renderRule(cr, caps)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, block)
	}

	var b strings.Builder
	if len(caps) > 0 {
		b.WriteString(requireStatement(sortedKeys(caps)))
		b.WriteString("\n\n")
	}
	b.WriteString(BeginMarker)
	b.WriteString("\n")
	b.WriteString(strings.Join(blocks, "\n"))
	b.WriteString(EndMarker)
	b.WriteString("\n")
	return b.String(), nil
}

func renderRule(cr types.ConsolidatedRule, caps map[string]bool) (string, error) {
	groups := make([]string, 0, len(cr.ConditionGroups))
	for _, g := range cr.ConditionGroups {
		test, err := renderGroup(cr.Name, g)
		if err != nil {
			return "", err
		}
		groups = append(groups, test)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", commentText(cr.Name))
	if cr.SourceRuleCount() > 1 {
		fmt.Fprintf(&b, "# sources: %s\n", commentText(strings.Join(cr.SourceRuleNames, ", ")))
	}

	switch len(groups) {
	case 0:
		// Never produced by the engine; render a rule that cannot fire.
		b.WriteString("if false {\n")
	case 1:
		fmt.Fprintf(&b, "if %s {\n", groups[0])
	default:
		b.WriteString("if anyof (\n")
		for i, g := range groups {
			b.WriteString(indent + g)
			if i < len(groups)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(") {\n")
	}

	for _, a := range cr.Actions {
		stmt, capability, err := renderAction(a)
		if err != nil {
			return "", &UnsupportedError{Rule: cr.Name, What: err.Error()}
		}
		caps[capability] = true
		b.WriteString(indent + stmt + "\n")
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func renderGroup(rule string, g types.ConditionGroup) (string, error) {
	tests := make([]string, 0, len(g.Conditions))
	for _, c := range g.Conditions {
		test, err := renderCondition(c)
		if err != nil {
			return "", &UnsupportedError{Rule: rule, What: err.Error()}
		}
		tests = append(tests, test)
	}
	if len(tests) == 1 {
		return tests[0], nil
	}
	combinator := "allof"
	if g.Logic == types.LogicOr {
		combinator = "anyof"
	}
	return combinator + " (" + strings.Join(tests, ", ") + ")", nil
}

// renderCondition renders one condition; a multi-value condition becomes one
// test against a string list. Header conditions whose values name different
// headers become one test per header joined by anyof.
func renderCondition(c types.Condition) (string, error) {
	syntax, ok := conditionTable[conditionKey{c.Type, c.Operator}]
	if !ok {
		return "", fmt.Errorf("condition %s %s", c.Type, c.Operator)
	}
	if syntax.Presence != "" {
		return syntax.Presence, nil
	}

	type target struct {
		header   string
		patterns []string
	}
	var targets []*target
	byHeader := make(map[string]*target)

	for _, p := range c.Patterns() {
		header, pattern := syntax.Header, p
		if header == "" {
			name, rest, ok := types.HeaderName(p)
			if !ok {
				return "", fmt.Errorf("header condition %q without header name", p)
			}
			header, pattern = name, rest
		}
		key := strings.ToLower(header)
		t, seen := byHeader[key]
		if !seen {
			t = &target{header: header}
			byHeader[key] = t
			targets = append(targets, t)
		}
		t.patterns = append(t.patterns, matchValue(syntax.Match, pattern))
	}

	tests := make([]string, len(targets))
	for i, t := range targets {
		tests[i] = fmt.Sprintf("%s %s %s %s", syntax.Command, syntax.Match.Tag, quote(t.header), stringList(t.patterns))
	}
	if len(tests) == 1 {
		return tests[0], nil
	}
	return "anyof (" + strings.Join(tests, ", ") + ")", nil
}

func renderAction(a types.Action) (stmt, capability string, err error) {
	syntax, ok := actionTable[a.Type]
	if !ok {
		return "", "", fmt.Errorf("action %s", a.Type)
	}
	arg := syntax.Literal
	if syntax.Target {
		arg = a.Target()
	}
	return fmt.Sprintf("%s %s;", syntax.Command, quote(arg)), syntax.Capability, nil
}

// matchValue applies wildcard wrapping. Escaped values have their own
// wildcards neutralized so starts_with "a*" stays literal.
func matchValue(m matchSyntax, v string) string {
	if m.Escape {
		v = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`).Replace(v)
	}
	return m.Prefix + v + m.Suffix
}

// quote renders a Sieve quoted string.
func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func stringList(values []string) string {
	if len(values) == 1 {
		return quote(values[0])
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func requireStatement(caps []string) string {
	quoted := make([]string, len(caps))
	for i, c := range caps {
		quoted[i] = quote(c)
	}
	return "require [" + strings.Join(quoted, ", ") + "];"
}

// commentText keeps a name on one comment line that cannot be mistaken for
// a section marker.
func commentText(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	return strings.ReplaceAll(s, markerTag, strings.ToLower(markerTag))
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
