// internal/types/rules.go
package types

import (
	"fmt"
	"strings"
)

/*
 * Domain types for rule consolidation.
 *
 * Provides Rule, Condition, Action, ConditionGroup and ConsolidatedRule, the
 * shapes consumed by internal/rules (consolidation), internal/script
 * (generation) and internal/diff (comparison).
 *
 * Key types:
 *   - Rule: one filter as captured from the mail provider
 *   - ConditionGroup: the conditions of exactly one source rule, never split
 *   - ConsolidatedRule: OR of condition groups sharing one action list
 *
 * Rules are values. Lifecycle changes go through WithStatus, which returns a
 * copy; nothing mutates a rule held by a capture.
 */

// Condition is a single comparison against a message attribute.
// Values holds the value set of a merged multi-value condition; when it is
// empty the condition matches against Value alone.
type Condition struct {
	Type     ConditionType `json:"type" yaml:"type" validate:"required,oneof=sender recipient subject attachments header"`
	Operator Operator      `json:"operator" yaml:"operator" validate:"required,oneof=contains is matches starts_with ends_with has"`
	Value    string        `json:"value" yaml:"value"`
	Values   []string      `json:"values,omitempty" yaml:"values,omitempty"`
}

// Patterns returns every value the condition matches against.
func (c Condition) Patterns() []string {
	if len(c.Values) > 0 {
		return c.Values
	}
	return []string{c.Value}
}

// HeaderName splits a header condition value of the form "Name: pattern".
// Returns the trimmed header name and the pattern; ok is false when the value
// carries no colon.
func HeaderName(value string) (name, pattern string, ok bool) {
	idx := strings.IndexByte(value, ':')
	if idx <= 0 {
		return "", value, false
	}
	return strings.TrimSpace(value[:idx]), strings.TrimSpace(value[idx+1:]), true
}

// Action is one effect applied to a matching message.
type Action struct {
	Type       ActionType        `json:"type" yaml:"type" validate:"required,oneof=move_to label mark_read star archive delete"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Target returns the folder or label an action files into, if any.
func (a Action) Target() string {
	switch a.Type {
	case ActionMoveTo:
		return a.Parameters[ParamFolder]
	case ActionLabel:
		if l := a.Parameters[ParamLabel]; l != "" {
			return l
		}
		return a.Parameters[ParamFolder]
	}
	return ""
}

// Describe renders the action for display and consolidated rule names.
func (a Action) Describe() string {
	switch a.Type {
	case ActionMoveTo:
		return "Move to " + a.Target()
	case ActionLabel:
		return "Label " + a.Target()
	case ActionMarkRead:
		return "Mark as read"
	case ActionStar:
		return "Star"
	case ActionArchive:
		return "Archive"
	case ActionDelete:
		return "Delete"
	}
	return string(a.Type)
}

// Rule represents one filter as captured from the mail provider.
type Rule struct {
	Name       string      `json:"name" yaml:"name" validate:"required"`
	Status     Status      `json:"status" yaml:"status" validate:"required,oneof=enabled disabled archived deprecated"`
	Priority   int         `json:"priority" yaml:"priority"`
	Logic      Logic       `json:"logic" yaml:"logic" validate:"required,oneof=and or"`
	Conditions []Condition `json:"conditions" yaml:"conditions" validate:"required,min=1,dive"`
	Actions    []Action    `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	out := r
	out.Conditions = CloneConditions(r.Conditions)
	out.Actions = CloneActions(r.Actions)
	return out
}

// WithStatus returns a copy of the rule carrying the given status.
func (r Rule) WithStatus(s Status) Rule {
	out := r.Clone()
	out.Status = s
	return out
}

// DescribeActions joins the action descriptions with " + ".
func DescribeActions(actions []Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = a.Describe()
	}
	return strings.Join(parts, " + ")
}

// ConditionGroup holds the conditions of exactly one source rule.
type ConditionGroup struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// ConsolidatedRule is the unit of generator output: the OR of its condition
// groups triggers its actions.
type ConsolidatedRule struct {
	Name            string           `json:"name"`
	ConditionGroups []ConditionGroup `json:"condition_groups"`
	Actions         []Action         `json:"actions"`
	SourceRuleNames []string         `json:"source_rule_names"`
}

// SourceRuleCount is the number of rules folded into this one.
func (c ConsolidatedRule) SourceRuleCount() int {
	return len(c.SourceRuleNames)
}

// String implements fmt.Stringer.
func (c ConsolidatedRule) String() string {
	return fmt.Sprintf("%s [%d groups, %d sources]", c.Name, len(c.ConditionGroups), c.SourceRuleCount())
}

// CloneConditions returns a deep copy of a condition list.
func CloneConditions(in []Condition) []Condition {
	if in == nil {
		return nil
	}
	out := make([]Condition, len(in))
	for i, c := range in {
		out[i] = c
		if c.Values != nil {
			out[i].Values = append([]string(nil), c.Values...)
		}
	}
	return out
}

// CloneActions returns a deep copy of an action list.
func CloneActions(in []Action) []Action {
	if in == nil {
		return nil
	}
	out := make([]Action, len(in))
	for i, a := range in {
		out[i] = Action{Type: a.Type}
		if a.Parameters != nil {
			out[i].Parameters = make(map[string]string, len(a.Parameters))
			for k, v := range a.Parameters {
				out[i].Parameters[k] = v
			}
		}
	}
	return out
}
