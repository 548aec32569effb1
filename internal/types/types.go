// Package types provides domain models shared across sievefold components.
//
// Rules, consolidated rules, captures, archive entries and manifests live here
// so that the engine, the generator, the diff engine, the store and the
// snapshot manager agree on one representation without importing each other.
// ids.go imports uuid; validate.go imports the validator; everything else is
// standard library only.
package types

import "fmt"

// Status is the four-state lifecycle of a rule.
type Status string

const (
	StatusEnabled    Status = "enabled"
	StatusDisabled   Status = "disabled"
	StatusArchived   Status = "archived"
	StatusDeprecated Status = "deprecated"
)

// Statuses lists every recognized lifecycle state.
var Statuses = []Status{StatusEnabled, StatusDisabled, StatusArchived, StatusDeprecated}

// ParseStatus converts a string to Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: status %q", ErrUnknownValue, s)
}

// StatusFromLegacy migrates the legacy two-state enabled flag into the
// four-state lifecycle. An explicit status always wins over the flag; a record
// carrying neither is enabled.
func StatusFromLegacy(enabled *bool, status string) (Status, error) {
	if status != "" {
		return ParseStatus(status)
	}
	if enabled != nil && !*enabled {
		return StatusDisabled, nil
	}
	return StatusEnabled, nil
}

// Logic combines the conditions of one rule.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// ConditionType names the message attribute a condition inspects.
type ConditionType string

const (
	ConditionSender      ConditionType = "sender"
	ConditionRecipient   ConditionType = "recipient"
	ConditionSubject     ConditionType = "subject"
	ConditionAttachments ConditionType = "attachments"
	ConditionHeader      ConditionType = "header"
)

// Operator is the comparison applied by a condition.
type Operator string

const (
	OpContains   Operator = "contains"
	OpIs         Operator = "is"
	OpMatches    Operator = "matches"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpHas        Operator = "has"
)

// ActionType is what a rule does to a matching message.
type ActionType string

const (
	ActionMoveTo   ActionType = "move_to"
	ActionLabel    ActionType = "label"
	ActionMarkRead ActionType = "mark_read"
	ActionStar     ActionType = "star"
	ActionArchive  ActionType = "archive"
	ActionDelete   ActionType = "delete"
)

// Action parameter keys.
const (
	ParamFolder = "folder"
	ParamLabel  = "label"
)
