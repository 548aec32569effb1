package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleRecord is a rule as it appears in acquisition files and persisted
// documents. It still accepts the legacy enabled flag; Rule() migrates it.
type RuleRecord struct {
	Name       string      `json:"name" yaml:"name"`
	Enabled    *bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Status     string      `json:"status,omitempty" yaml:"status,omitempty"`
	Priority   int         `json:"priority" yaml:"priority"`
	Logic      string      `json:"logic,omitempty" yaml:"logic,omitempty"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Actions    []Action    `json:"actions" yaml:"actions"`
}

// Rule converts the record into a Rule. Empty logic becomes "and"; the status
// comes from StatusFromLegacy. The result is normalized but not validated.
func (r RuleRecord) Rule() (Rule, error) {
	status, err := StatusFromLegacy(r.Enabled, r.Status)
	if err != nil {
		return Rule{}, &ValidationError{Rule: r.Name, Field: "status", Err: err}
	}
	logic := Logic(r.Logic)
	if logic == "" {
		logic = LogicAnd
	}
	return NormalizeRule(Rule{
		Name:       r.Name,
		Status:     status,
		Priority:   r.Priority,
		Logic:      logic,
		Conditions: r.Conditions,
		Actions:    r.Actions,
	}), nil
}

// RulesFromRecords converts a record list, stopping at the first failure.
func RulesFromRecords(records []RuleRecord) ([]Rule, error) {
	out := make([]Rule, 0, len(records))
	for _, rec := range records {
		r, err := rec.Rule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// NormalizeRule returns a deep copy with empty value sets and parameter maps
// collapsed to nil so that serialization round-trips exactly.
func NormalizeRule(r Rule) Rule {
	out := r.Clone()
	for i := range out.Conditions {
		if len(out.Conditions[i].Values) == 0 {
			out.Conditions[i].Values = nil
		}
	}
	for i := range out.Actions {
		if len(out.Actions[i].Parameters) == 0 {
			out.Actions[i].Parameters = nil
		}
	}
	return out
}

// captureDocument mirrors Capture with legacy-tolerant rule records.
type captureDocument struct {
	Version     string          `json:"version"`
	ID          CaptureID       `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	Metadata    CaptureMetadata `json:"metadata"`
	Rules       []RuleRecord    `json:"rules"`
	SieveScript string          `json:"sieve_script,omitempty"`
	Checksum    string          `json:"checksum"`
}

// EncodeCapture serializes a capture into its persisted document form.
func EncodeCapture(c *Capture) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode capture %s: %w", c.ID, err)
	}
	return data, nil
}

// DecodeCapture parses a persisted capture document. The checksum is not
// verified here; callers decide how to surface a mismatch.
func DecodeCapture(data []byte) (*Capture, error) {
	var doc captureDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	if doc.Version != CaptureFormatVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, doc.Version)
	}
	rules, err := RulesFromRecords(doc.Rules)
	if err != nil {
		return nil, fmt.Errorf("decode capture %s: %w", doc.ID, err)
	}
	c := &Capture{
		Version:     doc.Version,
		ID:          doc.ID,
		CreatedAt:   doc.CreatedAt,
		Metadata:    doc.Metadata,
		Rules:       rules,
		SieveScript: doc.SieveScript,
		Checksum:    doc.Checksum,
	}
	return c, nil
}
