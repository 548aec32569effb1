// Package identity derives stable content identities for rules and integrity
// checksums for captures.
//
// Both digests are SHA-256 over the RFC 8785 (JCS) serialization of the
// relevant fields, so key order and whitespace never leak into the result.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	jsoncanonical "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/solatis/sievefold/internal/types"
)

// ChecksumPrefix tags capture checksums with their algorithm.
const ChecksumPrefix = "sha256:"

// contentFields holds the semantic fields of a rule. Status and priority are
// excluded so lifecycle transitions and reordering keep the identity.
type contentFields struct {
	Name       string           `json:"name"`
	Logic      types.Logic      `json:"logic"`
	Conditions []conditionField `json:"conditions"`
	Actions    []actionField    `json:"actions"`
}

type conditionField struct {
	Type     types.ConditionType `json:"type"`
	Operator types.Operator      `json:"operator"`
	Value    string              `json:"value"`
	Values   []string            `json:"values,omitempty"`
}

type actionField struct {
	Type       types.ActionType  `json:"type"`
	Parameters map[string]string `json:"parameters"`
}

// Hash returns the hex-encoded content hash of a rule. Conditions and actions
// are serialized in their original sequence; action parameter keys are
// ordered by JCS.
func Hash(r types.Rule) string {
	f := contentFields{
		Name:       r.Name,
		Logic:      r.Logic,
		Conditions: make([]conditionField, len(r.Conditions)),
		Actions:    make([]actionField, len(r.Actions)),
	}
	for i, c := range r.Conditions {
		f.Conditions[i] = conditionField{Type: c.Type, Operator: c.Operator, Value: c.Value, Values: c.Values}
	}
	for i, a := range r.Actions {
		params := a.Parameters
		// Nil maps → empty maps so JCS produces "{}" not "null".
		if params == nil {
			params = map[string]string{}
		}
		f.Actions[i] = actionField{Type: a.Type, Parameters: params}
	}
	return digest(f)
}

// Checksum returns the "sha256:"-prefixed digest of a serialized rule list,
// covering every field including status and priority.
func Checksum(rules []types.Rule) string {
	if rules == nil {
		rules = []types.Rule{}
	}
	return ChecksumPrefix + digest(rules)
}

// HashAll maps each rule name to its content hash.
func HashAll(rules []types.Rule) map[string]string {
	out := make(map[string]string, len(rules))
	for _, r := range rules {
		out[r.Name] = Hash(r)
	}
	return out
}

func digest(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// json.Marshal on strings, ints and string maps never fails.
		panic(fmt.Sprintf("identity: marshal: %v", err))
	}

	jcs, err := jsoncanonical.Transform(raw)
	if err != nil {
		// JCS transform fails only on invalid JSON, which cannot happen here.
		panic(fmt.Sprintf("identity: JCS transform: %v", err))
	}

	sum := sha256.Sum256(jcs)
	return hex.EncodeToString(sum[:])
}
