// internal/rules/fields.go
package rules

import (
	"strings"

	"github.com/solatis/sievefold/internal/types"
)

/*
 * Message field resolution.
 *
 * Maps a condition type onto the message values it inspects. Header lookups
 * are case-insensitive, as header names are in mail. A missing field resolves
 * to no values, so the condition cannot match.
 */

// Message is the part of a mail message that rule conditions inspect.
type Message struct {
	From        []string            `json:"from" yaml:"from"`
	To          []string            `json:"to" yaml:"to"`
	Subject     string              `json:"subject" yaml:"subject"`
	Headers     map[string][]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Attachments []string            `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// Header returns every value of a header, matching the name case-insensitively.
func (m Message) Header(name string) []string {
	var out []string
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			out = append(out, v...)
		}
	}
	return out
}

// resolve returns the message values a condition compares against. For
// header conditions the pattern carries the header name and is rewritten to
// the bare pattern.
func resolve(t types.ConditionType, pattern string, m Message) (values []string, bare string) {
	switch t {
	case types.ConditionSender:
		return m.From, pattern
	case types.ConditionRecipient:
		return m.To, pattern
	case types.ConditionSubject:
		return []string{m.Subject}, pattern
	case types.ConditionAttachments:
		return m.Attachments, pattern
	case types.ConditionHeader:
		name, p, ok := types.HeaderName(pattern)
		if !ok {
			return nil, pattern
		}
		return m.Header(name), p
	}
	return nil, pattern
}
