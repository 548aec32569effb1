// Package diff compares two rule-set states.
//
// Rules are paired by content hash first and by name second. Every rule of
// either side ends up in exactly one entry, and entries are sorted by name so
// that diffs are reproducible.
package diff

import (
	"sort"

	"github.com/solatis/sievefold/internal/identity"
	"github.com/solatis/sievefold/internal/types"
)

// Kind classifies one entry.
type Kind string

const (
	Added        Kind = "added"
	Removed      Kind = "removed"
	StateChanged Kind = "state_changed"
	Modified     Kind = "modified"
	Unchanged    Kind = "unchanged"
)

// Kinds lists every classification in report order.
var Kinds = []Kind{Added, Removed, StateChanged, Modified, Unchanged}

// Entry is the classification of one rule, or of one before/after pair.
type Entry struct {
	Name   string      `json:"name"`
	Kind   Kind        `json:"kind"`
	Before *types.Rule `json:"before,omitempty"`
	After  *types.Rule `json:"after,omitempty"`
}

// Changes lists the fields that differ between Before and After.
func (e Entry) Changes() []string {
	if e.Before == nil || e.After == nil {
		return nil
	}
	var out []string
	b, a := e.Before, e.After
	if b.Status != a.Status {
		out = append(out, "status")
	}
	if b.Priority != a.Priority {
		out = append(out, "priority")
	}
	if b.Logic != a.Logic {
		out = append(out, "logic")
	}
	if identity.Hash(types.Rule{Conditions: b.Conditions}) != identity.Hash(types.Rule{Conditions: a.Conditions}) {
		out = append(out, "conditions")
	}
	if identity.Hash(types.Rule{Actions: b.Actions}) != identity.Hash(types.Rule{Actions: a.Actions}) {
		out = append(out, "actions")
	}
	return out
}

// Compare classifies every rule of before and after. Rules with the same
// content hash pair up as state_changed or unchanged; remaining rules with the
// same name pair up as modified; whatever is left is added or removed.
func Compare(before, after []types.Rule) []Entry {
	beforeByHash := make(map[string]int, len(before))
	for i, r := range before {
		beforeByHash[identity.Hash(r)] = i
	}

	pairedBefore := make([]bool, len(before))
	pairedAfter := make([]bool, len(after))
	var entries []Entry

	for j, r := range after {
		i, ok := beforeByHash[identity.Hash(r)]
		if !ok || pairedBefore[i] {
			continue
		}
		pairedBefore[i], pairedAfter[j] = true, true
		kind := Unchanged
		if before[i].Status != r.Status || before[i].Priority != r.Priority {
			kind = StateChanged
		}
		entries = append(entries, pair(kind, before[i], r))
	}

	beforeByName := make(map[string]int)
	for i, r := range before {
		if !pairedBefore[i] {
			beforeByName[r.Name] = i
		}
	}
	for j, r := range after {
		if pairedAfter[j] {
			continue
		}
		i, ok := beforeByName[r.Name]
		if !ok || pairedBefore[i] {
			continue
		}
		pairedBefore[i], pairedAfter[j] = true, true
		entries = append(entries, pair(Modified, before[i], r))
	}

	for j, r := range after {
		if !pairedAfter[j] {
			a := r.Clone()
			entries = append(entries, Entry{Name: r.Name, Kind: Added, After: &a})
		}
	}
	for i, r := range before {
		if !pairedBefore[i] {
			b := r.Clone()
			entries = append(entries, Entry{Name: r.Name, Kind: Removed, Before: &b})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

func pair(kind Kind, before, after types.Rule) Entry {
	b, a := before.Clone(), after.Clone()
	return Entry{Name: after.Name, Kind: kind, Before: &b, After: &a}
}

// Summary counts entries per kind.
type Summary map[Kind]int

// Summarize counts entries per kind.
func Summarize(entries []Entry) Summary {
	s := make(Summary, len(Kinds))
	for _, e := range entries {
		s[e.Kind]++
	}
	return s
}

// HasChanges reports whether any entry is not unchanged.
func (s Summary) HasChanges() bool {
	for k, n := range s {
		if k != Unchanged && n > 0 {
			return true
		}
	}
	return false
}

// Filter returns the entries of the given kinds, preserving order.
func Filter(entries []Entry, kinds ...Kind) []Entry {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []Entry
	for _, e := range entries {
		if want[e.Kind] {
			out = append(out, e)
		}
	}
	return out
}
