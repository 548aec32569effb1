package snapshot

import (
	"context"

	"github.com/solatis/sievefold/internal/diff"
	"github.com/solatis/sievefold/internal/identity"
	"github.com/solatis/sievefold/internal/types"
)

// Diff compares the effective views of two captures. Deprecated rules and
// archive-only rules are left out of both sides.
func (m *Manager) Diff(ctx context.Context, before, after types.CaptureID) ([]diff.Entry, error) {
	bv, err := m.View(ctx, before)
	if err != nil {
		return nil, err
	}
	av, err := m.View(ctx, after)
	if err != nil {
		return nil, err
	}
	return diff.Compare(diffable(bv.Rules, nil), diffable(av.Rules, nil)), nil
}

// DiffRules compares a capture against a freshly acquired rule list. Rules
// the capture's archive deprecates are left out of the fresh side too.
func (m *Manager) DiffRules(ctx context.Context, before types.CaptureID, after []types.Rule) ([]diff.Entry, error) {
	bv, err := m.View(ctx, before)
	if err != nil {
		return nil, err
	}

	deprecated := make(map[string]bool)
	for h, e := range foldArchive(bv.Archive).latest {
		if e.Status == types.StatusDeprecated {
			deprecated[h] = true
		}
	}

	fresh := make([]types.Rule, len(after))
	for i, r := range after {
		fresh[i] = types.NormalizeRule(r)
	}
	return diff.Compare(diffable(bv.Rules, nil), diffable(fresh, deprecated)), nil
}

func diffable(rs []types.Rule, deprecated map[string]bool) []types.Rule {
	out := make([]types.Rule, 0, len(rs))
	for _, r := range rs {
		if r.Status == types.StatusDeprecated || deprecated[identity.Hash(r)] {
			continue
		}
		out = append(out, r)
	}
	return out
}
