package snapshot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/solatis/sievefold/internal/identity"
	"github.com/solatis/sievefold/internal/types"
)

// Archive returns the archive log of a capture in append order.
func (m *Manager) Archive(ctx context.Context, id types.CaptureID) ([]types.ArchiveEntry, error) {
	return m.store.ArchiveLog(ctx, id)
}

// archiveState is an archive log folded to the latest entry per content
// hash. order keeps first appearance.
type archiveState struct {
	order  []string
	latest map[string]types.ArchiveEntry
}

func foldArchive(log []types.ArchiveEntry) archiveState {
	s := archiveState{latest: make(map[string]types.ArchiveEntry, len(log))}
	for _, e := range log {
		if _, ok := s.latest[e.ContentHash]; !ok {
			s.order = append(s.order, e.ContentHash)
		}
		s.latest[e.ContentHash] = e
	}
	return s
}

// View is a capture's rules with archive transitions applied.
type View struct {
	Capture *types.Capture

	// Rules are the captured rules, status overridden by the archive log.
	Rules []types.Rule

	// ArchiveOnly are rules known only from the archive log, typically
	// rules deleted upstream after being folded into a script.
	ArchiveOnly []types.Rule

	// Archive is the raw log the view was built from.
	Archive []types.ArchiveEntry
}

// All returns Rules followed by ArchiveOnly.
func (v *View) All() []types.Rule {
	out := make([]types.Rule, 0, len(v.Rules)+len(v.ArchiveOnly))
	out = append(out, v.Rules...)
	return append(out, v.ArchiveOnly...)
}

// Find looks a rule up by name. Captured rules win over archive-only ones.
func (v *View) Find(name string) (types.Rule, bool) {
	for _, r := range v.All() {
		if r.Name == name {
			return r, true
		}
	}
	return types.Rule{}, false
}

// View loads a verified capture and applies its archive log.
func (m *Manager) View(ctx context.Context, id types.CaptureID) (*View, error) {
	c, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	log, err := m.store.ArchiveLog(ctx, id)
	if err != nil {
		return nil, err
	}
	return buildView(c, log), nil
}

func buildView(c *types.Capture, log []types.ArchiveEntry) *View {
	state := foldArchive(log)
	v := &View{Capture: c, Archive: log}

	captured := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		h := identity.Hash(r)
		captured[h] = true
		if e, ok := state.latest[h]; ok {
			r = r.WithStatus(e.Status)
		}
		v.Rules = append(v.Rules, r)
	}
	for _, h := range state.order {
		if captured[h] {
			continue
		}
		e := state.latest[h]
		v.ArchiveOnly = append(v.ArchiveOnly, e.Rule.WithStatus(e.Status))
	}
	return v
}

// SetStatus records an explicit lifecycle transition for the named rule of
// a capture.
func (m *Manager) SetStatus(ctx context.Context, id types.CaptureID, name string, status types.Status, reason string) (types.ArchiveEntry, error) {
	if _, err := types.ParseStatus(string(status)); err != nil {
		return types.ArchiveEntry{}, &types.ValidationError{Rule: name, Field: "status", Err: err}
	}

	v, err := m.View(ctx, id)
	if err != nil {
		return types.ArchiveEntry{}, err
	}
	r, ok := v.Find(name)
	if !ok {
		return types.ArchiveEntry{}, fmt.Errorf("%w: rule %q in capture %s", types.ErrNotFound, name, id)
	}
	if reason == "" {
		reason = fmt.Sprintf("status set to %s", status)
	}

	entries, err := m.appendArchive(ctx, id, []types.ArchiveEntry{m.entry(id, r, status, reason)})
	if err != nil {
		return types.ArchiveEntry{}, err
	}
	return entries[0], nil
}

// Deprecate excludes a rule from all future consolidation and diffing.
func (m *Manager) Deprecate(ctx context.Context, id types.CaptureID, name, reason string) (types.ArchiveEntry, error) {
	return m.SetStatus(ctx, id, name, types.StatusDeprecated, reason)
}

// Cleanup archives every disabled rule of a capture.
func (m *Manager) Cleanup(ctx context.Context, id types.CaptureID) ([]types.ArchiveEntry, error) {
	v, err := m.View(ctx, id)
	if err != nil {
		return nil, err
	}

	var entries []types.ArchiveEntry
	for _, r := range v.All() {
		if r.Status == types.StatusDisabled {
			entries = append(entries, m.entry(id, r, types.StatusArchived, "cleanup of disabled rule"))
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return m.appendArchive(ctx, id, entries)
}

func (m *Manager) entry(id types.CaptureID, r types.Rule, status types.Status, reason string) types.ArchiveEntry {
	return types.ArchiveEntry{
		ContentHash:   identity.Hash(r),
		RuleName:      r.Name,
		Status:        status,
		Reason:        reason,
		RecordedAt:    m.now().UTC(),
		SourceCapture: id,
		Rule:          r.WithStatus(status),
	}
}

func (m *Manager) appendArchive(ctx context.Context, id types.CaptureID, entries []types.ArchiveEntry) ([]types.ArchiveEntry, error) {
	out, err := m.store.AppendArchive(ctx, id, entries)
	if err != nil {
		return nil, err
	}
	m.logArchived(id, out)
	return out, nil
}

func (m *Manager) logArchived(id types.CaptureID, entries []types.ArchiveEntry) {
	for _, e := range entries {
		m.logger.Info("archive entry appended",
			zap.String("capture_id", string(id)),
			zap.Int64("seq", e.Seq),
			zap.String("rule", e.RuleName),
			zap.String("content_hash", e.ContentHash),
			zap.String("status", string(e.Status)),
			zap.String("reason", e.Reason))
	}
}
