package snapshot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/solatis/sievefold/internal/identity"
	"github.com/solatis/sievefold/internal/rules"
	"github.com/solatis/sievefold/internal/script"
	"github.com/solatis/sievefold/internal/types"
)

// ConsolidateOptions tunes which rules a run considers.
type ConsolidateOptions struct {
	Exclude         []string
	IncludeDisabled bool

	// ReincludeSynced makes disabled rules eligible again when their content
	// hash appears in any synced manifest. Off unless asked for.
	ReincludeSynced bool
}

// Run is one consolidation of a capture, ready to be written out.
type Run struct {
	CaptureID types.CaptureID
	View      *View
	Result    *rules.Result
	Generated string
}

// Consolidate runs the engine over a capture's effective view and renders
// the result. Eligible input is the live rules plus every rule the archive
// log marks archived. Nothing is persisted until RecordGeneration.
func (m *Manager) Consolidate(ctx context.Context, id types.CaptureID, opts ConsolidateOptions) (*Run, error) {
	v, err := m.View(ctx, id)
	if err != nil {
		return nil, err
	}

	req := request(v, opts)
	if opts.ReincludeSynced {
		synced, err := m.SyncedHashes(ctx)
		if err != nil {
			return nil, err
		}
		req.Reinclude = synced
	}

	res, err := m.engine.Run(req)
	if err != nil {
		return nil, fmt.Errorf("consolidate capture %s: %w", id, err)
	}

	generated, err := script.Generate(res.Rules)
	if err != nil {
		return nil, fmt.Errorf("generate script for capture %s: %w", id, err)
	}

	return &Run{CaptureID: id, View: v, Result: res, Generated: generated}, nil
}

// request splits a view into live and archived engine input. Captured rules
// the archive marks archived move to the archived side, as do archive-only
// rules in a terminal state.
func request(v *View, opts ConsolidateOptions) rules.Request {
	req := rules.Request{
		Exclude:         opts.Exclude,
		IncludeDisabled: opts.IncludeDisabled,
	}
	for _, r := range v.Rules {
		if r.Status == types.StatusArchived {
			req.Archived = append(req.Archived, r)
			continue
		}
		req.Rules = append(req.Rules, r)
	}
	for _, r := range v.ArchiveOnly {
		switch r.Status {
		case types.StatusArchived, types.StatusDeprecated:
			req.Archived = append(req.Archived, r)
		default:
			req.Rules = append(req.Rules, r)
		}
	}
	return req
}

// RecordGeneration stores the manifest for a written script and archives
// every consumed rule that is not archived yet, in one transaction.
func (m *Manager) RecordGeneration(ctx context.Context, run *Run, outputFile string) (*types.Manifest, error) {
	consumed := run.Result.Consumed

	mf := &types.Manifest{
		ID:         types.NewManifestID(),
		CaptureID:  run.CaptureID,
		CreatedAt:  m.now().UTC(),
		RuleHashes: make([]string, 0, len(consumed)),
		RuleNames:  make([]string, 0, len(consumed)),
		RuleCount:  len(consumed),
		OutputFile: outputFile,
	}

	var archived []types.ArchiveEntry
	reason := fmt.Sprintf("consolidated into %s", outputFile)
	for _, r := range consumed {
		mf.RuleHashes = append(mf.RuleHashes, identity.Hash(r))
		mf.RuleNames = append(mf.RuleNames, r.Name)
		if r.Status != types.StatusArchived {
			archived = append(archived, m.entry(run.CaptureID, r, types.StatusArchived, reason))
		}
	}

	entries, err := m.store.InsertManifest(ctx, mf, archived)
	if err != nil {
		return nil, err
	}

	m.logger.Info("manifest created",
		zap.String("manifest_id", string(mf.ID)),
		zap.String("capture_id", string(mf.CaptureID)),
		zap.Int("rule_count", mf.RuleCount),
		zap.String("output_file", outputFile))
	m.logArchived(run.CaptureID, entries)
	return mf, nil
}

// ConfirmSync marks a manifest's script as applied upstream. The sync
// instant is set once; a second confirmation returns ErrAlreadySynced.
func (m *Manager) ConfirmSync(ctx context.Context, id types.ManifestID) (*types.Manifest, error) {
	if err := m.store.MarkSynced(ctx, id, m.now().UTC()); err != nil {
		return nil, err
	}
	mf, err := m.store.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}
	m.logger.Info("manifest synced",
		zap.String("manifest_id", string(id)),
		zap.Timep("synced_at", mf.SyncedAt))
	return mf, nil
}

// Manifest loads one manifest.
func (m *Manager) Manifest(ctx context.Context, id types.ManifestID) (*types.Manifest, error) {
	return m.store.Manifest(ctx, id)
}

// Manifests lists the manifests of a capture, or all of them for an empty id.
func (m *Manager) Manifests(ctx context.Context, id types.CaptureID) ([]*types.Manifest, error) {
	return m.store.Manifests(ctx, id)
}

// SyncedHashes returns the content hashes of every rule in a synced manifest.
func (m *Manager) SyncedHashes(ctx context.Context) (map[string]bool, error) {
	synced, err := m.store.SyncedManifests(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, mf := range synced {
		for _, h := range mf.RuleHashes {
			out[h] = true
		}
	}
	return out, nil
}
