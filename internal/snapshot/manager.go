// Package snapshot manages captures, the rule lifecycle and generated-script
// manifests on top of a Store.
//
// A capture is written once with a checksum over its rule list. Every new
// capture inherits the archive log of the previous one, and the latest
// pointer moves in the same transaction as the last step. Lifecycle
// transitions never touch a capture: they are appended to its archive log
// and folded into an effective view when read.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/sievefold/internal/identity"
	"github.com/solatis/sievefold/internal/rules"
	"github.com/solatis/sievefold/internal/types"
)

// Store is the persistence the manager needs. Implemented by *store.Store.
type Store interface {
	CommitCapture(ctx context.Context, c *types.Capture, pointer string, prev types.CaptureID) error
	Capture(ctx context.Context, id types.CaptureID) (*types.Capture, error)
	Captures(ctx context.Context) ([]types.CaptureSummary, error)
	Pointer(ctx context.Context, name string) (types.CaptureID, error)
	ArchiveLog(ctx context.Context, id types.CaptureID) ([]types.ArchiveEntry, error)
	AppendArchive(ctx context.Context, id types.CaptureID, entries []types.ArchiveEntry) ([]types.ArchiveEntry, error)
	InsertManifest(ctx context.Context, m *types.Manifest, archived []types.ArchiveEntry) ([]types.ArchiveEntry, error)
	Manifest(ctx context.Context, id types.ManifestID) (*types.Manifest, error)
	Manifests(ctx context.Context, id types.CaptureID) ([]*types.Manifest, error)
	SyncedManifests(ctx context.Context) ([]*types.Manifest, error)
	MarkSynced(ctx context.Context, id types.ManifestID, at time.Time) error
}

// DefaultGeneratorVersion is recorded in capture metadata unless overridden.
const DefaultGeneratorVersion = "sievefold/0.1.0"

// Manager owns captures, archive logs and manifests.
type Manager struct {
	store   Store
	engine  *rules.Engine
	logger  *zap.Logger
	now     func() time.Time
	version string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEngine sets the consolidation engine.
func WithEngine(e *rules.Engine) Option {
	return func(m *Manager) { m.engine = e }
}

// WithGeneratorVersion sets the generator version stored in capture metadata.
func WithGeneratorVersion(v string) Option {
	return func(m *Manager) { m.version = v }
}

// NewManager creates a manager over store.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	m := &Manager{
		store:   store,
		logger:  zap.NewNop(),
		now:     time.Now,
		version: DefaultGeneratorVersion,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		m.engine = rules.NewEngine(rules.WithLogger(m.logger))
	}
	return m, nil
}

// CaptureInput is what the acquisition side hands over for one capture.
type CaptureInput struct {
	Rules       []types.Rule
	Account     types.Account
	SieveScript string
}

// CreateCapture validates and persists a new capture and makes it latest.
func (m *Manager) CreateCapture(ctx context.Context, in CaptureInput) (*types.Capture, error) {
	rs := make([]types.Rule, len(in.Rules))
	for i, r := range in.Rules {
		rs[i] = types.NormalizeRule(r)
	}
	if err := types.ValidateRules(rs); err != nil {
		return nil, err
	}

	md := types.CountStatuses(rs)
	md.Account = in.Account
	md.GeneratorVersion = m.version

	c := &types.Capture{
		Version:     types.CaptureFormatVersion,
		ID:          types.NewCaptureID(),
		CreatedAt:   m.now().UTC(),
		Metadata:    md,
		Rules:       rs,
		SieveScript: in.SieveScript,
		Checksum:    identity.Checksum(rs),
	}

	prev, err := m.store.Pointer(ctx, types.LatestPointer)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("resolve %s: %w", types.LatestPointer, err)
	}

	if err := m.store.CommitCapture(ctx, c, types.LatestPointer, prev); err != nil {
		return nil, err
	}

	m.logger.Info("capture created",
		zap.String("capture_id", string(c.ID)),
		zap.Int("rule_count", md.RuleCount),
		zap.String("checksum", c.Checksum))
	m.logger.Info("pointer advanced",
		zap.String("pointer", types.LatestPointer),
		zap.String("from", string(prev)),
		zap.String("to", string(c.ID)))
	return c, nil
}

// Resolve turns a reference ("latest", empty, or a capture id) into a
// capture id.
func (m *Manager) Resolve(ctx context.Context, ref string) (types.CaptureID, error) {
	if ref == "" || ref == types.LatestPointer {
		id, err := m.store.Pointer(ctx, types.LatestPointer)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", types.LatestPointer, err)
		}
		return id, nil
	}
	id, err := types.ParseCaptureID(ref)
	if err != nil {
		return "", fmt.Errorf("%w: capture reference %q", types.ErrNotFound, ref)
	}
	return id, nil
}

// CheckLatest returns ErrNotLatest unless id is the capture latest names.
// Lifecycle writes are only accepted against that capture.
func (m *Manager) CheckLatest(ctx context.Context, id types.CaptureID) error {
	latest, err := m.Resolve(ctx, types.LatestPointer)
	if err != nil {
		return err
	}
	if latest != id {
		return fmt.Errorf("capture %s (latest is %s): %w", id, latest, types.ErrNotLatest)
	}
	return nil
}

// Load reads a capture and verifies its checksum. A mismatch returns an
// *types.IntegrityError.
func (m *Manager) Load(ctx context.Context, id types.CaptureID) (*types.Capture, error) {
	c, err := m.store.Capture(ctx, id)
	if err != nil {
		return nil, err
	}
	if actual := identity.Checksum(c.Rules); actual != c.Checksum {
		m.logger.Error("checksum mismatch",
			zap.String("capture_id", string(id)),
			zap.String("expected", c.Checksum),
			zap.String("actual", actual))
		return nil, &types.IntegrityError{CaptureID: id, Expected: c.Checksum, Actual: actual}
	}
	return c, nil
}

// Verify recomputes a capture's checksum. It returns false together with the
// *types.IntegrityError on mismatch; corrupt data is never repaired.
func (m *Manager) Verify(ctx context.Context, id types.CaptureID) (bool, error) {
	if _, err := m.Load(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every capture, newest first.
func (m *Manager) List(ctx context.Context) ([]types.CaptureSummary, error) {
	return m.store.Captures(ctx)
}
