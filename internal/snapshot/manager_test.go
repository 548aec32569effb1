package snapshot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/sievefold/internal/core/db"
	"github.com/solatis/sievefold/internal/diff"
	"github.com/solatis/sievefold/internal/identity"
	"github.com/solatis/sievefold/internal/script"
	"github.com/solatis/sievefold/internal/store"
	"github.com/solatis/sievefold/internal/types"
)

type fixture struct {
	db      *sqlx.DB
	manager *Manager
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.MigrateUp(database))

	s, err := store.New(database)
	require.NoError(t, err)

	f := &fixture{db: database, clock: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	f.manager, err = NewManager(s, WithClock(func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}))
	require.NoError(t, err)
	return f
}

func rule(name string, status types.Status, conds ...types.Condition) types.Rule {
	if len(conds) == 0 {
		conds = []types.Condition{{Type: types.ConditionSender, Operator: types.OpContains, Value: name}}
	}
	return types.Rule{
		Name:       name,
		Status:     status,
		Logic:      types.LogicAnd,
		Conditions: conds,
		Actions:    []types.Action{{Type: types.ActionMoveTo, Parameters: map[string]string{types.ParamFolder: "Work"}}},
	}
}

func workRules() []types.Rule {
	carol := rule("carol-urgent", types.StatusEnabled,
		types.Condition{Type: types.ConditionSender, Operator: types.OpContains, Value: "carol"},
		types.Condition{Type: types.ConditionSubject, Operator: types.OpContains, Value: "urgent"})
	carol.Priority = 3
	alice := rule("alice", types.StatusEnabled)
	alice.Priority = 1
	bob := rule("bob", types.StatusEnabled)
	bob.Priority = 2
	return []types.Rule{alice, bob, carol}
}

func (f *fixture) capture(t *testing.T, rs ...types.Rule) *types.Capture {
	t.Helper()
	c, err := f.manager.CreateCapture(context.Background(), CaptureInput{
		Rules:   rs,
		Account: types.Account{Email: "user@example.com"},
	})
	require.NoError(t, err)
	return c
}

func TestCreateCaptureAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.capture(t, workRules()...)
	assert.Equal(t, types.CaptureFormatVersion, c.Version)
	assert.Equal(t, 3, c.Metadata.EnabledCount)
	assert.Equal(t, DefaultGeneratorVersion, c.Metadata.GeneratorVersion)
	assert.True(t, strings.HasPrefix(c.Checksum, identity.ChecksumPrefix))

	id, err := f.manager.Resolve(ctx, types.LatestPointer)
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	id, err = f.manager.Resolve(ctx, string(c.ID))
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	_, err = f.manager.Resolve(ctx, "not-a-capture")
	assert.ErrorIs(t, err, types.ErrNotFound)

	ok, err := f.manager.Verify(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := f.manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateCapture_InvalidRulesLeaveLatestAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.capture(t, workRules()...)

	bad := rule("broken", types.StatusEnabled)
	bad.Actions = nil
	_, err := f.manager.CreateCapture(ctx, CaptureInput{Rules: []types.Rule{bad}})
	assert.ErrorIs(t, err, types.ErrInvalidRule)
	assert.ErrorIs(t, err, types.ErrEmptyActions)

	id, err := f.manager.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)
}

func TestVerify_DetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.capture(t, workRules()...)

	tampered := *c
	tampered.Rules = append([]types.Rule(nil), c.Rules...)
	tampered.Rules[0] = rule("alice", types.StatusEnabled,
		types.Condition{Type: types.ConditionSender, Operator: types.OpContains, Value: "mallory"})
	doc, err := types.EncodeCapture(&tampered)
	require.NoError(t, err)
	_, err = f.db.Exec("UPDATE captures SET document = ? WHERE capture_id = ?", string(doc), string(c.ID))
	require.NoError(t, err)

	ok, err := f.manager.Verify(ctx, c.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrChecksumMismatch)
	assert.NotErrorIs(t, err, types.ErrInvalidRule)

	var integrity *types.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, c.ID, integrity.CaptureID)
	assert.Equal(t, c.Checksum, integrity.Expected)

	_, err = f.manager.Consolidate(ctx, c.ID, ConsolidateOptions{})
	assert.ErrorIs(t, err, types.ErrChecksumMismatch)
}

func TestConsolidateAndRecordGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.capture(t, append(workRules(), rule("old", types.StatusDisabled))...)

	run, err := f.manager.Consolidate(ctx, c.ID, ConsolidateOptions{})
	require.NoError(t, err)
	require.Len(t, run.Result.Rules, 1)
	assert.Equal(t, 3, run.Result.Report.EnabledCount)
	assert.Equal(t, 1, run.Result.Report.DisabledSkipped)
	assert.InDelta(t, 66.7, run.Result.Report.ReductionPercent, 0.001)

	section, err := script.Section(run.Generated)
	require.NoError(t, err)
	assert.Contains(t, section, `address :contains "from" ["alice", "bob"]`)

	mf, err := f.manager.RecordGeneration(ctx, run, "consolidated.sieve")
	require.NoError(t, err)
	assert.False(t, mf.Synced())
	assert.Equal(t, []string{"alice", "bob", "carol-urgent"}, mf.RuleNames)

	log, err := f.manager.Archive(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, log, 3)
	for _, e := range log {
		assert.Equal(t, types.StatusArchived, e.Status)
		assert.Equal(t, "consolidated into consolidated.sieve", e.Reason)
	}

	v, err := f.manager.View(ctx, c.ID)
	require.NoError(t, err)
	statuses := map[string]types.Status{}
	for _, r := range v.Rules {
		statuses[r.Name] = r.Status
	}
	assert.Equal(t, types.StatusArchived, statuses["alice"])
	assert.Equal(t, types.StatusDisabled, statuses["old"])

	// The capture itself is untouched by lifecycle transitions.
	ok, err := f.manager.Verify(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArchivedRulesSurviveUpstreamDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.capture(t, workRules()...)
	run, err := f.manager.Consolidate(ctx, first.ID, ConsolidateOptions{})
	require.NoError(t, err)
	_, err = f.manager.RecordGeneration(ctx, run, "consolidated.sieve")
	require.NoError(t, err)

	// Upstream deleted every consolidated rule and added a new one.
	dave := rule("dave", types.StatusEnabled)
	dave.Priority = 4
	second := f.capture(t, dave)

	v, err := f.manager.View(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, v.Rules, 1)
	assert.Len(t, v.ArchiveOnly, 3)

	run, err = f.manager.Consolidate(ctx, second.ID, ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, run.Result.Report.ArchivedIncluded)
	assert.Equal(t, 4, run.Result.Report.EnabledCount)
	require.Len(t, run.Result.Rules, 1)
	assert.Equal(t, []string{"alice", "bob", "carol-urgent", "dave"}, run.Result.Rules[0].SourceRuleNames)

	// Only dave is newly archived.
	_, err = f.manager.RecordGeneration(ctx, run, "consolidated.sieve")
	require.NoError(t, err)
	log, err := f.manager.Archive(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, log, 4)
	assert.Equal(t, "dave", log[3].RuleName)
}

func TestArchiveCarryForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.capture(t, workRules()...)
	run, err := f.manager.Consolidate(ctx, first.ID, ConsolidateOptions{})
	require.NoError(t, err)
	_, err = f.manager.RecordGeneration(ctx, run, "out.sieve")
	require.NoError(t, err)

	original, err := f.manager.Archive(ctx, first.ID)
	require.NoError(t, err)
	require.NotEmpty(t, original)

	last := first
	for i := 0; i < 5; i++ {
		last = f.capture(t, workRules()...)
	}

	log, err := f.manager.Archive(ctx, last.ID)
	require.NoError(t, err)
	for _, want := range original {
		found := false
		for _, got := range log {
			if got.Seq == want.Seq && got.ContentHash == want.ContentHash && got.Status == want.Status {
				found = true
				break
			}
		}
		assert.True(t, found, "entry %d (%s) missing from capture %s", want.Seq, want.RuleName, last.ID)
	}
}

func TestDeprecateExcludesFromConsolidationAndDiff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.capture(t, workRules()...)

	e, err := f.manager.Deprecate(ctx, c.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeprecated, e.Status)
	assert.Equal(t, "status set to deprecated", e.Reason)
	assert.Equal(t, identity.Hash(workRules()[1]), e.ContentHash)

	run, err := f.manager.Consolidate(ctx, c.ID, ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Result.Report.DeprecatedSkipped)
	assert.Equal(t, 2, run.Result.Report.EnabledCount)
	assert.NotContains(t, run.Result.Rules[0].SourceRuleNames, "bob")

	entries, err := f.manager.DiffRules(ctx, c.ID, workRules())
	require.NoError(t, err)
	for _, d := range entries {
		assert.NotEqual(t, "bob", d.Name)
		assert.Equal(t, diff.Unchanged, d.Kind)
	}

	_, err = f.manager.SetStatus(ctx, c.ID, "nobody", types.StatusArchived, "")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.manager.SetStatus(ctx, c.ID, "alice", types.Status("paused"), "")
	assert.ErrorIs(t, err, types.ErrInvalidRule)
}

func TestReincludeSyncedIsOptIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.capture(t, workRules()...)
	run, err := f.manager.Consolidate(ctx, c.ID, ConsolidateOptions{})
	require.NoError(t, err)
	mf, err := f.manager.RecordGeneration(ctx, run, "out.sieve")
	require.NoError(t, err)
	_, err = f.manager.ConfirmSync(ctx, mf.ID)
	require.NoError(t, err)

	// The user later disables alice explicitly.
	_, err = f.manager.SetStatus(ctx, c.ID, "alice", types.StatusDisabled, "paused by user")
	require.NoError(t, err)

	run, err = f.manager.Consolidate(ctx, c.ID, ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Result.Report.DisabledSkipped)
	assert.Equal(t, 0, run.Result.Report.Reincluded)

	run, err = f.manager.Consolidate(ctx, c.ID, ConsolidateOptions{ReincludeSynced: true})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Result.Report.Reincluded)
	assert.Equal(t, 3, run.Result.Report.EnabledCount)
}

func TestConfirmSyncIsOneWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.capture(t, workRules()...)
	run, err := f.manager.Consolidate(ctx, c.ID, ConsolidateOptions{})
	require.NoError(t, err)
	mf, err := f.manager.RecordGeneration(ctx, run, "out.sieve")
	require.NoError(t, err)

	synced, err := f.manager.ConfirmSync(ctx, mf.ID)
	require.NoError(t, err)
	require.NotNil(t, synced.SyncedAt)
	first := *synced.SyncedAt

	_, err = f.manager.ConfirmSync(ctx, mf.ID)
	assert.ErrorIs(t, err, types.ErrAlreadySynced)

	again, err := f.manager.Manifest(ctx, mf.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*again.SyncedAt))

	hashes, err := f.manager.SyncedHashes(ctx)
	require.NoError(t, err)
	assert.Len(t, hashes, 3)

	list, err := f.manager.Manifests(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCleanupArchivesDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.capture(t, rule("on", types.StatusEnabled), rule("off1", types.StatusDisabled), rule("off2", types.StatusDisabled))

	entries, err := f.manager.Cleanup(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, types.StatusArchived, e.Status)
	}

	entries, err = f.manager.Cleanup(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Archived rules are honored by the next run.
	run, err := f.manager.Consolidate(ctx, c.ID, ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, run.Result.Report.ArchivedIncluded)
	assert.Equal(t, 3, run.Result.Report.EnabledCount)
}

func TestDiffCaptures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.capture(t, workRules()...)

	changed := workRules()
	changed[0].Status = types.StatusDisabled
	changed[1].Conditions[0].Value = "robert"
	changed = append(changed[:2], rule("erin", types.StatusEnabled))
	after := f.capture(t, changed...)

	entries, err := f.manager.Diff(ctx, before.ID, after.ID)
	require.NoError(t, err)

	kinds := map[string]diff.Kind{}
	for _, e := range entries {
		kinds[e.Name] = e.Kind
	}
	assert.Equal(t, map[string]diff.Kind{
		"alice":        diff.StateChanged,
		"bob":          diff.Modified,
		"carol-urgent": diff.Removed,
		"erin":         diff.Added,
	}, kinds)
}

func TestExportImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	c := f.capture(t, workRules()...)
	require.NoError(t, f.manager.Export(ctx, fsys, c.ID, "/backup/capture.json"))

	imported, err := f.manager.Import(ctx, fsys, "/backup/capture.json")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, imported.ID)
	assert.Equal(t, c.Checksum, imported.Checksum)
	assert.Equal(t, c.Metadata.Account, imported.Metadata.Account)

	latest, err := f.manager.Resolve(ctx, types.LatestPointer)
	require.NoError(t, err)
	assert.Equal(t, imported.ID, latest)

	// A hand-edited export is rejected.
	data, err := afero.ReadFile(fsys, "/backup/capture.json")
	require.NoError(t, err)
	edited := strings.Replace(string(data), `"value": "alice"`, `"value": "mallory"`, 1)
	require.NotEqual(t, string(data), edited)
	require.NoError(t, afero.WriteFile(fsys, "/backup/edited.json", []byte(edited), 0o644))

	_, err = f.manager.Import(ctx, fsys, "/backup/edited.json")
	assert.ErrorIs(t, err, types.ErrChecksumMismatch)
}

func TestLifecycleWritesRequireLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1 := f.capture(t, workRules()...)
	c2 := f.capture(t, workRules()...)

	_, err := f.manager.Deprecate(ctx, c1.ID, "alice", "")
	assert.ErrorIs(t, err, types.ErrNotLatest)
	assert.ErrorIs(t, f.manager.CheckLatest(ctx, c1.ID), types.ErrNotLatest)
	assert.NoError(t, f.manager.CheckLatest(ctx, c2.ID))

	run, err := f.manager.Consolidate(ctx, c1.ID, ConsolidateOptions{})
	require.NoError(t, err, "consolidating an old capture is read only")
	_, err = f.manager.RecordGeneration(ctx, run, "out.sieve")
	assert.ErrorIs(t, err, types.ErrNotLatest)
	list, err := f.manager.Manifests(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list, "rejected generation must not leave a manifest")

	// Written against the latest capture, the deprecation carries forward.
	_, err = f.manager.Deprecate(ctx, c2.ID, "alice", "")
	require.NoError(t, err)
	c3 := f.capture(t, workRules()...)

	log, err := f.manager.Archive(ctx, c3.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, types.StatusDeprecated, log[0].Status)

	run, err = f.manager.Consolidate(ctx, c3.ID, ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Result.Report.DeprecatedSkipped)
	assert.Equal(t, 2, run.Result.Report.EnabledCount)
}
