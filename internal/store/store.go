// Package store persists captures, archive logs, manifests and pointers in
// SQL through the named queries of internal/core/db.
//
// Captures and archive rows are insert only. The only updates the store ever
// issues are the pointer compare-and-swap (plus a no-op update that locks the
// pointer row) and the one-way manifest sync mark.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/solatis/sievefold/internal/core/db"
	"github.com/solatis/sievefold/internal/types"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQL-backed capture store.
type Store struct {
	db      *sqlx.DB
	queries *db.Queries
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store over a migrated database.
func New(database *sqlx.DB, opts ...Option) (*Store, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		return nil, err
	}
	s := &Store{db: database, queries: queries, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(q *db.Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(s.queries.WithTx(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CommitCapture writes a capture, copies the archive log of prev under the
// new id and moves pointer from prev to the new capture, all in one
// transaction. An empty prev means the pointer does not exist yet. If another
// writer moved the pointer first, nothing is written and ErrPointerMoved is
// returned.
func (s *Store) CommitCapture(ctx context.Context, c *types.Capture, pointer string, prev types.CaptureID) error {
	doc, err := types.EncodeCapture(c)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())

	err = s.inTx(ctx, func(q *db.Queries) error {
		if _, err := q.Exec(ctx, "insert-capture",
			c.ID, c.Version, formatTime(c.CreatedAt), c.Checksum,
			c.Metadata.RuleCount, c.Metadata.EnabledCount, c.Metadata.DisabledCount,
			c.Metadata.Account.Email, string(doc),
		); err != nil {
			return fmt.Errorf("insert capture %s: %w", c.ID, err)
		}

		if prev != "" {
			if err := lockPointer(ctx, q, pointer, prev); err != nil {
				return err
			}
		}

		if prev == "" {
			if _, err := q.Exec(ctx, "insert-pointer", pointer, c.ID, now); err != nil {
				return fmt.Errorf("%w: create %s: %v", types.ErrPointerMoved, pointer, err)
			}
			return nil
		}

		// Carry-forward reads the old capture before the pointer moves.
		if _, err := q.Exec(ctx, "copy-archive-entries", c.ID, prev); err != nil {
			return fmt.Errorf("carry forward archive of %s: %w", prev, err)
		}

		res, err := q.Exec(ctx, "swap-pointer", c.ID, now, pointer, prev)
		if err != nil {
			return fmt.Errorf("advance %s: %w", pointer, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("advance %s: %w", pointer, err)
		}
		if n != 1 {
			return fmt.Errorf("%w: %s no longer at %s", types.ErrPointerMoved, pointer, prev)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("capture committed",
		zap.String("capture_id", string(c.ID)),
		zap.String("pointer", pointer),
		zap.String("previous", string(prev)))
	return nil
}

// Capture loads a capture document. The returned Checksum is the value
// recorded at write time; the document is not verified.
func (s *Store) Capture(ctx context.Context, id types.CaptureID) (*types.Capture, error) {
	var row struct {
		Document string `db:"document"`
	}
	if err := s.queries.Get(ctx, "get-capture-document", &row, id); err != nil {
		return nil, notFound(err, "capture %s", id)
	}
	c, err := types.DecodeCapture([]byte(row.Document))
	if err != nil {
		return nil, err
	}

	var checksum string
	if err := s.queries.Get(ctx, "get-capture-checksum", &checksum, id); err != nil {
		return nil, notFound(err, "capture %s", id)
	}
	c.Checksum = checksum
	return c, nil
}

// Captures lists every capture, newest first.
func (s *Store) Captures(ctx context.Context) ([]types.CaptureSummary, error) {
	var out []types.CaptureSummary
	if err := s.queries.Select(ctx, "list-captures", &out); err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	return out, nil
}

// Pointer resolves a logical name to a capture id.
func (s *Store) Pointer(ctx context.Context, name string) (types.CaptureID, error) {
	var id string
	if err := s.queries.Get(ctx, "get-pointer", &id, name); err != nil {
		return "", notFound(err, "pointer %s", name)
	}
	return types.CaptureID(id), nil
}

// archiveRow mirrors the archive_entries table.
type archiveRow struct {
	Seq           int64  `db:"seq"`
	ContentHash   string `db:"content_hash"`
	RuleName      string `db:"rule_name"`
	Status        string `db:"status"`
	Reason        string `db:"reason"`
	RecordedAt    string `db:"recorded_at"`
	SourceCapture string `db:"source_capture_id"`
	Rule          string `db:"rule"`
}

func (r archiveRow) entry() (types.ArchiveEntry, error) {
	at, err := parseTime(r.RecordedAt)
	if err != nil {
		return types.ArchiveEntry{}, fmt.Errorf("archive entry %d: %w", r.Seq, err)
	}
	status, err := types.ParseStatus(r.Status)
	if err != nil {
		return types.ArchiveEntry{}, fmt.Errorf("archive entry %d: %w", r.Seq, err)
	}
	var rec types.RuleRecord
	if err := json.Unmarshal([]byte(r.Rule), &rec); err != nil {
		return types.ArchiveEntry{}, fmt.Errorf("archive entry %d: decode rule: %w", r.Seq, err)
	}
	rule, err := rec.Rule()
	if err != nil {
		return types.ArchiveEntry{}, fmt.Errorf("archive entry %d: %w", r.Seq, err)
	}
	return types.ArchiveEntry{
		Seq:           r.Seq,
		ContentHash:   r.ContentHash,
		RuleName:      r.RuleName,
		Status:        status,
		Reason:        r.Reason,
		RecordedAt:    at,
		SourceCapture: types.CaptureID(r.SourceCapture),
		Rule:          rule,
	}, nil
}

// ArchiveLog returns the archive log of a capture in append order.
func (s *Store) ArchiveLog(ctx context.Context, id types.CaptureID) ([]types.ArchiveEntry, error) {
	var rows []archiveRow
	if err := s.queries.Select(ctx, "list-archive-entries", &rows, id); err != nil {
		return nil, fmt.Errorf("archive log of %s: %w", id, err)
	}
	entries := make([]types.ArchiveEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AppendArchive appends entries to a capture's archive log and returns them
// with their assigned sequence numbers. Only the latest capture accepts
// entries; any other returns ErrNotLatest.
func (s *Store) AppendArchive(ctx context.Context, id types.CaptureID, entries []types.ArchiveEntry) ([]types.ArchiveEntry, error) {
	var out []types.ArchiveEntry
	err := s.inTx(ctx, func(q *db.Queries) error {
		var err error
		out, err = appendArchive(ctx, q, id, entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockPointer holds the pointer row until the transaction ends, failing with
// ErrPointerMoved when the pointer no longer names id.
func lockPointer(ctx context.Context, q *db.Queries, pointer string, id types.CaptureID) error {
	res, err := q.Exec(ctx, "lock-pointer", pointer, id)
	if err != nil {
		return fmt.Errorf("lock %s: %w", pointer, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock %s: %w", pointer, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s no longer at %s", types.ErrPointerMoved, pointer, id)
	}
	return nil
}

// requireLatest checks that id is the latest capture. Archive rows only carry
// forward from the latest capture, so writes elsewhere would be lost.
func requireLatest(ctx context.Context, q *db.Queries, id types.CaptureID) error {
	var checksum string
	if err := q.Get(ctx, "get-capture-checksum", &checksum, id); err != nil {
		return notFound(err, "capture %s", id)
	}
	if err := lockPointer(ctx, q, types.LatestPointer, id); err != nil {
		if errors.Is(err, types.ErrPointerMoved) {
			return fmt.Errorf("capture %s: %w", id, types.ErrNotLatest)
		}
		return err
	}
	return nil
}

func appendArchive(ctx context.Context, q *db.Queries, id types.CaptureID, entries []types.ArchiveEntry) ([]types.ArchiveEntry, error) {
	if err := requireLatest(ctx, q, id); err != nil {
		return nil, err
	}

	var seq int64
	if err := q.Get(ctx, "max-archive-seq", &seq, id); err != nil {
		return nil, fmt.Errorf("archive sequence of %s: %w", id, err)
	}

	out := make([]types.ArchiveEntry, len(entries))
	for i, e := range entries {
		seq++
		e.Seq = seq
		rule, err := json.Marshal(e.Rule)
		if err != nil {
			return nil, fmt.Errorf("encode archived rule %q: %w", e.RuleName, err)
		}
		if _, err := q.Exec(ctx, "insert-archive-entry",
			id, e.Seq, e.ContentHash, e.RuleName, string(e.Status), e.Reason,
			formatTime(e.RecordedAt), e.SourceCapture, string(rule),
		); err != nil {
			return nil, fmt.Errorf("append archive entry %q: %w", e.RuleName, err)
		}
		out[i] = e
	}
	return out, nil
}

// manifestRow mirrors the manifests table.
type manifestRow struct {
	ID         string         `db:"manifest_id"`
	CaptureID  string         `db:"capture_id"`
	CreatedAt  string         `db:"created_at"`
	RuleHashes string         `db:"rule_hashes"`
	RuleNames  string         `db:"rule_names"`
	RuleCount  int            `db:"rule_count"`
	OutputFile string         `db:"output_file"`
	SyncedAt   sql.NullString `db:"synced_at"`
}

func (r manifestRow) manifest() (*types.Manifest, error) {
	m := &types.Manifest{
		ID:         types.ManifestID(r.ID),
		CaptureID:  types.CaptureID(r.CaptureID),
		RuleCount:  r.RuleCount,
		OutputFile: r.OutputFile,
	}
	var err error
	if m.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.RuleHashes), &m.RuleHashes); err != nil {
		return nil, fmt.Errorf("manifest %s: rule hashes: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.RuleNames), &m.RuleNames); err != nil {
		return nil, fmt.Errorf("manifest %s: rule names: %w", r.ID, err)
	}
	if r.SyncedAt.Valid {
		at, err := parseTime(r.SyncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", r.ID, err)
		}
		m.SyncedAt = &at
	}
	return m, nil
}

func manifests(rows []manifestRow) ([]*types.Manifest, error) {
	out := make([]*types.Manifest, 0, len(rows))
	for _, r := range rows {
		m, err := r.manifest()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// InsertManifest records a generation event. The manifest and the archive
// entries for the rules it consumed commit together, and only against the
// latest capture.
func (s *Store) InsertManifest(ctx context.Context, m *types.Manifest, archived []types.ArchiveEntry) ([]types.ArchiveEntry, error) {
	hashes, err := json.Marshal(nonNil(m.RuleHashes))
	if err != nil {
		return nil, fmt.Errorf("encode manifest hashes: %w", err)
	}
	names, err := json.Marshal(nonNil(m.RuleNames))
	if err != nil {
		return nil, fmt.Errorf("encode manifest names: %w", err)
	}

	var out []types.ArchiveEntry
	err = s.inTx(ctx, func(q *db.Queries) error {
		if err := requireLatest(ctx, q, m.CaptureID); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, "insert-manifest",
			m.ID, m.CaptureID, formatTime(m.CreatedAt), string(hashes), string(names),
			m.RuleCount, m.OutputFile,
		); err != nil {
			return fmt.Errorf("insert manifest %s: %w", m.ID, err)
		}
		if len(archived) == 0 {
			return nil
		}
		var err error
		out, err = appendArchive(ctx, q, m.CaptureID, archived)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Manifest loads one manifest.
func (s *Store) Manifest(ctx context.Context, id types.ManifestID) (*types.Manifest, error) {
	var row manifestRow
	if err := s.queries.Get(ctx, "get-manifest", &row, id); err != nil {
		return nil, notFound(err, "manifest %s", id)
	}
	return row.manifest()
}

// Manifests lists the manifests of a capture, or all manifests when id is
// empty, oldest first.
func (s *Store) Manifests(ctx context.Context, id types.CaptureID) ([]*types.Manifest, error) {
	var rows []manifestRow
	var err error
	if id == "" {
		err = s.queries.Select(ctx, "list-manifests", &rows)
	} else {
		err = s.queries.Select(ctx, "list-manifests-by-capture", &rows, id)
	}
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	return manifests(rows)
}

// SyncedManifests lists every manifest confirmed applied upstream.
func (s *Store) SyncedManifests(ctx context.Context) ([]*types.Manifest, error) {
	var rows []manifestRow
	if err := s.queries.Select(ctx, "list-synced-manifests", &rows); err != nil {
		return nil, fmt.Errorf("list synced manifests: %w", err)
	}
	return manifests(rows)
}

// MarkSynced sets a manifest's sync instant. A manifest is marked once;
// a second call returns ErrAlreadySynced and leaves the stored instant alone.
func (s *Store) MarkSynced(ctx context.Context, id types.ManifestID, at time.Time) error {
	res, err := s.queries.Exec(ctx, "mark-manifest-synced", formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark manifest %s synced: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark manifest %s synced: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Manifest(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: manifest %s", types.ErrAlreadySynced, id)
}

func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", types.ErrNotFound, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
