// internal/types/capture.go
package types

import "time"

/*
 * Persisted state: captures, archive entries and manifests.
 *
 * A Capture is written once and never edited. Lifecycle transitions are
 * ArchiveEntry rows appended to the capture's archive log; the log is copied
 * forward into every newer capture. A Manifest records one generated script
 * and moves from unsynced to synced exactly once.
 */

// CaptureFormatVersion tags the persisted capture document.
const CaptureFormatVersion = "1.0"

// LatestPointer is the logical name of the most recent capture.
const LatestPointer = "latest"

// Account identifies the mail account a capture was taken from.
type Account struct {
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
}

// CaptureMetadata is the integrity block stored with every capture.
type CaptureMetadata struct {
	RuleCount        int     `json:"rule_count"`
	EnabledCount     int     `json:"enabled_count"`
	DisabledCount    int     `json:"disabled_count"`
	ArchivedCount    int     `json:"archived_count"`
	DeprecatedCount  int     `json:"deprecated_count"`
	Account          Account `json:"account"`
	GeneratorVersion string  `json:"generator_version"`
}

// Capture is an immutable, checksummed record of every rule at one instant.
type Capture struct {
	Version     string          `json:"version"`
	ID          CaptureID       `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	Metadata    CaptureMetadata `json:"metadata"`
	Rules       []Rule          `json:"rules"`
	SieveScript string          `json:"sieve_script,omitempty"`
	Checksum    string          `json:"checksum"`
}

// CountStatuses fills the per-status counts of a metadata block.
func CountStatuses(rules []Rule) CaptureMetadata {
	md := CaptureMetadata{RuleCount: len(rules)}
	for _, r := range rules {
		switch r.Status {
		case StatusEnabled:
			md.EnabledCount++
		case StatusDisabled:
			md.DisabledCount++
		case StatusArchived:
			md.ArchivedCount++
		case StatusDeprecated:
			md.DeprecatedCount++
		}
	}
	return md
}

// CaptureSummary is one row of the capture listing.
type CaptureSummary struct {
	ID            CaptureID `db:"capture_id"`
	CreatedAt     string    `db:"created_at"`
	Checksum      string    `db:"checksum"`
	RuleCount     int       `db:"rule_count"`
	EnabledCount  int       `db:"enabled_count"`
	DisabledCount int       `db:"disabled_count"`
	AccountEmail  string    `db:"account_email"`
}

// ArchiveEntry records one lifecycle transition of a rule identified by its
// content hash. Rule carries the full rule body so archived rules outlive
// their deletion from the mail provider.
type ArchiveEntry struct {
	Seq           int64     `json:"seq"`
	ContentHash   string    `json:"content_hash"`
	RuleName      string    `json:"rule_name"`
	Status        Status    `json:"status"`
	Reason        string    `json:"reason"`
	RecordedAt    time.Time `json:"recorded_at"`
	SourceCapture CaptureID `json:"source_capture_id"`
	Rule          Rule      `json:"rule"`
}

// Manifest records what went into one generated script and when it was
// confirmed applied upstream.
type Manifest struct {
	ID         ManifestID `json:"id"`
	CaptureID  CaptureID  `json:"capture_id"`
	CreatedAt  time.Time  `json:"created_at"`
	RuleHashes []string   `json:"rule_hashes"`
	RuleNames  []string   `json:"rule_names"`
	RuleCount  int        `json:"rule_count"`
	OutputFile string     `json:"output_file"`
	SyncedAt   *time.Time `json:"synced_at"`
}

// Synced reports whether the manifest's script was confirmed applied.
func (m *Manifest) Synced() bool {
	return m.SyncedAt != nil
}
