package types

import (
	"time"

	"github.com/google/uuid"
)

// CaptureID represents a UUIDv7 capture identifier.
// Time-ordered IDs make capture listings sort by creation without a lookup.
type CaptureID string

// ManifestID represents a UUIDv7 manifest identifier.
type ManifestID string

// NewCaptureID generates a UUIDv7 capture identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewCaptureID() CaptureID {
	return CaptureID(uuid.Must(uuid.NewV7()).String())
}

// NewManifestID generates a UUIDv7 manifest identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewManifestID() ManifestID {
	return ManifestID(uuid.Must(uuid.NewV7()).String())
}

// ParseCaptureID validates and converts a string to CaptureID.
func ParseCaptureID(s string) (CaptureID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return CaptureID(u.String()), nil
}

// ParseManifestID validates and converts a string to ManifestID.
func ParseManifestID(s string) (ManifestID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return ManifestID(u.String()), nil
}

// CaptureIDTime extracts the timestamp embedded in a UUIDv7 capture ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func CaptureIDTime(id CaptureID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
