package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for sievefold operations.
var (
	// ErrInvalidRule matches every *ValidationError.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrEmptyName indicates a rule without a name.
	ErrEmptyName = errors.New("rule name is empty")

	// ErrEmptyConditions indicates a rule with no conditions.
	ErrEmptyConditions = errors.New("rule has no conditions")

	// ErrEmptyActions indicates a rule with no actions.
	ErrEmptyActions = errors.New("rule has no actions")

	// ErrUnknownValue indicates an enum value outside the recognized set.
	ErrUnknownValue = errors.New("unknown value")

	// ErrMissingParameter indicates an action parameter or header name is missing.
	ErrMissingParameter = errors.New("required parameter missing")

	// ErrUnsupportedOperator indicates an operator the condition type cannot use.
	ErrUnsupportedOperator = errors.New("operator not supported for condition type")

	// ErrDuplicateName indicates two rules sharing a name within one capture.
	ErrDuplicateName = errors.New("duplicate rule name")

	// ErrChecksumMismatch matches every *IntegrityError.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrMalformedMarkers matches every *MarkerError.
	ErrMalformedMarkers = errors.New("malformed section markers")

	// ErrUnsupportedFormat indicates a persisted document with an unknown version tag.
	ErrUnsupportedFormat = errors.New("unsupported format version")

	// ErrNotFound indicates a capture, manifest, pointer or rule lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrAlreadySynced indicates an attempt to set synced_at twice.
	ErrAlreadySynced = errors.New("manifest already synced")

	// ErrPointerMoved indicates the latest pointer changed during an update.
	ErrPointerMoved = errors.New("pointer moved by another writer")

	// ErrNotLatest indicates a lifecycle write against a capture that the
	// latest pointer no longer names.
	ErrNotLatest = errors.New("capture is not the latest capture")
)

// ValidationError reports a malformed rule record.
type ValidationError struct {
	Rule  string // rule name, or "#<index>" when the name is empty
	Field string // offending field path, e.g. conditions[0].operator
	Err   error  // specific sentinel
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("rule %q: %v", e.Rule, e.Err)
	}
	return fmt.Sprintf("rule %q: %s: %v", e.Rule, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is reports ErrInvalidRule for every validation error.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRule }

// IntegrityError reports a persisted capture whose checksum no longer matches
// its rule list. It is never an ErrInvalidRule: the stored data is at fault,
// not the input.
type IntegrityError struct {
	CaptureID CaptureID
	Expected  string
	Actual    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("capture %s: checksum mismatch: stored %s, computed %s", e.CaptureID, e.Expected, e.Actual)
}

// Is reports ErrChecksumMismatch for every integrity error.
func (e *IntegrityError) Is(target error) bool { return target == ErrChecksumMismatch }

// MarkerError reports section markers that cannot be resolved unambiguously.
type MarkerError struct {
	Marker string
	Line   int // 1-based, 0 when not tied to a line
	Reason string
}

func (e *MarkerError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("marker %q at line %d: %s", e.Marker, e.Line, e.Reason)
	}
	return fmt.Sprintf("marker %q: %s", e.Marker, e.Reason)
}

// Is reports ErrMalformedMarkers for every marker error.
func (e *MarkerError) Is(target error) bool { return target == ErrMalformedMarkers }
