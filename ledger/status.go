package ledger

import (
	"fmt"

	"github.com/xraph/cuttrack"
)

// SheetStatus is the completion state of a single sheet.
type SheetStatus string

const (
	// StatusPending means the sheet has not been processed yet.
	StatusPending SheetStatus = "pending"
	// StatusCut means the sheet has been cut.
	StatusCut SheetStatus = "cut"
	// StatusSkip means the sheet was intentionally skipped.
	StatusSkip SheetStatus = "skip"
)

// Valid reports whether s is one of the known statuses.
func (s SheetStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCut, StatusSkip:
		return true
	default:
		return false
	}
}

// ParseSheetStatus converts a wire value into a SheetStatus. The empty
// string maps to pending.
func ParseSheetStatus(v string) (SheetStatus, error) {
	if v == "" {
		return StatusPending, nil
	}
	s := SheetStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown sheet status %q", cuttrack.ErrValidation, v)
	}
	return s, nil
}

// Resolve applies the toggle convention used by interactive callers:
// requesting the status a sheet already has clears it back to pending.
// The ledger itself never applies this; Set is a plain assignment.
func Resolve(current, requested SheetStatus) SheetStatus {
	if requested != StatusPending && current == requested {
		return StatusPending
	}
	return requested
}
