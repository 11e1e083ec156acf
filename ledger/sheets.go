package ledger

import (
	"fmt"

	"github.com/xraph/cuttrack"
)

// Sheets is a fixed-capacity arena of sheet statuses. Its length is the
// capacity; every slot starts out pending.
type Sheets []SheetStatus

// NewSheets returns an arena of n pending sheets.
func NewSheets(n int) Sheets {
	if n < 0 {
		n = 0
	}
	s := make(Sheets, n)
	for i := range s {
		s[i] = StatusPending
	}
	return s
}

// Cap returns the number of addressable sheets.
func (s Sheets) Cap() int { return len(s) }

// At returns the status of the sheet at index. Indices outside the arena
// and unset slots report pending.
func (s Sheets) At(index int) SheetStatus {
	if index < 0 || index >= len(s) || s[index] == "" {
		return StatusPending
	}
	return s[index]
}

// Set assigns status to the sheet at index and reports whether the value
// changed. Setting the current value again is a no-op.
func (s Sheets) Set(index int, status SheetStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown sheet status %q", cuttrack.ErrValidation, status)
	}
	if index < 0 || index >= len(s) {
		return false, fmt.Errorf("%w: sheet index %d out of range [0,%d)", cuttrack.ErrValidation, index, len(s))
	}
	if s.At(index) == status {
		s[index] = status
		return false, nil
	}
	s[index] = status
	return true, nil
}

// Completed counts the sheets marked cut.
func (s Sheets) Completed() int {
	n := 0
	for _, st := range s {
		if st == StatusCut {
			n++
		}
	}
	return n
}

// Count returns how many sheets carry the given status.
func (s Sheets) Count(status SheetStatus) int {
	n := 0
	for i := range s {
		if s.At(i) == status {
			n++
		}
	}
	return n
}

// Fit returns an arena of exactly capacity slots holding the statuses of
// s. Shorter inputs (sparse or legacy rows) are padded with pending and
// extra trailing entries are dropped.
func (s Sheets) Fit(capacity int) Sheets {
	out := NewSheets(capacity)
	for i := 0; i < len(out) && i < len(s); i++ {
		out[i] = s.At(i)
	}
	return out
}

// Clone returns an independent copy of the arena.
func (s Sheets) Clone() Sheets {
	if s == nil {
		return nil
	}
	out := make(Sheets, len(s))
	copy(out, s)
	return out
}
