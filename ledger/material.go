package ledger

import (
	"fmt"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/id"
)

// Material is a line item of a cutlist: a stock material and the number of
// sheets to cut from it.
type Material struct {
	ID          id.MaterialID `json:"id" msgpack:"id"`
	CutlistID   id.CutlistID  `json:"cutlist_id" msgpack:"cutlist_id"`
	Name        string        `json:"name" msgpack:"name"`
	TotalSheets int           `json:"total_sheets" msgpack:"total_sheets"`
	Sheets      Sheets        `json:"sheet_statuses" msgpack:"sheet_statuses"`
	Recut       *RecutEntry   `json:"recut,omitempty" msgpack:"recut,omitempty"`
}

// NewMaterial creates a material with all sheets pending.
func NewMaterial(cutlistID id.CutlistID, name string, totalSheets int) (*Material, error) {
	if totalSheets < 1 {
		return nil, fmt.Errorf("%w: material %q needs at least one sheet, got %d", cuttrack.ErrValidation, name, totalSheets)
	}
	return &Material{
		ID:          id.NewMaterialID(),
		CutlistID:   cutlistID,
		Name:        name,
		TotalSheets: totalSheets,
		Sheets:      NewSheets(totalSheets),
	}, nil
}

// CompletedSheets is the number of sheets marked cut.
func (m *Material) CompletedSheets() int { return m.Sheets.Completed() }

// SetSheet sets the status of one sheet and reports whether it changed.
func (m *Material) SetSheet(index int, status SheetStatus) (bool, error) {
	m.Normalize()
	return m.Sheets.Set(index, status)
}

// AddRecut records quantity additional sheets to recut. The first call
// creates the recut entry with recutID; later calls extend it. New recut
// sheets start pending.
func (m *Material) AddRecut(recutID id.RecutID, quantity int) (*RecutEntry, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: recut quantity must be positive, got %d", cuttrack.ErrValidation, quantity)
	}
	if m.Recut == nil {
		m.Recut = &RecutEntry{
			ID:         recutID,
			MaterialID: m.ID,
			Quantity:   quantity,
			Sheets:     NewSheets(quantity),
		}
		return m.Recut, nil
	}
	m.Recut.extend(quantity)
	return m.Recut, nil
}

// Normalize pads or trims the sheet arenas to their declared capacity.
// Stores call it after loading rows that may predate the fixed arena.
func (m *Material) Normalize() {
	if len(m.Sheets) != m.TotalSheets {
		m.Sheets = m.Sheets.Fit(m.TotalSheets)
	}
	if m.Recut != nil {
		m.Recut.Normalize()
	}
}

// Clone returns a deep copy of the material.
func (m *Material) Clone() *Material {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Sheets = m.Sheets.Clone()
	cp.Recut = m.Recut.Clone()
	return &cp
}

// RecutEntry tracks extra sheets of a material that must be cut again.
type RecutEntry struct {
	ID         id.RecutID    `json:"id" msgpack:"id"`
	MaterialID id.MaterialID `json:"material_id" msgpack:"material_id"`
	Quantity   int           `json:"quantity" msgpack:"quantity"`
	Sheets     Sheets        `json:"sheet_statuses" msgpack:"sheet_statuses"`
}

// CompletedSheets is the number of recut sheets marked cut.
func (r *RecutEntry) CompletedSheets() int { return r.Sheets.Completed() }

// SetSheet sets the status of one recut sheet and reports whether it changed.
func (r *RecutEntry) SetSheet(index int, status SheetStatus) (bool, error) {
	r.Normalize()
	return r.Sheets.Set(index, status)
}

// Normalize pads or trims the arena to Quantity.
func (r *RecutEntry) Normalize() {
	if len(r.Sheets) != r.Quantity {
		r.Sheets = r.Sheets.Fit(r.Quantity)
	}
}

func (r *RecutEntry) extend(n int) {
	r.Quantity += n
	r.Sheets = r.Sheets.Fit(r.Quantity)
}

// Clone returns a deep copy of the entry.
func (r *RecutEntry) Clone() *RecutEntry {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Sheets = r.Sheets.Clone()
	return &cp
}
