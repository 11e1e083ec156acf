package ledger

import (
	"github.com/xraph/cuttrack/id"
)

// Cutlist groups the materials of one cutting plan within a job.
type Cutlist struct {
	ID        id.CutlistID `json:"id" msgpack:"id"`
	JobID     id.JobID     `json:"job_id" msgpack:"job_id"`
	Name      string       `json:"name" msgpack:"name"`
	Position  int          `json:"position" msgpack:"position"`
	Materials []*Material  `json:"materials" msgpack:"materials"`
}

// Material returns the material with the given ID, or nil.
func (c *Cutlist) Material(materialID id.MaterialID) *Material {
	for _, m := range c.Materials {
		if m.ID == materialID {
			return m
		}
	}
	return nil
}

// Progress sums completed and total sheets over all materials, recuts
// included.
func (c *Cutlist) Progress() (completed, total int) {
	for _, m := range c.Materials {
		completed += m.CompletedSheets()
		total += m.TotalSheets
		if m.Recut != nil {
			completed += m.Recut.CompletedSheets()
			total += m.Recut.Quantity
		}
	}
	return completed, total
}

// Clone returns a deep copy of the cutlist.
func (c *Cutlist) Clone() *Cutlist {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Materials = make([]*Material, len(c.Materials))
	for i, m := range c.Materials {
		cp.Materials[i] = m.Clone()
	}
	return &cp
}
