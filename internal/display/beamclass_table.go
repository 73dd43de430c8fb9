package display

import (
	"strconv"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// BeamClassRowsTable is the table widget holding the static beam class rows.
const BeamClassRowsTable = "beamclass"

// BeamClassTable shows the loaded beam class table. Nothing subscribes.
type BeamClassTable struct {
	base
}

// NewBeamClassTable fills the view from the table in opts.
func NewBeamClassTable(opts Options) *BeamClassTable {
	d := &BeamClassTable{base: newBase(NameBeamClassTable, opts)}

	for i, tip := range beamclass.HeaderTooltips() {
		id := "header_" + strconv.Itoa(i)
		d.view.SetText(id, beamclass.Header[i])
		d.view.SetTooltip(id, tip)
	}

	rows := make([]models.TableRow, 0, d.table.Len())
	for _, r := range d.table.Rows() {
		cells := make(map[string]any, len(beamclass.Header))
		for i, v := range r.Cells() {
			cells[beamclass.Header[i]] = v
		}
		rows = append(rows, models.TableRow{Key: strconv.Itoa(r.Index), Visible: true, Cells: cells})
	}
	d.view.SetTable(BeamClassRowsTable, rows)
	return d
}

// Apply implements Display. The tab is read-only.
func (d *BeamClassTable) Apply(Action) error {
	return ErrUnknownAction
}
