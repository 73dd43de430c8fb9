package display

import (
	"github.com/pcdshub/pmps-ui/internal/bitmask"
	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/models"
	"github.com/pcdshub/pmps-ui/internal/rate"
)

// ArbiterOutputsTable is the table widget holding one row per fast fault
// output.
const ArbiterOutputsTable = "arbiter_outputs"

// ffoCounter aggregates the fast faults of one output.
type ffoCounter struct {
	key   string
	name  string
	ffo   int
	desc  string
	veto  string
	count int

	faults    []bool
	bypasses  []bool
	inUse     []bool
	connected []bool
	ok        []bool
}

func (c *ffoCounter) summary() models.TableRow {
	faults := countTrue(c.faults)
	bypasses := countTrue(c.bypasses)
	faultSeverity, bypassSeverity := models.SeverityNoAlarm, models.SeverityNoAlarm
	if faults > 0 {
		faultSeverity = models.SeverityMajor
	}
	if bypasses > 0 {
		bypassSeverity = models.SeverityMinor
	}
	return models.TableRow{
		Key:     c.key,
		Visible: true,
		Cells: map[string]any{
			"name":           c.name,
			"ffo":            c.ffo,
			"desc":           c.desc,
			"veto":           c.veto,
			"ffCount":        c.count,
			"faults":         faults,
			"bypasses":       bypasses,
			"registered":     countTrue(c.inUse),
			"connected":      countTrue(c.connected),
			"faultSeverity":  faultSeverity.String(),
			"bypassSeverity": bypassSeverity.String(),
		},
	}
}

// ArbiterOutputs summarizes what the arbiter is currently allowing and
// counts faults per fast fault output.
type ArbiterOutputs struct {
	base

	outputs []*ffoCounter
}

// NewArbiterOutputs builds the display and subscribes its channels.
func NewArbiterOutputs(opts Options) *ArbiterOutputs {
	d := &ArbiterOutputs{base: newBase(NameArbiterOutputs, opts)}
	p := d.arbiter()

	d.onValue(channel.CA(p+"ArbiterOutputs:BeamClass_RBV"), func(v any) {
		n, ok := models.ToInt64(v)
		if !ok {
			return
		}
		d.setBeamClassLabel("bc_summary_label", int(n))
	})
	d.onValue(channel.CA(p+"ArbiterOutputs:Rate_RBV"), func(v any) {
		n, ok := models.ToInt64(v)
		if !ok {
			return
		}
		d.view.SetText("rate_summary_label", rate.Label(rate.FromOutputBits(bitmask.ToUnsigned32(n))))
	})

	for _, group := range d.line.FastFaults {
		d.addGroup(group)
	}
	d.publish()
	d.log.Debug("arbiter outputs added", "count", len(d.outputs))
	return d
}

func (d *ArbiterOutputs) addGroup(group models.FastFaultGroup) {
	ffCount := group.FFEnd - group.FFStart + 1
	if ffCount < 0 {
		ffCount = 0
	}
	for i, ffo := 0, group.FFOStart; ffo <= group.FFOEnd; i, ffo = i+1, ffo+1 {
		sFFO := zeroFill(ffo, group.FFOEnd)
		c := &ffoCounter{
			key:       group.Prefix + sFFO,
			name:      group.Name,
			ffo:       ffo,
			desc:      indexOr(group.FFODesc, i),
			veto:      indexOr(group.FFOVeto, i),
			count:     ffCount,
			faults:    make([]bool, ffCount),
			bypasses:  make([]bool, ffCount),
			inUse:     make([]bool, ffCount),
			connected: make([]bool, ffCount),
			ok:        make([]bool, ffCount),
		}
		d.outputs = append(d.outputs, c)

		for j, ff := 0, group.FFStart; ff <= group.FFEnd; j, ff = j+1, ff+1 {
			pv := group.Prefix + "FFO:" + sFFO + ":FF:" + zeroFill(ff, group.FFEnd) + ":"
			idx := j
			d.onValue(channel.CA(pv+"Ovrd:Active_RBV"), func(v any) {
				b, _ := models.ToBool(v)
				c.bypasses[idx] = b
				d.publish()
			})
			d.subscribe(channel.CA(pv+"Info:InUse_RBV"), channel.Funcs{
				Value: func(v any) {
					b, _ := models.ToBool(v)
					c.inUse[idx] = b
					c.faults[idx] = b && !c.ok[idx]
					d.publish()
				},
				Connection: func(connected bool) {
					c.connected[idx] = connected
					d.publish()
				},
			})
			d.onValue(channel.CA(pv+"OK_RBV"), func(v any) {
				b, _ := models.ToBool(v)
				c.ok[idx] = b
				c.faults[idx] = c.inUse[idx] && !b
				d.publish()
			})
		}
	}
}

func (d *ArbiterOutputs) publish() {
	rows := make([]models.TableRow, len(d.outputs))
	for i, c := range d.outputs {
		rows[i] = c.summary()
	}
	d.view.SetTable(ArbiterOutputsTable, rows)
}

// Apply implements Display. The tab is read-only.
func (d *ArbiterOutputs) Apply(Action) error {
	return ErrUnknownAction
}

func countTrue(values []bool) int {
	n := 0
	for _, v := range values {
		if v {
			n++
		}
	}
	return n
}

func indexOr(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
