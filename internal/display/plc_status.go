package display

import (
	"strings"

	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// PLCTable is the table widget holding one row per PLC.
const PLCTable = "plcs"

type plcCounter struct {
	name string

	online  []bool
	inUse   []bool
	alarmed []bool

	heartbeat   string
	iocUp       bool
	plcSeverity models.Severity
	hasSeverity bool
}

// plcUp is false until the heartbeat reports a severity other than INVALID.
func (c *plcCounter) plcUp() bool {
	return c.iocUp && c.hasSeverity && c.plcSeverity != models.SeverityInvalid
}

func (c *plcCounter) row() models.TableRow {
	color := models.ColorGray
	if c.plcUp() {
		color = models.ColorGreen
	}
	return models.TableRow{
		Key:     c.name,
		Visible: true,
		Cells: map[string]any{
			"name":      c.name,
			"online":    countTrue(c.online),
			"inUse":     countTrue(c.inUse),
			"alarmed":   countTrue(c.alarmed),
			"heartbeat": c.heartbeat,
			"iocUp":     c.iocUp,
			"plcUp":     c.plcUp(),
			"color":     color,
		},
	}
}

// PLCStatus reports per-PLC counts of online, in-use and alarmed fast
// faults plus the PLC heartbeat.
type PLCStatus struct {
	base

	plcs []*plcCounter
}

// NewPLCStatus builds the display and subscribes its channels.
func NewPLCStatus(opts Options) *PLCStatus {
	d := &PLCStatus{base: newBase(NamePLCStatus, opts)}
	for _, group := range d.line.FastFaults {
		d.addPLC(group)
	}
	d.publish()
	return d
}

func (d *PLCStatus) addPLC(group models.FastFaultGroup) {
	ffos := group.FFOEnd - group.FFOStart + 1
	ffs := group.FFEnd - group.FFStart + 1
	total := 0
	if ffos > 0 && ffs > 0 {
		total = ffos * ffs
	}
	c := &plcCounter{
		name:    strings.Trim(group.Prefix, ":"),
		online:  make([]bool, total),
		inUse:   make([]bool, total),
		alarmed: make([]bool, total),
	}
	d.plcs = append(d.plcs, c)

	// INVALID heartbeat severity means the PLC is down; no connection
	// means the IOC is.
	d.subscribe(channel.CA(group.Prefix+"HEARTBEAT"), channel.Funcs{
		Value: func(v any) {
			c.heartbeat = models.ToString(v)
			d.publish()
		},
		Connection: func(connected bool) {
			c.iocUp = connected
			d.publish()
		},
		Severity: func(s models.Severity) {
			c.plcSeverity = s
			c.hasSeverity = true
			d.publish()
		},
	})

	idx := 0
	for ffo := group.FFOStart; ffo <= group.FFOEnd; ffo++ {
		for ff := group.FFStart; ff <= group.FFEnd; ff++ {
			i := idx
			idx++
			pv := group.Prefix + "FFO:" + zeroFill(ffo, group.FFOEnd) + ":FF:" + zeroFill(ff, group.FFEnd) + ":Info:InUse_RBV"
			d.subscribe(channel.CA(pv), channel.Funcs{
				Value: func(v any) {
					c.inUse[i], _ = models.ToBool(v)
					d.publish()
				},
				Connection: func(connected bool) {
					c.online[i] = connected
					d.publish()
				},
				Severity: func(s models.Severity) {
					c.alarmed[i] = s != models.SeverityNoAlarm
					d.publish()
				},
			})
		}
	}
}

func (d *PLCStatus) publish() {
	rows := make([]models.TableRow, len(d.plcs))
	for i, c := range d.plcs {
		rows[i] = c.row()
	}
	d.view.SetTable(PLCTable, rows)
}

// Apply implements Display. The tab is read-only.
func (d *PLCStatus) Apply(Action) error {
	return ErrUnknownAction
}
