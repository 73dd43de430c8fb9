package display

import (
	"fmt"
	"strings"

	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// FastFaultsTable is the table widget holding one row per fast fault.
const FastFaultsTable = "fastfaults"

// Filter is one visibility condition on a fast fault channel.
type Filter struct {
	Name      string `json:"name"`
	Template  string `json:"channel"`
	Condition string `json:"condition"`
}

// Optional fast fault filters, in the order the filter panel shows them.
var fastFaultFilterOptions = []Filter{
	{Name: "ok", Template: "ca://${P}FFO:${FFO}:FF:${FF}:OK_RBV"},
	{Name: "beampermitted", Template: "ca://${P}FFO:${FFO}:FF:${FF}:BeamPermitted_RBV"},
	{Name: "vetoed", Template: "ca://${P}FFO:${FFO}:EnableVeto_RBV"},
	{Name: "bypassed", Template: "ca://${P}FFO:${FFO}:FF:${FF}:Ovrd:Active_RBV"},
}

var inUseFilter = Filter{
	Name:      "inuse",
	Template:  "ca://${P}FFO:${FFO}:FF:${FF}:Info:InUse_RBV",
	Condition: "TRUE",
}

type fastFault struct {
	key       string
	macros    map[string]string
	connected bool
	values    map[string]string
}

// FastFaults lists every configured fast fault and shows the ones that
// match the active filters.
type FastFaults struct {
	base

	faults  []*fastFault
	enabled map[string]string
}

// NewFastFaults builds the display and subscribes its channels.
func NewFastFaults(opts Options) *FastFaults {
	d := &FastFaults{
		base:    newBase(NameFastFaults, opts),
		enabled: make(map[string]string),
	}
	for _, opt := range fastFaultFilterOptions {
		d.view.SetChecked("ff_filter_gb_"+opt.Name, false)
		d.view.SetItems("ff_filter_cb_"+opt.Name, []string{"True", "False"})
	}

	for _, group := range d.line.FastFaults {
		for ffo := group.FFOStart; ffo <= group.FFOEnd; ffo++ {
			for ff := group.FFStart; ff <= group.FFEnd; ff++ {
				d.addFault(group.Prefix, zeroFill(ffo, group.FFOEnd), zeroFill(ff, group.FFEnd))
			}
		}
	}
	d.publish()
	d.log.Debug("fast faults added", "count", len(d.faults))

	if pv := d.line.ArbiterTimePV; pv != "" {
		d.onValue(channel.CA(pv), d.updateTimeDelta)
	}
	return d
}

func (d *FastFaults) addFault(prefix, ffo, ff string) {
	f := &fastFault{
		key:    fmt.Sprintf("%sFFO:%s:FF:%s", prefix, ffo, ff),
		macros: map[string]string{"P": prefix, "FFO": ffo, "FF": ff},
		values: make(map[string]string),
	}
	d.faults = append(d.faults, f)

	d.subscribe(channel.Expand(inUseFilter.Template, f.macros), channel.Funcs{
		Value: func(v any) {
			f.values[inUseFilter.Name] = boolText(v)
			d.publish()
		},
		Connection: func(connected bool) {
			f.connected = connected
			d.publish()
		},
	})
	for _, opt := range fastFaultFilterOptions {
		name := opt.Name
		d.onValue(channel.Expand(opt.Template, f.macros), func(v any) {
			f.values[name] = boolText(v)
			d.publish()
		})
	}
}

// Filters returns the active filters, the in-use filter first.
func (d *FastFaults) Filters() []Filter {
	filters := []Filter{inUseFilter}
	for _, opt := range fastFaultFilterOptions {
		if cond, ok := d.enabled[opt.Name]; ok {
			opt.Condition = cond
			filters = append(filters, opt)
		}
	}
	return filters
}

// visible reports whether a fault passes every filter. Disconnected faults
// are always hidden.
func (d *FastFaults) visible(f *fastFault, filters []Filter) bool {
	if !f.connected {
		return false
	}
	for _, filter := range filters {
		if f.values[filter.Name] != filter.Condition {
			return false
		}
	}
	return true
}

func (d *FastFaults) publish() {
	filters := d.Filters()
	rows := make([]models.TableRow, len(d.faults))
	for i, f := range d.faults {
		cells := map[string]any{
			"P":         f.macros["P"],
			"FFO":       f.macros["FFO"],
			"FF":        f.macros["FF"],
			"connected": f.connected,
		}
		for name, v := range f.values {
			cells[name] = v
		}
		rows[i] = models.TableRow{Key: f.key, Visible: d.visible(f, filters), Cells: cells}
	}
	d.view.SetTable(FastFaultsTable, rows)
}

// updateTimeDelta compares the arbiter clock (seconds since the epoch)
// with ours.
func (d *FastFaults) updateTimeDelta(v any) {
	arbiter, ok := models.ToInt64(v)
	if !ok {
		return
	}
	diff := arbiter - d.opts.Now().Unix()
	abs := diff
	if abs < 0 {
		abs = -abs
	}
	d.view.Update("time_delta_label", func(w *models.WidgetState) {
		w.Text = fmt.Sprintf("(%+ds)", diff)
		switch {
		case abs >= 5:
			w.Color = models.ColorRed
		case abs < 2:
			w.Color = models.ColorBlack
		}
	})
}

// Apply implements Display. Filter actions name an optional filter in
// Widget; Checked enables it and Text picks TRUE or FALSE.
func (d *FastFaults) Apply(a Action) error {
	if a.Type != ActionFilter {
		return ErrUnknownAction
	}
	known := false
	for _, opt := range fastFaultFilterOptions {
		if opt.Name == a.Widget {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownWidget, a.Widget)
	}
	cond := strings.ToUpper(strings.TrimSpace(a.Text))
	if cond == "" {
		cond = "TRUE"
	}
	if cond != "TRUE" && cond != "FALSE" {
		return fmt.Errorf("filter condition must be TRUE or FALSE, got %q", a.Text)
	}
	if a.Checked {
		d.enabled[a.Widget] = cond
	} else {
		delete(d.enabled, a.Widget)
	}
	d.view.SetChecked("ff_filter_gb_"+a.Widget, a.Checked)
	d.view.SetCurrentIndex("ff_filter_cb_"+a.Widget, map[string]int{"TRUE": 0, "FALSE": 1}[cond])
	d.publish()
	return nil
}

// boolText renders a binary PV the way its enum strings read.
func boolText(v any) string {
	if b, ok := models.ToBool(v); ok {
		return models.ToString(b)
	}
	return strings.ToUpper(models.ToString(v))
}
