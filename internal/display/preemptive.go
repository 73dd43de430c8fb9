package display

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pcdshub/pmps-ui/internal/bitmask"
	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/evrange"
	"github.com/pcdshub/pmps-ui/internal/judgement"
	"github.com/pcdshub/pmps-ui/internal/models"
	"github.com/pcdshub/pmps-ui/internal/rate"
)

// PreemptiveRequestsTable is the table widget holding one row per
// assertion pool entry.
const PreemptiveRequestsTable = "reqs_table"

// Row filter checkboxes. Each hides the rows it names while checked.
const (
	FilterFullBeam     = "full_beam"
	FilterInactive     = "inactive"
	FilterDisconnected = "disconnected"
	FilterVetoed       = "vetoed"
)

// fullBeamClass is the lowest beam class that counts as full beam in SC
// mode.
const fullBeamClass = 13

// SortColumn describes one entry of the sort selector.
type SortColumn struct {
	Name   string
	Text   string
	Suffix string
	less   func(a, b *request) bool
}

// SortColumns are the sort selector entries after "Unsorted". Each sorts by
// its typed value, never by the rendered text.
var SortColumns = []SortColumn{
	{Name: "name", Text: "Device", Suffix: "Device_RBV", less: func(a, b *request) bool { return a.name < b.name }},
	{Name: "id", Text: "Assertion ID", Suffix: "ID_RBV", less: func(a, b *request) bool { return a.id < b.id }},
	{Name: "rate", Text: "Rate [NC]", Suffix: "Rate_RBV", less: func(a, b *request) bool { return a.rate < b.rate }},
	{Name: "beamclass", Text: "Max Beam Class [SC]", Suffix: "BeamClassRanges_RBV", less: func(a, b *request) bool {
		return a.maxBC < b.maxBC
	}},
	{Name: "beamclassRanges", Text: "Beam Class Ranges [SC]", Suffix: "BeamClassRanges_RBV", less: func(a, b *request) bool {
		return bitmask.Count(a.bcRanges) < bitmask.Count(b.bcRanges)
	}},
	{Name: "trans", Text: "Transmission", Suffix: "Transmission_RBV", less: func(a, b *request) bool { return a.trans < b.trans }},
	{Name: "energy", Text: "Photon Energy Ranges", Suffix: "PhotonEnergyRanges_RBV", less: func(a, b *request) bool {
		return bitmask.Count(a.energy) < bitmask.Count(b.energy)
	}},
	{Name: "cohort", Text: "Cohort Number", Suffix: "Cohort_RBV", less: func(a, b *request) bool { return a.cohort < b.cohort }},
	{Name: "active", Text: "Active Arbitration", Suffix: "Live_RBV", less: func(a, b *request) bool { return !a.active && b.active }},
	{Name: "vetoed", Text: "Vetoed", Suffix: "Veto_RBV", less: func(a, b *request) bool { return !a.vetoed && b.vetoed }},
}

// SortChoices returns the sort selector items.
func SortChoices() []string {
	out := []string{"Unsorted"}
	for _, c := range SortColumns {
		out = append(out, c.Text)
	}
	return out
}

type request struct {
	key   string
	order int

	name      string
	id        int64
	rate      float64
	bcRanges  uint32
	maxBC     int
	rawTrans  float64
	hasTrans  bool
	trans     float64
	energy    uint32
	cohort    int64
	active    bool
	vetoed    bool
	connected bool
}

// PreemptiveRequests lists the arbiter's assertion pool with sorting and
// filtering.
type PreemptiveRequests struct {
	base

	requests []*request

	sortIndex  int
	descending bool
	autoSort   bool

	hideFullBeam     bool
	hideInactive     bool
	hideDisconnected bool
	hideVetoed       bool
	energyFilter     bool
	energyMask       uint32

	evBounds  []float64
	jfSetting float64
	jfOn      bool
	mode      string
}

// NewPreemptiveRequests builds the display and subscribes its channels.
func NewPreemptiveRequests(opts Options) *PreemptiveRequests {
	d := &PreemptiveRequests{
		base:             newBase(NamePreemptiveRequests, opts),
		hideFullBeam:     true,
		hideInactive:     true,
		hideDisconnected: true,
		jfSetting:        judgement.DefaultFactor,
	}
	p := d.arbiter()

	d.view.SetItems("sort_choices", SortChoices())
	d.view.SetItems("order_choice", []string{"Ascending", "Descending"})
	d.view.SetChecked(FilterFullBeam, d.hideFullBeam)
	d.view.SetChecked(FilterInactive, d.hideInactive)
	d.view.SetChecked(FilterDisconnected, d.hideDisconnected)
	d.view.SetChecked(FilterVetoed, d.hideVetoed)
	// the LFE arbiter has no judgement factor override
	d.view.SetVisible("trans_5mj_header", !strings.Contains(p, "LFE"))

	for _, group := range d.line.PreemptiveRequests {
		for pool := group.PoolStart; pool <= group.PoolEnd; pool++ {
			d.addRequest(group, zeroFill(pool, group.PoolEnd))
		}
	}
	d.log.Debug("preemptive requests added", "count", len(d.requests))

	if p != "" {
		d.onValue(channel.CA(p+"IntensityJF_RBV"), func(v any) {
			jf, ok := models.ToFloat64(v)
			if !ok {
				return
			}
			d.jfSetting = jf
			d.rescaleAll()
		})
		d.onValue(channel.CA(p+"ApplyJF_RBV"), func(v any) {
			on, ok := models.ToBool(v)
			if !ok {
				return
			}
			d.jfOn = on
			d.rescaleAll()
		})
		d.onValue(channel.CA(p+"eVRangeCnst_RBV"), func(v any) {
			if bounds, ok := models.ToFloat64s(v); ok {
				d.evBounds = bounds
				d.refresh()
			}
		})
	}
	d.onValue(d.local(ModeChannel, nil), func(v any) {
		d.mode = models.ToString(v)
		d.view.SetVisible("rate_header", d.mode != "SC")
		d.view.SetVisible("beamclass_header", d.mode != "NC")
		d.view.SetVisible("beamclass_ranges_header", d.mode != "NC")
		d.refresh()
	})
	d.refresh()
	return d
}

func (d *PreemptiveRequests) addRequest(group models.PreemptiveGroup, pool string) {
	entry := fmt.Sprintf("%s%s:AP:Entry:%s:", group.Prefix, group.ArbiterInstance, pool)
	r := &request{key: strings.TrimSuffix(entry, ":"), order: len(d.requests)}
	d.requests = append(d.requests, r)
	pv := func(suffix string) string { return channel.CA(entry + suffix) }

	d.onValue(pv("Device_RBV"), func(v any) {
		r.name = stringFromWaveform(v)
		d.changed()
	})
	d.onValue(pv("ID_RBV"), func(v any) {
		r.id, _ = models.ToInt64(v)
		d.changed()
	})
	d.onValue(pv("Rate_RBV"), func(v any) {
		f, _ := models.ToFloat64(v)
		r.rate = rate.Quantize(f)
		d.changed()
	})
	d.onValue(pv("BeamClassRanges_RBV"), func(v any) {
		n, _ := models.ToInt64(v)
		r.bcRanges = bitmask.ToUnsigned32(n)
		r.maxBC = d.table.MaxFromBitmask(r.bcRanges)
		d.changed()
	})
	d.onValue(pv("Transmission_RBV"), func(v any) {
		f, ok := models.ToFloat64(v)
		if !ok {
			return
		}
		r.rawTrans = f
		r.hasTrans = true
		d.rescale(r)
		d.changed()
	})
	d.onValue(pv("PhotonEnergyRanges_RBV"), func(v any) {
		n, _ := models.ToInt64(v)
		r.energy = bitmask.ToUnsigned32(n)
		d.changed()
	})
	d.onValue(pv("Cohort_RBV"), func(v any) {
		r.cohort, _ = models.ToInt64(v)
		d.changed()
	})
	d.onValue(pv("Veto_RBV"), func(v any) {
		r.vetoed, _ = models.ToBool(v)
		d.changed()
	})
	d.subscribe(pv("Live_RBV"), channel.Funcs{
		Value: func(v any) {
			r.active, _ = models.ToBool(v)
			d.changed()
		},
		Connection: func(connected bool) {
			r.connected = connected
			d.changed()
		},
	})
}

// rescale shows a request's transmission as the effective value under the
// judgement factor.
func (d *PreemptiveRequests) rescale(r *request) {
	if !r.hasTrans {
		return
	}
	if d.jfOn {
		r.trans = judgement.TransmissionReadback(r.rawTrans, judgement.EffectiveFactor(d.jfSetting, true))
	} else {
		r.trans = r.rawTrans
	}
}

func (d *PreemptiveRequests) rescaleAll() {
	for _, r := range d.requests {
		d.rescale(r)
	}
	d.changed()
}

// changed re-sorts when auto sort is on and republishes the table.
func (d *PreemptiveRequests) changed() {
	if d.autoSort {
		d.sortRequests()
	}
	d.refresh()
}

// sortRequests orders rows by the selected column. Unsorted is the
// insertion order, reversed when descending.
func (d *PreemptiveRequests) sortRequests() {
	less := func(a, b *request) bool { return a.order < b.order }
	if d.sortIndex > 0 {
		less = SortColumns[d.sortIndex-1].less
	}
	if d.descending {
		sort.SliceStable(d.requests, func(i, j int) bool { return less(d.requests[j], d.requests[i]) })
		return
	}
	sort.SliceStable(d.requests, func(i, j int) bool { return less(d.requests[i], d.requests[j]) })
}

// fullBeam reports whether a request asks for no restriction at all. What
// counts as full rate depends on the accelerator mode: NC looks at the
// rate, SC at the beam class, and an ambiguous mode needs both.
func (d *PreemptiveRequests) fullBeam(r *request) bool {
	fullRate := r.rate >= rate.ValidRates[0]
	fullBC := r.maxBC >= fullBeamClass
	var rateOK bool
	switch d.mode {
	case "NC":
		rateOK = fullRate
	case "SC":
		rateOK = fullBC
	default:
		rateOK = fullRate && fullBC
	}
	return rateOK && r.trans >= 1 && bitmask.Count(r.energy) >= EnergyBits
}

func (d *PreemptiveRequests) visible(r *request) bool {
	switch {
	case d.hideFullBeam && d.fullBeam(r):
		return false
	case d.hideInactive && !r.active:
		return false
	case d.hideDisconnected && !r.connected:
		return false
	case d.hideVetoed && r.vetoed:
		return false
	case d.energyFilter && r.energy != d.energyMask:
		return false
	}
	return true
}

func (d *PreemptiveRequests) refresh() {
	rows := make([]models.TableRow, len(d.requests))
	for i, r := range d.requests {
		cells := map[string]any{
			"name":                   r.name,
			"id":                     r.id,
			"rate":                   rate.Label(r.rate),
			"beamclass":              r.maxBC,
			"beamclassLabel":         d.table.LabelText(strconv.Itoa(r.maxBC)),
			"beamclassTooltip":       d.table.TooltipOrEmpty(r.maxBC),
			"beamclassRanges":        bitmask.Count(r.bcRanges),
			"beamclassMask":          r.bcRanges,
			"beamclassRangesTooltip": d.table.BitmaskTooltip(r.bcRanges),
			"energy":                 bitmask.Count(r.energy),
			"energyMask":             r.energy,
			"energyTooltip":          evrange.Tooltip(int64(r.energy), d.evBounds),
			"cohort":                 r.cohort,
			"active":                 r.active,
			"vetoed":                 r.vetoed,
			"connected":              r.connected,
			"fullBeam":               d.fullBeam(r),
			"transmission":           "",
		}
		if r.hasTrans {
			cells["transmission"] = judgement.FormatReadback(r.trans)
			cells["rawTransmission"] = judgement.FormatReadback(r.rawTrans)
		}
		rows[i] = models.TableRow{Key: r.key, Visible: d.visible(r), Cells: cells}
	}
	d.view.SetTable(PreemptiveRequestsTable, rows)
}

// Apply implements Display.
//
//	sort:   Index picks the sort column (0 is Unsorted), Descending the order
//	check:  "auto_update" toggles re-sorting on every change; "full_beam",
//	        "inactive", "disconnected" and "vetoed" hide matching rows
//	filter: "bitmask" shows only requests with exactly the energy mask Value
func (d *PreemptiveRequests) Apply(a Action) error {
	switch a.Type {
	case ActionSort:
		if a.Index < 0 || a.Index > len(SortColumns) {
			return ErrBadIndex
		}
		d.sortIndex = a.Index
		d.descending = a.Descending
		d.view.SetCurrentIndex("sort_choices", a.Index)
		order := 0
		if a.Descending {
			order = 1
		}
		d.view.SetCurrentIndex("order_choice", order)
		d.sortRequests()
	case ActionCheck:
		switch a.Widget {
		case "auto_update":
			d.autoSort = a.Checked
			if a.Checked {
				d.sortRequests()
			}
		case FilterFullBeam:
			d.hideFullBeam = a.Checked
		case FilterInactive:
			d.hideInactive = a.Checked
		case FilterDisconnected:
			d.hideDisconnected = a.Checked
		case FilterVetoed:
			d.hideVetoed = a.Checked
		default:
			return fmt.Errorf("%w: %s", ErrUnknownWidget, a.Widget)
		}
		d.view.SetChecked(a.Widget, a.Checked)
	case ActionFilter:
		if a.Widget != "bitmask" {
			return fmt.Errorf("%w: %s", ErrUnknownWidget, a.Widget)
		}
		d.energyFilter = a.Checked
		d.energyMask = bitmask.ToUnsigned32(int64(a.Value))
		d.view.SetChecked("ff_filter_gb_bitmask", a.Checked)
	default:
		return ErrUnknownAction
	}
	d.refresh()
	return nil
}

// stringFromWaveform decodes an EPICS char waveform, stopping at the first
// NUL. Plain strings pass through.
func stringFromWaveform(v any) string {
	arr, ok := models.ToFloat64s(v)
	if !ok {
		return models.ToString(v)
	}
	var sb strings.Builder
	for _, c := range arr {
		if c == 0 {
			break
		}
		sb.WriteRune(rune(int(c)))
	}
	return sb.String()
}
