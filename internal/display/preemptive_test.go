package display

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/evrange"
	"github.com/pcdshub/pmps-ui/internal/models"
)

func requestLine(prefix string) *models.LineConfig {
	return &models.LineConfig{
		Name:              "LFE",
		LineArbiterPrefix: prefix,
		PreemptiveRequests: []models.PreemptiveGroup{{
			Prefix:          prefix,
			ArbiterInstance: "Arbiter:01",
			PoolStart:       1,
			PoolEnd:         3,
		}},
	}
}

type seededRequest struct {
	name     string
	id       int64
	rate     float64
	bcRanges int64
	trans    float64
	energy   int64
	cohort   int64
	live     bool
	vetoed   bool
}

func requestEntry(prefix string, i int) string {
	return fmt.Sprintf("%sArbiter:01:AP:Entry:%02d:", prefix, i)
}

func seedRequests(h *harness, prefix string, reqs []seededRequest) {
	for i, r := range reqs {
		entry := requestEntry(prefix, i+1)
		h.lb.Seed(entry+"Device_RBV", r.name)
		h.lb.Seed(entry+"ID_RBV", r.id)
		h.lb.Seed(entry+"Rate_RBV", r.rate)
		h.lb.Seed(entry+"BeamClassRanges_RBV", r.bcRanges)
		h.lb.Seed(entry+"Transmission_RBV", r.trans)
		h.lb.Seed(entry+"PhotonEnergyRanges_RBV", r.energy)
		h.lb.Seed(entry+"Cohort_RBV", r.cohort)
		h.lb.Seed(entry+"Live_RBV", r.live)
		h.lb.Seed(entry+"Veto_RBV", r.vetoed)
	}
}

func rowKeys(rows []models.TableRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Key[len(r.Key)-2:]
	}
	return out
}

func visibleSuffixes(rows []models.TableRow) []string {
	out := []string{}
	for _, r := range rows {
		if r.Visible {
			out = append(out, r.Key[len(r.Key)-2:])
		}
	}
	return out
}

var testRequests = []seededRequest{
	{name: "mirror", id: 30, rate: 120, bcRanges: 0b1111, trans: 0.5, energy: 0b111, cohort: 1, live: true},
	{name: "slit", id: 10, rate: 10, bcRanges: 0b1, trans: 1, energy: 0b1, cohort: 3, live: true, vetoed: true},
	{name: "attenuator", id: 20, rate: 1, bcRanges: 0b111111, trans: 0.1, energy: 0b11, cohort: 2, live: false},
}

func TestPreemptiveRequestRows(t *testing.T) {
	h := newHarness(t, requestLine(testArbiter))
	seedRequests(h, testArbiter, testRequests)
	d := h.open(t, NamePreemptiveRequests)
	view := d.View()
	table := h.opts.Table

	rows := view.Table(PreemptiveRequestsTable)
	require.Len(t, rows, 3)
	assert.Equal(t, testArbiter+"Arbiter:01:AP:Entry:01", rows[0].Key)
	assert.Equal(t, "mirror", rows[0].Cells["name"])
	assert.Equal(t, "120 Hz", rows[0].Cells["rate"])
	assert.Equal(t, 4, rows[0].Cells["beamclass"])
	assert.Equal(t, table.LabelText("4"), rows[0].Cells["beamclassLabel"])
	assert.Equal(t, table.TooltipOrEmpty(4), rows[0].Cells["beamclassTooltip"])
	assert.Equal(t, 4, rows[0].Cells["beamclassRanges"])
	assert.Equal(t, table.BitmaskTooltip(0b1111), rows[0].Cells["beamclassRangesTooltip"])
	assert.Equal(t, 3, rows[0].Cells["energy"])
	assert.Equal(t, evrange.NotLoaded, rows[0].Cells["energyTooltip"])
	assert.Equal(t, "5.00e-01", rows[0].Cells["transmission"])
	assert.Equal(t, false, rows[0].Cells["vetoed"])
	assert.Equal(t, true, rows[1].Cells["vetoed"])
	// inactive requests are hidden by default
	assert.Equal(t, []bool{true, true, false}, []bool{rows[0].Visible, rows[1].Visible, rows[2].Visible})
	for _, id := range []string{FilterFullBeam, FilterInactive, FilterDisconnected} {
		assert.True(t, view.Widget(id).Checked, id)
	}
	assert.False(t, view.Widget(FilterVetoed).Checked)

	bounds := []float64{100, 200, 300, 400}
	h.lb.Seed(testArbiter+"eVRangeCnst_RBV", bounds)
	h.sync(t)
	rows = view.Table(PreemptiveRequestsTable)
	assert.Equal(t, evrange.Tooltip(0b111, bounds), rows[0].Cells["energyTooltip"])

	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: FilterInactive, Checked: false}))
	assert.Len(t, visibleKeys(view.Table(PreemptiveRequestsTable)), 3)

	require.NoError(t, h.do(t, d, Action{Type: ActionFilter, Widget: "bitmask", Checked: true, Value: 0b11}))
	assert.Equal(t, []string{testArbiter + "Arbiter:01:AP:Entry:03"}, visibleKeys(view.Table(PreemptiveRequestsTable)))

	assert.ErrorIs(t, h.do(t, d, Action{Type: ActionCheck, Widget: "live_filter", Checked: true}), ErrUnknownWidget)
}

func TestPreemptiveRequestFilters(t *testing.T) {
	h := newHarness(t, requestLine(testArbiter))
	seedRequests(h, testArbiter, testRequests)
	d := h.open(t, NamePreemptiveRequests)
	view := d.View()
	visible := func() []string {
		t.Helper()
		h.sync(t)
		return visibleSuffixes(view.Table(PreemptiveRequestsTable))
	}
	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: FilterInactive, Checked: false}))
	assert.Equal(t, []string{"01", "02", "03"}, visible())

	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: FilterVetoed, Checked: true}))
	assert.Equal(t, []string{"01", "03"}, visible())

	require.NoError(t, h.bus.SetConnection(channel.CA(requestEntry(testArbiter, 3)+"Live_RBV"), false))
	assert.Equal(t, []string{"01"}, visible())

	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: FilterDisconnected, Checked: false}))
	assert.Equal(t, []string{"01", "03"}, visible())

	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: FilterVetoed, Checked: false}))
	assert.Equal(t, []string{"01", "02", "03"}, visible())

	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: FilterInactive, Checked: true}))
	assert.Equal(t, []string{"01", "02"}, visible())
	assert.True(t, view.Widget(FilterInactive).Checked)
	assert.False(t, view.Widget(FilterDisconnected).Checked)
}

func TestPreemptiveRequestFullBeamByMode(t *testing.T) {
	const noEnergyLimit = -1 // all 32 bits once read as unsigned
	h := newHarness(t, requestLine(testArbiter))
	seedRequests(h, testArbiter, []seededRequest{
		{name: "open", rate: 120, bcRanges: 0x1fff, trans: 1, energy: noEnergyLimit, live: true},
		{name: "nc-open", rate: 120, bcRanges: 0b1, trans: 1, energy: noEnergyLimit, live: true},
		{name: "sc-open", rate: 10, bcRanges: 0x1fff, trans: 1, energy: noEnergyLimit, live: true},
	})
	d := h.open(t, NamePreemptiveRequests)
	view := d.View()
	visible := func() []string {
		t.Helper()
		h.sync(t)
		return visibleSuffixes(view.Table(PreemptiveRequestsTable))
	}
	mode := func(m string) {
		t.Helper()
		require.NoError(t, h.bus.Put("loc://test/"+ModeChannel, m))
	}

	// without a mode both the rate and the beam class must be open
	assert.Equal(t, []string{"02", "03"}, visible())
	assert.Equal(t, true, view.Table(PreemptiveRequestsTable)[0].Cells["fullBeam"])

	mode("NC")
	assert.Equal(t, []string{"03"}, visible())
	assert.True(t, view.Widget("rate_header").Visible)
	assert.False(t, view.Widget("beamclass_header").Visible)
	assert.False(t, view.Widget("beamclass_ranges_header").Visible)

	mode("SC")
	assert.Equal(t, []string{"02"}, visible())
	assert.False(t, view.Widget("rate_header").Visible)
	assert.True(t, view.Widget("beamclass_header").Visible)
	assert.True(t, view.Widget("beamclass_ranges_header").Visible)

	mode("Both")
	assert.Equal(t, []string{"02", "03"}, visible())
	assert.True(t, view.Widget("rate_header").Visible)
	assert.True(t, view.Widget("beamclass_header").Visible)

	// any restriction on transmission or energy is not full beam
	h.lb.Seed(requestEntry(testArbiter, 1)+"Transmission_RBV", 0.5)
	assert.Equal(t, []string{"01", "02", "03"}, visible())
	h.lb.Seed(requestEntry(testArbiter, 1)+"Transmission_RBV", 1.0)
	h.lb.Seed(requestEntry(testArbiter, 1)+"PhotonEnergyRanges_RBV", int64(0x7fffffff))
	assert.Equal(t, []string{"01", "02", "03"}, visible())
	h.lb.Seed(requestEntry(testArbiter, 1)+"PhotonEnergyRanges_RBV", int64(noEnergyLimit))
	assert.Equal(t, []string{"02", "03"}, visible())

	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: FilterFullBeam, Checked: false}))
	assert.Equal(t, []string{"01", "02", "03"}, visible())
}

func TestPreemptiveRequestSort(t *testing.T) {
	h := newHarness(t, requestLine(testArbiter))
	seedRequests(h, testArbiter, testRequests)
	d := h.open(t, NamePreemptiveRequests)
	view := d.View()
	assert.Equal(t, SortChoices(), view.Widget("sort_choices").Items)

	sortBy := func(column string, descending bool) []string {
		t.Helper()
		index := -1
		for i, c := range SortChoices() {
			if c == column {
				index = i
			}
		}
		require.GreaterOrEqual(t, index, 0, column)
		require.NoError(t, h.do(t, d, Action{Type: ActionSort, Index: index, Descending: descending}))
		return rowKeys(view.Table(PreemptiveRequestsTable))
	}

	assert.Equal(t, []string{"03", "01", "02"}, sortBy("Device", false))
	assert.Equal(t, []string{"02", "03", "01"}, sortBy("Assertion ID", false))
	assert.Equal(t, []string{"01", "03", "02"}, sortBy("Assertion ID", true))
	assert.Equal(t, []string{"03", "02", "01"}, sortBy("Rate [NC]", false))
	assert.Equal(t, []string{"02", "01", "03"}, sortBy("Max Beam Class [SC]", false))
	assert.Equal(t, []string{"03", "01", "02"}, sortBy("Beam Class Ranges [SC]", true))
	// numeric, not by the rendered text
	assert.Equal(t, []string{"03", "01", "02"}, sortBy("Transmission", false))
	assert.Equal(t, []string{"01", "03", "02"}, sortBy("Photon Energy Ranges", true))
	assert.Equal(t, []string{"01", "03", "02"}, sortBy("Cohort Number", false))
	assert.Equal(t, []string{"03", "01", "02"}, sortBy("Active Arbitration", false))
	assert.Equal(t, []string{"02", "03", "01"}, sortBy("Vetoed", true))
	assert.Equal(t, []string{"01", "02", "03"}, sortBy("Unsorted", false))
	assert.Equal(t, 0, view.Widget("order_choice").CurrentIndex)
	assert.Equal(t, []string{"03", "02", "01"}, sortBy("Unsorted", true))
	assert.Equal(t, 1, view.Widget("order_choice").CurrentIndex)

	assert.ErrorIs(t, h.do(t, d, Action{Type: ActionSort, Index: 99}), ErrBadIndex)
}
