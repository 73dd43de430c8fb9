package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcdshub/pmps-ui/internal/models"
)

const (
	plcPrefix  = "PLC:LFE:MOTION:"
	arbiterClk = "PMPS:LFE:ARB:TIME"
)

func faultLine(ffoEnd int) *models.LineConfig {
	return &models.LineConfig{
		Name:              "LFE",
		LineArbiterPrefix: testArbiter,
		ArbiterTimePV:     arbiterClk,
		FastFaults: []models.FastFaultGroup{{
			Name:     "LFE Motion",
			Prefix:   plcPrefix,
			FFOStart: 1,
			FFOEnd:   ffoEnd,
			FFStart:  1,
			FFEnd:    2,
			FFODesc:  []string{"first", "second"},
			FFOVeto:  []string{"none", "ST1K4"},
		}},
	}
}

func visibleKeys(rows []models.TableRow) []string {
	var out []string
	for _, r := range rows {
		if r.Visible {
			out = append(out, r.Key)
		}
	}
	return out
}

func TestFastFaultFilters(t *testing.T) {
	h := newHarness(t, faultLine(1))
	h.lb.Seed(plcPrefix+"FFO:01:FF:01:Info:InUse_RBV", true)
	h.lb.Seed(plcPrefix+"FFO:01:FF:02:Info:InUse_RBV", int64(1))
	h.lb.Seed(plcPrefix+"FFO:01:FF:01:OK_RBV", "TRUE")
	h.lb.Seed(plcPrefix+"FFO:01:FF:02:OK_RBV", false)
	d := h.open(t, NameFastFaults)
	view := d.View()

	ff1 := plcPrefix + "FFO:01:FF:01"
	ff2 := plcPrefix + "FFO:01:FF:02"
	rows := view.Table(FastFaultsTable)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{ff1, ff2}, visibleKeys(rows))
	assert.Equal(t, "TRUE", rows[0].Cells["ok"])
	assert.Equal(t, "FALSE", rows[1].Cells["ok"])

	require.NoError(t, h.do(t, d, Action{Type: ActionFilter, Widget: "ok", Checked: true}))
	assert.Equal(t, []string{ff1}, visibleKeys(view.Table(FastFaultsTable)))
	assert.True(t, view.Widget("ff_filter_gb_ok").Checked)

	require.NoError(t, h.do(t, d, Action{Type: ActionFilter, Widget: "ok", Checked: true, Text: "false"}))
	assert.Equal(t, []string{ff2}, visibleKeys(view.Table(FastFaultsTable)))
	assert.Equal(t, 1, view.Widget("ff_filter_cb_ok").CurrentIndex)

	// nothing reports vetoed, so enabling it hides everything
	require.NoError(t, h.do(t, d, Action{Type: ActionFilter, Widget: "vetoed", Checked: true}))
	assert.Empty(t, visibleKeys(view.Table(FastFaultsTable)))

	require.NoError(t, h.do(t, d, Action{Type: ActionFilter, Widget: "vetoed"}))
	require.NoError(t, h.do(t, d, Action{Type: ActionFilter, Widget: "ok"}))
	assert.Equal(t, []string{ff1, ff2}, visibleKeys(view.Table(FastFaultsTable)))
	assert.Len(t, d.(*FastFaults).Filters(), 1)

	assert.ErrorIs(t, h.do(t, d, Action{Type: ActionFilter, Widget: "inuse"}), ErrUnknownWidget)
	assert.Error(t, h.do(t, d, Action{Type: ActionFilter, Widget: "ok", Checked: true, Text: "maybe"}))
}

func TestFastFaultNotInUseIsHidden(t *testing.T) {
	h := newHarness(t, faultLine(1))
	h.lb.Seed(plcPrefix+"FFO:01:FF:01:Info:InUse_RBV", false)
	d := h.open(t, NameFastFaults)
	assert.Empty(t, visibleKeys(d.View().Table(FastFaultsTable)))
}

func TestArbiterClockDelta(t *testing.T) {
	h := newHarness(t, faultLine(1))
	d := h.open(t, NameFastFaults)
	view := d.View()

	h.lb.Seed(arbiterClk, int64(1007))
	h.sync(t)
	w := view.Widget("time_delta_label")
	assert.Equal(t, "(+7s)", w.Text)
	assert.Equal(t, models.ColorRed, w.Color)

	h.lb.Seed(arbiterClk, int64(1001))
	h.sync(t)
	w = view.Widget("time_delta_label")
	assert.Equal(t, "(+1s)", w.Text)
	assert.Equal(t, models.ColorBlack, w.Color)

	// between 2 and 5 seconds the color is left alone
	h.lb.Seed(arbiterClk, int64(997))
	h.sync(t)
	w = view.Widget("time_delta_label")
	assert.Equal(t, "(-3s)", w.Text)
	assert.Equal(t, models.ColorBlack, w.Color)
}
