package display

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/judgement"
)

const reqBP = testArbiter + "BeamParamCntl:ReqBP:"

// deafGateway accepts writes but never reports them back.
type deafGateway struct {
	mu   sync.Mutex
	puts []channel.Write
}

func (g *deafGateway) Monitor(string)   {}
func (g *deafGateway) Unmonitor(string) {}

func (g *deafGateway) Put(name string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.puts = append(g.puts, channel.Write{Name: name, Value: value})
	return nil
}

func (g *deafGateway) wrote(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range g.puts {
		if w.Name == name {
			return true
		}
	}
	return false
}

func TestLineBeamCheckboxes(t *testing.T) {
	h := newHarness(t, nil)
	h.lb.Seed(reqBP+"PhotonEnergyRanges", int64(0b101))
	d := h.open(t, NameLineBeamParameters)
	view := d.View()

	assert.True(t, view.Widget("bit0").Checked)
	assert.False(t, view.Widget("bit1").Checked)
	assert.True(t, view.Widget("bit2").Checked)

	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: "bit3", Checked: true}))
	assert.Equal(t, []any{int64(0b1101)}, h.writes(reqBP+"PhotonEnergyRanges"))
	assert.True(t, view.Widget("bit3").Checked)

	require.NoError(t, h.do(t, d, Action{Type: ActionCheck, Widget: "bit1_2", Checked: true}))
	assert.Equal(t, []any{int64(0b10)}, h.writes(reqBP+"BeamClassRanges"))
	// bit 1 allows beam class 2
	assert.Equal(t, 2, view.Widget("beamclassComboBox").CurrentIndex)

	assert.ErrorIs(t, h.do(t, d, Action{Type: ActionCheck, Widget: "bit40"}), ErrUnknownWidget)
	assert.ErrorIs(t, h.do(t, d, Action{Type: ActionCheck, Widget: "bit15_2"}), ErrUnknownWidget)
}

func TestLineBeamRate(t *testing.T) {
	h := newHarness(t, nil)
	h.lb.Seed(reqBP+"Rate", 50.0)
	d := h.open(t, NameLineBeamParameters)
	view := d.View()

	// 50 Hz is not requestable and reads as 10 Hz
	assert.Equal(t, 1, view.Widget("rateComboBox").CurrentIndex)

	require.NoError(t, h.do(t, d, Action{Type: ActionSelect, Widget: "rateComboBox", Index: 0}))
	assert.Equal(t, []any{120.0}, h.writes(reqBP+"Rate"))
	assert.Equal(t, 0, view.Widget("rateComboBox").CurrentIndex)

	assert.ErrorIs(t, h.do(t, d, Action{Type: ActionSelect, Widget: "rateComboBox", Index: 4}), ErrBadIndex)
}

func TestLineBeamBeamClassWithoutOverride(t *testing.T) {
	h := newHarness(t, nil)
	d := h.open(t, NameLineBeamParameters)

	require.NoError(t, h.do(t, d, Action{Type: ActionSelect, Widget: "beamclassComboBox", Index: 8}))
	assert.Equal(t, []any{int64(0xff)}, h.writes(reqBP+"BeamClassRanges"))
	assert.Equal(t, 8, d.View().Widget("beamclassComboBox").CurrentIndex)
}

func TestLineBeamJudgementFactor(t *testing.T) {
	h := newHarness(t, nil)
	h.lb.Seed(testArbiter+"IntensityJF_RBV", 2.5)
	h.lb.Seed(testArbiter+"ApplyJF_RBV", int64(1))
	h.lb.Seed(reqBP+"Transmission_RBV", 1.0)
	d := h.open(t, NameLineBeamParameters)
	lbp := d.(*LineBeamParameters)
	view := d.View()

	assert.Equal(t, judgement.Mapping{1, 1, 2, 3, 5, 5, 6, 7, 9, 9, 11, 12, 12, 15, 15, 15}, lbp.Mapping())
	assert.Equal(t, "1.00e+00", view.Widget("trans_get").Text)

	// class 8 is reached by requesting class 7
	require.NoError(t, h.do(t, d, Action{Type: ActionSelect, Widget: "beamclassComboBox", Index: 8}))
	assert.Equal(t, []any{int64(0x7f)}, h.writes(reqBP+"BeamClassRanges"))
	assert.Equal(t, 7, view.Widget("beamclassComboBox").CurrentIndex)

	h.lb.Seed(reqBP+"BeamClassRanges_RBV", int64(0x7f))
	h.sync(t)
	assert.Equal(t, "7: 1% MAP", view.Widget("max_bc_label").Text)

	h.lb.Seed(testArbiter+"ApplyJF_RBV", int64(0))
	h.sync(t)
	assert.Equal(t, judgement.Identity(16), lbp.Mapping())
}

func TestLineBeamTransmission(t *testing.T) {
	h := newHarness(t, nil)
	h.lb.Seed(testArbiter+"IntensityJF_RBV", 2.5)
	h.lb.Seed(testArbiter+"ApplyJF_RBV", true)
	d := h.open(t, NameLineBeamParameters)
	view := d.View()

	// the local channel's initial value is not a request
	assert.Equal(t, "1.00", view.Widget("trans_set").Text)
	assert.Empty(t, h.writes(reqBP+"Transmission"))

	require.NoError(t, h.do(t, d, Action{Type: ActionTransmission, Value: 0.5}))
	assert.Equal(t, "0.50", view.Widget("trans_set").Text)
	assert.Equal(t, []any{0.25}, h.writes(reqBP+"Transmission"))

	require.NoError(t, h.do(t, d, Action{Type: ActionTransmission, Value: 1}))
	assert.Equal(t, []any{0.25, 1.0}, h.writes(reqBP+"Transmission"))
}

func TestLineBeamApply(t *testing.T) {
	h := newHarness(t, nil)
	d := h.open(t, NameLineBeamParameters)
	require.NoError(t, h.do(t, d, Action{Type: ActionApply}))
	assert.Equal(t, []any{int64(1)}, h.writes(testArbiter+"BeamParamCntl:ApplyConfig"))
}

func TestZeroRateApplies(t *testing.T) {
	h := newHarness(t, nil)
	h.lb.Seed(reqBP+"Rate", 120.0)
	d := h.open(t, NameLineBeamParameters)

	require.NoError(t, h.do(t, d, Action{Type: ActionZeroRate}))
	assert.Equal(t, []any{0.0}, h.writes(reqBP+"Rate"))
	assert.Equal(t, []any{int64(0)}, h.writes(reqBP+"BeamClassRanges"))

	apply := testArbiter + "BeamParamCntl:ApplyConfig"
	require.Eventually(t, func() bool {
		return len(h.writes(apply)) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, d.View().Messages())
}

func TestZeroRateTimesOut(t *testing.T) {
	h := newHarness(t, nil)
	gw := &deafGateway{}
	h.bus.SetGateway(gw)
	d := h.open(t, NameLineBeamParameters)

	require.NoError(t, h.do(t, d, Action{Type: ActionZeroRate}))
	require.Eventually(t, func() bool {
		for _, m := range d.View().Messages() {
			if m == ZeroRateFailed {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 12, d.(*LineBeamParameters).ZeroRateAttempts())
	assert.True(t, gw.wrote(reqBP+"Rate"))
	assert.False(t, gw.wrote(testArbiter+"BeamParamCntl:ApplyConfig"))
}
