package display

import (
	"net/url"

	"github.com/pcdshub/pmps-ui/internal/bitmask"
	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/evrange"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// ModeItems are the accelerator mode selector entries.
var ModeItems = []string{"Auto", "NC", "SC", "Both"}

// ModeChannel is the local channel other displays read the selected
// accelerator mode from.
const ModeChannel = "selected_mode"

// Summary is the header of the main screen: current and requested beam
// class and eV ranges, and the accelerator mode selector.
type Summary struct {
	base

	evBounds []float64
	evMasks  map[string]int64

	modeIndex int
	pvValue   any
	modeEnums []string
	pvMode    string
	hasPVMode bool
}

// NewSummary builds the summary display and subscribes its channels.
func NewSummary(opts Options) *Summary {
	s := &Summary{base: newBase(NameSummary, opts), evMasks: make(map[string]int64)}
	p := s.arbiter()
	s.modeEnums = s.line.AcceleratorModeEnums

	s.view.SetItems("mode_combo", ModeItems)
	s.view.SetTooltip("ev_req_bytes", evrange.NotLoaded)
	s.view.SetTooltip("ev_curr_bytes", evrange.NotLoaded)
	s.view.Update("dashboard_link", func(w *models.WidgetState) {
		w.Text = s.line.DashboardURL
		w.Visible = s.line.DashboardURL != ""
	})

	s.onValue(channel.CA(p+"CurrentBP:BeamClass_RBV"), func(v any) {
		s.beamClassLabel("curr_bc_label", v)
	})
	s.onValue(channel.CA(p+"RequestedBP:BeamClass_RBV"), func(v any) {
		s.beamClassLabel("req_bc_label", v)
	})
	s.onValue(channel.CA(p+"eVRangeCnst_RBV"), func(v any) {
		if bounds, ok := models.ToFloat64s(v); ok {
			s.evBounds = bounds
			for id := range s.evMasks {
				s.updateEVTooltip(id)
			}
		}
	})
	for id, pv := range map[string]string{
		"ev_req_bytes":  "RequestedBP:PhotonEnergyRanges_RBV",
		"ev_curr_bytes": "CurrentBP:PhotonEnergyRanges_RBV",
	} {
		id := id
		s.onValue(channel.CA(p+pv), func(v any) {
			if mask, ok := models.ToInt64(v); ok {
				s.evMasks[id] = mask
				s.updateEVTooltip(id)
			}
		})
	}

	s.subscribe(s.modeAddress(true), channel.Funcs{Value: func(v any) {
		s.view.SetText("mode_label", models.ToString(v))
	}})
	if pv := s.line.AcceleratorModePV; pv != "" {
		s.subscribe(channel.CA(pv), channel.Funcs{
			Value: func(v any) {
				s.pvValue = v
				s.updateAcceleratorMode()
			},
			Enums: func(enums []string) {
				s.modeEnums = enums
				s.updateAcceleratorMode()
			},
		})
	}
	return s
}

func (s *Summary) modeAddress(withInit bool) string {
	if !withInit {
		return s.local(ModeChannel, nil)
	}
	return s.local(ModeChannel, url.Values{"type": {"str"}, "init": {"Both"}})
}

func (s *Summary) beamClassLabel(id string, v any) {
	n, ok := models.ToInt64(v)
	if !ok {
		s.view.SetText(id, models.ToString(v))
		return
	}
	s.setBeamClassLabel(id, int(n))
}

func (s *Summary) updateEVTooltip(id string) {
	if s.evBounds == nil {
		return
	}
	mask := s.evMasks[id]
	s.view.Update(id, func(w *models.WidgetState) {
		w.Tooltip = evrange.Tooltip(mask, s.evBounds)
		w.Text = bitsText(bitmask.ToUnsigned32(mask), len(s.evBounds))
	})
}

// updateAcceleratorMode resolves the mode PV to a mode name. Strings are
// used as is; an enum index is looked up in the PV's state strings and is
// held back until those are known.
func (s *Summary) updateAcceleratorMode() {
	switch v := s.pvValue.(type) {
	case nil:
		return
	case string:
		s.pvMode = v
	default:
		index, ok := models.ToInt64(v)
		if !ok || index < 0 || index >= int64(len(s.modeEnums)) {
			return
		}
		s.pvMode = s.modeEnums[index]
	}
	s.hasPVMode = true
	s.modeActivated(s.modeIndex)
}

// modeActivated publishes the mode for a selector index. Auto follows the
// accelerator mode PV and falls back to Both until it reports.
func (s *Summary) modeActivated(index int) {
	s.modeIndex = index
	s.view.SetCurrentIndex("mode_combo", index)
	mode := ModeItems[index]
	if index == 0 {
		mode = "Both"
		if s.hasPVMode {
			mode = s.pvMode
		}
	}
	s.put(s.modeAddress(false), mode)
}

// Apply implements Display.
func (s *Summary) Apply(a Action) error {
	if a.Type != ActionSelect || a.Widget != "mode_combo" {
		return ErrUnknownAction
	}
	if a.Index < 0 || a.Index >= len(ModeItems) {
		return ErrBadIndex
	}
	s.modeActivated(a.Index)
	return nil
}

// bitsText renders the low n bits of mask, most significant first.
func bitsText(mask uint32, n int) string {
	if n > 32 {
		n = 32
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = '0'
		if bitmask.IsSet(mask, i) {
			out[n-1-i] = '1'
		}
	}
	return string(out)
}
