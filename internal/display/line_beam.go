package display

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/pcdshub/pmps-ui/internal/bitmask"
	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/evrange"
	"github.com/pcdshub/pmps-ui/internal/judgement"
	"github.com/pcdshub/pmps-ui/internal/models"
	"github.com/pcdshub/pmps-ui/internal/rate"
)

const (
	// EnergyBits is the number of photon energy range checkboxes.
	EnergyBits = 32
	// BeamClassBits is the number of beam-class range checkboxes. Bit n
	// enables beam class n+1.
	BeamClassBits = 15

	// ZeroRateFailed is shown when the zero rate request never reads back.
	ZeroRateFailed = "Apply zero rate failed!"
	// zeroRateRetries follows the first check, giving 12 checks in all.
	zeroRateRetries = 11
)

var errRateNotApplied = errors.New("rate request has not reached zero")

// LineBeamParameters is the line beam parameter control tab: requested
// energy ranges, rate, beam class and transmission, with the judgement
// factor override folded in.
type LineBeamParameters struct {
	base

	reqBP string

	energyBits [EnergyBits]bool
	bcBits     [BeamClassBits]bool

	rateReq    float64
	hasRateReq bool
	cachedBC   uint32

	evBounds []float64
	evMask   int64

	transRBV  float64
	jfSetting float64
	jfOn      bool
	mapping   judgement.Mapping

	pendingInitTrans int

	zeroRateCancel   context.CancelFunc
	zeroRateAttempts atomic.Int32
}

// NewLineBeamParameters builds the display and subscribes its channels.
func NewLineBeamParameters(opts Options) *LineBeamParameters {
	d := &LineBeamParameters{
		base:             newBase(NameLineBeamParameters, opts),
		transRBV:         1,
		jfSetting:        judgement.DefaultFactor,
		pendingInitTrans: 1,
	}
	d.reqBP = d.arbiter() + "BeamParamCntl:ReqBP:"
	d.mapping = judgement.Identity(d.table.Len())

	for bit := 0; bit < BeamClassBits; bit++ {
		d.view.SetTooltip(bcBitWidget(bit), d.table.TooltipOrEmpty(bit+1))
	}
	d.view.SetItems("rateComboBox", rate.Labels())
	d.view.SetItems("beamclassComboBox", d.table.ComboItems())
	d.view.SetTooltip("beamclassComboBox", d.table.TooltipOrEmpty(0))
	d.view.SetTooltip("ev_rbv_bytes", evrange.NotLoaded)

	d.onValue(d.ca("PhotonEnergyRanges"), d.energyRangeChanged)
	d.onValue(d.ca("Rate"), d.watchRate)
	d.onValue(d.ca("BeamClassRanges"), d.bcRangeChanged)
	d.onValue(d.ca("BeamClassRanges_RBV"), d.bcRangeRBV)
	d.onValue(channel.CA(d.arbiter()+"eVRangeCnst_RBV"), func(v any) {
		if bounds, ok := models.ToFloat64s(v); ok {
			d.evBounds = bounds
			d.updateEVTooltip()
		}
	})
	d.onValue(d.ca("PhotonEnergyRanges_RBV"), func(v any) {
		if mask, ok := models.ToInt64(v); ok {
			d.evMask = mask
			d.updateEVTooltip()
		}
	})

	d.subscribe(d.transSetAddress(true), channel.Funcs{Value: d.guiTransSet})
	d.onValue(d.ca("Transmission_RBV"), func(v any) {
		if t, ok := models.ToFloat64(v); ok {
			d.transRBV = t
			d.judgementChanged()
		}
	})
	d.onValue(channel.CA(d.arbiter()+"IntensityJF_RBV"), func(v any) {
		if jf, ok := models.ToFloat64(v); ok {
			d.jfSetting = jf
			d.judgementChanged()
		}
	})
	d.onValue(channel.CA(d.arbiter()+"ApplyJF_RBV"), func(v any) {
		if on, ok := models.ToBool(v); ok {
			d.jfOn = on
			d.judgementChanged()
		}
	})
	return d
}

func (d *LineBeamParameters) ca(suffix string) string {
	return channel.CA(d.reqBP + suffix)
}

func (d *LineBeamParameters) applyAddress() string {
	return channel.CA(d.arbiter() + "BeamParamCntl:ApplyConfig")
}

func (d *LineBeamParameters) transSetAddress(withInit bool) string {
	if !withInit {
		return d.local("trans_set", nil)
	}
	return d.local("trans_set", url.Values{"type": {"float"}, "init": {"1"}, "precision": {"2"}})
}

func energyBitWidget(bit int) string { return "bit" + strconv.Itoa(bit) }

func bcBitWidget(bit int) string { return "bit" + strconv.Itoa(bit) + "_2" }

// Mapping returns the current judgement factor mapping.
func (d *LineBeamParameters) Mapping() judgement.Mapping {
	return append(judgement.Mapping(nil), d.mapping...)
}

// ZeroRateAttempts reports how many readback checks the last zero-rate
// request made.
func (d *LineBeamParameters) ZeroRateAttempts() int {
	return int(d.zeroRateAttempts.Load())
}

func (d *LineBeamParameters) energyRangeChanged(v any) {
	raw, ok := models.ToInt64(v)
	if !ok {
		return
	}
	states := bitmask.Bits(bitmask.ToUnsigned32(raw), EnergyBits)
	for bit, on := range states {
		d.energyBits[bit] = on
		d.view.SetChecked(energyBitWidget(bit), on)
	}
}

func (d *LineBeamParameters) bcRangeChanged(v any) {
	raw, ok := models.ToInt64(v)
	if !ok {
		return
	}
	mask := bitmask.ToUnsigned32(raw)
	for bit, on := range bitmask.Bits(mask, BeamClassBits) {
		d.bcBits[bit] = on
		d.view.SetChecked(bcBitWidget(bit), on)
	}
	d.beamClassMaxFromBitmask(mask)
}

// beamClassMaxFromBitmask moves the beam-class selector to the class the
// mask allows after the judgement factor.
func (d *LineBeamParameters) beamClassMaxFromBitmask(mask uint32) {
	index := d.mapping.Lookup(bitmask.Length(mask))
	tip := d.table.TooltipOrEmpty(index)
	d.view.Update("beamclassComboBox", func(w *models.WidgetState) {
		w.CurrentIndex = index
		w.Tooltip = tip
	})
}

func (d *LineBeamParameters) bcRangeRBV(v any) {
	raw, ok := models.ToInt64(v)
	if !ok {
		return
	}
	d.cachedBC = bitmask.ToUnsigned32(raw)
	d.updateMaxLabel()
}

func (d *LineBeamParameters) updateMaxLabel() {
	d.view.SetTooltip("bc_rbv_bytes", d.table.BitmaskTooltip(d.cachedBC))
	d.setBeamClassLabel("max_bc_label", d.mapping.Lookup(bitmask.Length(d.cachedBC)))
}

func (d *LineBeamParameters) updateEVTooltip() {
	if d.evBounds == nil {
		return
	}
	d.view.SetTooltip("ev_rbv_bytes", evrange.Tooltip(d.evMask, d.evBounds))
}

func (d *LineBeamParameters) watchRate(v any) {
	r, ok := models.ToFloat64(v)
	if !ok {
		return
	}
	d.rateReq = r
	d.hasRateReq = true
	d.view.SetCurrentIndex("rateComboBox", rate.Index(r))
}

// judgementChanged runs whenever the transmission readback, the judgement
// factor or its on/off state changes.
func (d *LineBeamParameters) judgementChanged() {
	factor := judgement.EffectiveFactor(d.jfSetting, d.jfOn)
	d.view.SetText("trans_get", judgement.FormatReadback(judgement.TransmissionReadback(d.transRBV, factor)))
	d.mapping = judgement.BuildMapping(d.table.Powers(), d.jfSetting, d.transRBV, d.jfOn)
	d.beamClassMaxFromBitmask(d.cachedBC)
	d.updateMaxLabel()
}

// guiTransSet converts the operator's transmission into the arbiter
// setpoint. The replay of the local channel's initial value is not a
// request and is skipped.
func (d *LineBeamParameters) guiTransSet(v any) {
	t, ok := models.ToFloat64(v)
	if !ok {
		return
	}
	d.view.SetText("trans_set", strconv.FormatFloat(t, 'f', 2, 64))
	if d.pendingInitTrans > 0 {
		d.pendingInitTrans--
		return
	}
	factor := judgement.EffectiveFactor(d.jfSetting, d.jfOn)
	d.put(d.ca("Transmission"), judgement.TransmissionSetpoint(t, factor))
}

func (d *LineBeamParameters) putBeamClassMask(mask uint32) {
	d.put(d.ca("BeamClassRanges"), int64(mask))
	d.beamClassMaxFromBitmask(mask)
}

func (d *LineBeamParameters) selectBeamClass(index int) {
	goal := index
	if d.jfOn {
		goal = d.mapping.Inverse(index)
	}
	d.putBeamClassMask(bitmask.FromMax(goal))
}

func (d *LineBeamParameters) apply() {
	d.put(d.applyAddress(), int64(1))
}

// zeroRate requests 0 Hz and beam class 0, then applies once the rate
// request reads back as zero.
func (d *LineBeamParameters) zeroRate() {
	d.put(d.ca("Rate"), float64(0))
	d.putBeamClassMask(bitmask.FromMax(0))

	if d.zeroRateCancel != nil {
		d.zeroRateCancel()
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.zeroRateCancel = cancel
	d.zeroRateAttempts.Store(0)
	go d.applyZeroRate(ctx)
}

func (d *LineBeamParameters) applyZeroRate(ctx context.Context) {
	interval := d.opts.RetryInterval
	timer := time.NewTimer(interval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	check := func() error {
		d.zeroRateAttempts.Add(1)
		done := make(chan bool, 1)
		d.bus.Do(func() { done <- d.hasRateReq && d.rateReq == 0 })
		select {
		case <-ctx.Done():
			return ctx.Err()
		case zero := <-done:
			if zero {
				return nil
			}
			return errRateNotApplied
		}
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), zeroRateRetries),
		ctx,
	)
	err := backoff.Retry(check, policy)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		d.log.Error("zero rate not applied", "attempts", d.ZeroRateAttempts(), "error", err)
		d.bus.Do(func() { d.view.Notify(ZeroRateFailed) })
		return
	}
	d.bus.Do(d.apply)
}

// Apply implements Display.
func (d *LineBeamParameters) Apply(a Action) error {
	switch a.Type {
	case ActionCheck:
		if bit, ok := indexedWidget(a.Widget, "bit", "_2"); ok && bit < BeamClassBits {
			d.bcBits[bit] = a.Checked
			d.view.SetChecked(a.Widget, a.Checked)
			d.putBeamClassMask(bitmask.FromBits(d.bcBits[:]))
			return nil
		}
		if bit, ok := indexedWidget(a.Widget, "bit", ""); ok && bit < EnergyBits {
			d.energyBits[bit] = a.Checked
			d.view.SetChecked(a.Widget, a.Checked)
			d.put(d.ca("PhotonEnergyRanges"), int64(bitmask.FromBits(d.energyBits[:])))
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownWidget, a.Widget)
	case ActionSelect:
		switch a.Widget {
		case "rateComboBox":
			if a.Index < 0 || a.Index >= len(rate.ValidRates) {
				return ErrBadIndex
			}
			d.put(d.ca("Rate"), rate.ValidRates[a.Index])
		case "beamclassComboBox":
			if a.Index < 0 || a.Index >= d.table.Len() {
				return ErrBadIndex
			}
			d.selectBeamClass(a.Index)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownWidget, a.Widget)
		}
		return nil
	case ActionTransmission:
		d.put(d.transSetAddress(false), a.Value)
		return nil
	case ActionZeroRate:
		d.zeroRate()
		return nil
	case ActionApply:
		d.apply()
		return nil
	}
	return ErrUnknownAction
}
