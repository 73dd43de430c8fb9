// Package judgement rescales beam-class power limits for the judgement
// factor override and maps requested beam classes to the classes the
// arbiter will actually allow.
package judgement

import (
	"fmt"
	"math"
)

// DefaultFactor is both the default and the maximum judgement factor (mJ).
const DefaultFactor = 5.0

// EffectiveFactor returns the factor the rescale should use. An inactive
// override, or a setting outside (0, 5], falls back to DefaultFactor.
func EffectiveFactor(setting float64, active bool) float64 {
	if !active || math.IsNaN(setting) || setting <= 0 || setting > DefaultFactor {
		return DefaultFactor
	}
	return setting
}

// RescaledPower applies p_new = p_old * (5 / jf) * t_old. A transmission
// that is not positive yields zero, even for unlimited (infinite) power.
func RescaledPower(power, factor, transmission float64) float64 {
	if factor <= 0 || math.IsNaN(factor) {
		factor = DefaultFactor
	}
	if !(transmission > 0) || power == 0 {
		return 0
	}
	return power * (DefaultFactor / factor) * transmission
}

// BeamClassForPower returns the highest beam class whose power limit is
// still within reach of power. The comparison is floor(power)+1 >= limit,
// matching the rounding the PLC arbiter uses, and the scan stops at the
// first class that fails.
func BeamClassForPower(power float64, powers []float64) int {
	idx := 0
	for i, limit := range powers {
		if math.Floor(power)+1 >= limit {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// Mapping maps an original beam-class index to the beam class it becomes
// under the judgement factor override. It is indexed by original class.
type Mapping []int

// Identity returns the mapping used while the override is inactive.
func Identity(n int) Mapping {
	m := make(Mapping, n)
	for i := range m {
		m[i] = i
	}
	return m
}

// BuildMapping recomputes the mapping from the per-class power limits.
func BuildMapping(powers []float64, setting, transmission float64, active bool) Mapping {
	if !active {
		return Identity(len(powers))
	}
	factor := EffectiveFactor(setting, active)
	m := make(Mapping, len(powers))
	for i, p := range powers {
		m[i] = BeamClassForPower(RescaledPower(p, factor, transmission), powers)
	}
	return m
}

// Lookup returns the mapped class for original, clamping indices outside
// the mapping onto its ends.
func (m Mapping) Lookup(original int) int {
	if len(m) == 0 {
		return original
	}
	switch {
	case original < 0:
		return m[0]
	case original >= len(m):
		return m[len(m)-1]
	}
	return m[original]
}

// Inverse picks the lowest original class whose mapped class is the
// highest one not exceeding desired. It returns 0 when every mapped class
// exceeds desired.
func (m Mapping) Inverse(desired int) int {
	goal, effective := 0, 0
	for original, mapped := range m {
		if mapped > desired {
			break
		}
		if effective < mapped {
			goal = original
			effective = mapped
		}
	}
	return goal
}

// Monotonic reports whether the mapping never decreases.
func (m Mapping) Monotonic() bool {
	for i := 1; i < len(m); i++ {
		if m[i] < m[i-1] {
			return false
		}
	}
	return true
}

// TransmissionReadback is the transmission an operator sees once the
// override is folded back out: min(t * 5 / jf, 1).
func TransmissionReadback(transmission, factor float64) float64 {
	if factor <= 0 || math.IsNaN(factor) {
		factor = DefaultFactor
	}
	return math.Min(transmission*DefaultFactor/factor, 1)
}

// FormatReadback renders a readback the way the transmission label does.
func FormatReadback(v float64) string {
	return fmt.Sprintf("%.2e", v)
}

// TransmissionSetpoint converts an operator transmission request into the
// value written to the arbiter. Full transmission passes through unscaled.
func TransmissionSetpoint(requested, factor float64) float64 {
	if requested == 1 {
		return 1
	}
	if factor <= 0 || math.IsNaN(factor) {
		factor = DefaultFactor
	}
	return requested * factor / DefaultFactor
}
