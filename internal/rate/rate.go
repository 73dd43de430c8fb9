// Package rate snaps requested beam rates onto the discrete set the
// accelerator accepts.
package rate

import (
	"fmt"
	"strconv"
)

// ValidRates lists the requestable rates in Hz, strictly descending. The
// final 0 makes Quantize total.
var ValidRates = []float64{120, 10, 1, 0}

// Quantize returns the highest valid rate that does not exceed requested.
// Requesting an in-between value is the same as requesting the next lowest
// valid value; exact matches keep their own rate.
func Quantize(requested float64) float64 {
	for _, valid := range ValidRates {
		if requested >= valid {
			return valid
		}
	}
	return 0
}

// Index returns the position of the quantized rate in ValidRates, which is
// the rate combo box index.
func Index(requested float64) int {
	q := Quantize(requested)
	for i, valid := range ValidRates {
		if valid == q {
			return i
		}
	}
	return len(ValidRates) - 1
}

// FromOutputBits decodes the arbiter output rate bitmask. The highest set of
// bits 2, 1, 0 wins: 120 Hz, 10 Hz, 1 Hz, otherwise 0.
func FromOutputBits(value uint32) float64 {
	switch {
	case value>>2&1 == 1:
		return 120
	case value>>1&1 == 1:
		return 10
	case value&1 == 1:
		return 1
	default:
		return 0
	}
}

// Label formats a rate the way the combo boxes show it, e.g. "120 Hz".
func Label(hz float64) string {
	return fmt.Sprintf("%s Hz", strconv.FormatFloat(hz, 'f', -1, 64))
}

// Labels returns the combo box entries for ValidRates.
func Labels() []string {
	out := make([]string, len(ValidRates))
	for i, r := range ValidRates {
		out[i] = Label(r)
	}
	return out
}
