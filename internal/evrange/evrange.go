// Package evrange turns a photon energy bitmask plus the live list of
// per-bit upper bounds into the allowed energy intervals.
package evrange

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/pcdshub/pmps-ui/internal/bitmask"
)

// NotLoaded is shown until the bound definitions arrive.
const NotLoaded = "eV ranges have not loaded"

// NoneAllowed is shown when no bit in the mask is set.
const NoneAllowed = "No eV range allowed."

// Range is one contiguous run of allowed bits.
type Range struct {
	Lower float64 `json:"lower" msgpack:"lower"`
	Upper float64 `json:"upper" msgpack:"upper"`
}

// Ranges walks the first len(bounds) bits of mask and merges consecutive
// allowed bits into runs. Bit i covers (bounds[i-1], bounds[i]), with the
// lower edge of bit 0 at zero. Mask bits past the end of bounds are ignored.
func Ranges(mask int64, bounds []float64) []Range {
	value := bitmask.ToUnsigned32(mask)
	var (
		out  []Range
		cur  *Range
		prev float64
	)
	for bit, ev := range bounds {
		if bitmask.IsSet(value, bit) {
			if cur == nil {
				cur = &Range{Lower: prev, Upper: ev}
			} else {
				cur.Upper = ev
			}
		} else if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
		prev = ev
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// Tooltip renders the allowed runs as rich text, one "Allow" line per run
// with the numbers right aligned.
func Tooltip(mask int64, bounds []float64) string {
	if len(bounds) == 0 {
		return NotLoaded
	}
	ranges := Ranges(mask, bounds)
	if len(ranges) == 0 {
		return Preformatted(NoneAllowed)
	}

	// the open lower edge of bit 0 is a plain 0, every bound is a float
	fromZero := bitmask.IsSet(bitmask.ToUnsigned32(mask), 0)
	lower := make([]string, len(ranges))
	upper := make([]string, len(ranges))
	var leftWidth, rightWidth int
	for i, r := range ranges {
		lower[i] = formatEV(r.Lower)
		if i == 0 && fromZero {
			lower[i] = "0"
		}
		upper[i] = formatEV(r.Upper)
		leftWidth = max(leftWidth, runewidth.StringWidth(lower[i]))
		rightWidth = max(rightWidth, runewidth.StringWidth(upper[i]))
	}
	lines := make([]string, 0, len(ranges))
	for i := range ranges {
		lines = append(lines, fmt.Sprintf("Allow %seV &lt; energy &lt; %seV",
			runewidth.FillLeft(lower[i], leftWidth),
			runewidth.FillLeft(upper[i], rightWidth)))
	}
	return Preformatted(strings.Join(lines, "\n"))
}

// Preformatted wraps text for rich-text tooltips.
func Preformatted(text string) string {
	return "<pre>" + text + "</pre>"
}

// formatEV prints a float bound. Whole numbers keep a trailing ".0".
func formatEV(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
