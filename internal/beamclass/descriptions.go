package beamclass

import (
	"strings"
	"unicode"
)

// HeaderTooltipWidth is the wrap width of the column header tooltips.
const HeaderTooltipWidth = 40

// HeaderDescriptions explains each column of Header, in the same order.
var HeaderDescriptions = []string{
	`Index is the beamclass number. ` +
		`When we say "beamclass 10", we are referring to index 10 on this table.`,
	`Display name is a short, human-readable name ` +
		`that is a minimal description of how the beamclass behaves.`,
	`∆T (s) is the integration time window used for the Q (pC) charge measurement. ` +
		`A beamclass limits the amount of integrated electron charge during a time interval.`,
	`dt (s) is the the minimum bunch spacing (including non-periodic bunch patterns). ` +
		`When included, this effectively limits the rep rate of the beam for periodic bunch patterns. ` +
		`When omitted, any rep rate could be allowed if it passes the integrated electron charge measurement.`,
	`Q (pC) is the the maximum beam charge integrated in ∆T (s). ` +
		`A beamclass limits the amount of integrated electron charge during a time interval.`,
	`Rate max (Hz) is a field calculated from dt (s) if present ` +
		`and is the effective rep rate limit of the beam.`,
	`Current (nA) is a calculated field and is the equivalent ` +
		`maximum electron beam current at the beamclass.`,
	`Power @ 4 GeV (W) is a calculated field and is the equivalent ` +
		`maximum electron beam wattage at 4 GeV at the beamclass.`,
	`Int. Energy @ 4 GeV (J) is a calculated field and is the equivalent ` +
		`maximum integrated electron energy at 4 GeV during the ∆T (s) integration window.`,
	`Notes is an advisory field that gives an example of ` +
		`what this beam class might look like at a particular bunch charge or rep rate.`,
}

// HeaderTooltips returns HeaderDescriptions wrapped for tooltips.
func HeaderTooltips() []string {
	out := make([]string, len(HeaderDescriptions))
	for i, d := range HeaderDescriptions {
		out[i] = Wrap(d, HeaderTooltipWidth)
	}
	return out
}

// Wrap fills text greedily into lines of at most width columns. Lines
// break at whitespace or after a hyphen joining two letters. A single
// chunk longer than width is split.
func Wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	var (
		lines []string
		line  []rune
	)
	flush := func() {
		lines = append(lines, strings.TrimRight(string(line), " "))
		line = line[:0]
	}
	for _, c := range chunks(text) {
		r := []rune(c)
		if len(line) > 0 && len(line)+len(strings.TrimRight(c, " ")) > width {
			flush()
		}
		if len(line) == 0 {
			r = []rune(strings.TrimLeft(c, " "))
		}
		for len(r) > width {
			lines = append(lines, string(r[:width]))
			r = r[width:]
		}
		line = append(line, r...)
	}
	if len(strings.TrimSpace(string(line))) > 0 {
		flush()
	}
	return strings.Join(lines, "\n")
}

// chunks splits text into words, each keeping one trailing space when one
// followed it, with hyphenated words split after the hyphen.
func chunks(text string) []string {
	var out []string
	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		start := 0
		for i := 1; i < len(runes)-1; i++ {
			if runes[i] == '-' && unicode.IsLetter(runes[i-1]) && unicode.IsLetter(runes[i+1]) {
				out = append(out, string(runes[start:i+1]))
				start = i + 1
			}
		}
		out = append(out, string(runes[start:])+" ")
	}
	return out
}
