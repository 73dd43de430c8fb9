package beamclass

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Cell widths are measured in terminal columns; ∆ counts as one.
var widthCond = &runewidth.Condition{EastAsianWidth: false}

// render draws a framed, centered ASCII table:
//
//	+-------+------+
//	| Index | Name |
//	+-------+------+
//	|   0   | Off  |
//	+-------+------+
func render(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = widthCond.StringWidth(h)
	}
	for _, row := range rows {
		for i := range widths {
			if i < len(row) {
				widths[i] = max(widths[i], widthCond.StringWidth(row[i]))
			}
		}
	}

	var rule strings.Builder
	rule.WriteByte('+')
	for _, w := range widths {
		rule.WriteString(strings.Repeat("-", w+2))
		rule.WriteByte('+')
	}

	lines := make([]string, 0, len(rows)+4)
	lines = append(lines, rule.String(), renderLine(header, widths), rule.String())
	for _, row := range rows {
		lines = append(lines, renderLine(row, widths))
	}
	lines = append(lines, rule.String())
	return strings.Join(lines, "\n")
}

func renderLine(cells []string, widths []int) string {
	var b strings.Builder
	b.WriteByte('|')
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		b.WriteByte(' ')
		b.WriteString(center(cell, w))
		b.WriteString(" |")
	}
	return b.String()
}

// center pads text to width. When the padding is uneven, odd width text
// gets the extra space on the right and even width text on the left.
func center(text string, width int) string {
	w := widthCond.StringWidth(text)
	excess := width - w
	if excess <= 0 {
		return text
	}
	left, right := excess/2, excess/2
	if excess%2 == 1 {
		if w%2 == 1 {
			right++
		} else {
			left++
		}
	}
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}
