// Package report renders the beam-class table for printing.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
)

const (
	inchToMm               = 25.4
	pdfPageWidthLandscape  = 11 * inchToMm // Letter landscape
	pdfPageHeightLandscape = 8.5 * inchToMm
	pdfMargin              = 0.5 * inchToMm
	pdfContentWidth        = pdfPageWidthLandscape - (2 * pdfMargin)
	lineHeight             = 6.0
)

// column widths relative to the content width, in beamclass.Header order
var colWidthsRel = []float64{0.05, 0.11, 0.06, 0.06, 0.07, 0.08, 0.08, 0.1, 0.11, 0.28}

// pdfStyler keeps the fonts and the running Y position of a report.
type pdfStyler struct {
	pdf      *gofpdf.Fpdf
	styles   map[string]func()
	currentY float64
}

func newPDFStyler(pdf *gofpdf.Fpdf) *pdfStyler {
	s := &pdfStyler{
		pdf:      pdf,
		styles:   make(map[string]func()),
		currentY: pdfMargin,
	}
	s.styles["h1"] = func() {
		s.pdf.SetFont("Arial", "B", 16)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["normal"] = func() {
		s.pdf.SetFont("Arial", "", 9)
		s.pdf.SetTextColor(80, 80, 80)
	}
	s.styles["tableHeader"] = func() {
		s.pdf.SetFont("Arial", "B", 8)
		s.pdf.SetFillColor(200, 200, 200)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["tableCell"] = func() {
		s.pdf.SetFont("Arial", "", 8)
		s.pdf.SetTextColor(30, 30, 30)
	}
	return s
}

func (s *pdfStyler) applyStyle(name string) {
	if fn, ok := s.styles[name]; ok {
		fn()
		return
	}
	s.styles["normal"]()
}

func (s *pdfStyler) checkAddPage(needed float64) bool {
	if s.currentY+needed > pdfPageHeightLandscape-pdfMargin {
		s.pdf.AddPage()
		s.currentY = pdfMargin
		return true
	}
	return false
}

func (s *pdfStyler) writeLine(text, style, align string) {
	s.applyStyle(style)
	s.checkAddPage(lineHeight)
	s.pdf.SetXY(pdfMargin, s.currentY)
	s.pdf.CellFormat(pdfContentWidth, lineHeight, text, "", 0, align, false, 0, "")
	s.currentY += lineHeight + 1
}

func (s *pdfStyler) tableRow(cells []string, widths []float64, style string, fill bool) {
	s.applyStyle(style)
	x := pdfMargin
	for i, cell := range cells {
		s.pdf.SetXY(x, s.currentY)
		align := "C"
		if i == len(cells)-1 {
			align = "L"
		}
		s.pdf.CellFormat(widths[i], lineHeight, fitText(s.pdf, cell, widths[i]), "1", 0, align, fill, 0, "")
		x += widths[i]
	}
	s.currentY += lineHeight
}

// fitText trims text to the cell width, marking the cut with "..".
func fitText(pdf *gofpdf.Fpdf, text string, width float64) string {
	limit := width - 2*pdf.GetCellMargin()
	if pdf.GetStringWidth(text) <= limit {
		return text
	}
	for len(text) > 0 && pdf.GetStringWidth(text+"..") > limit {
		text = text[:len(text)-1]
	}
	return text + ".."
}

// pdfHeader spells the header for the core PDF fonts, which have no ∆.
func pdfHeader() []string {
	out := make([]string, len(beamclass.Header))
	for i, h := range beamclass.Header {
		out[i] = strings.ReplaceAll(h, "∆", "d")
	}
	return out
}

// BeamClassPDF writes the full beam-class table as a landscape Letter PDF.
// The header repeats on every page.
func BeamClassPDF(table *beamclass.Table, w io.Writer) error {
	pdf := gofpdf.New("L", "mm", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.SetTitle("Beam Class Table", true)
	pdf.AddPage()

	styler := newPDFStyler(pdf)
	styler.writeLine("PMPS Beam Class Table", "h1", "C")
	styler.writeLine(fmt.Sprintf("Table revision %s, generated %s", table.Variant(), time.Now().Format("2006-01-02 15:04")), "normal", "C")
	styler.currentY += 2

	widths := make([]float64, len(colWidthsRel))
	for i, rel := range colWidthsRel {
		widths[i] = rel * pdfContentWidth
	}
	header := pdfHeader()
	styler.tableRow(header, widths, "tableHeader", true)
	for _, row := range table.Rows() {
		if styler.checkAddPage(lineHeight) {
			styler.tableRow(header, widths, "tableHeader", true)
		}
		styler.tableRow(row.Cells(), widths, "tableCell", false)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render beam class table: %w", err)
	}
	return pdf.Output(w)
}
