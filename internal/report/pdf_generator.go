package report

import (
	"bytes"
	"fmt"
	"os"

	"github.com/jung-kurt/gofpdf"

	"github.com/user/qcw_analyzer_go/internal/analysis"
)

const (
	inchToMm              = 25.4
	pdfPageWidthLandscape = 11 * inchToMm // Letter landscape
	pdfMargin             = 0.5 * inchToMm
	pdfContentWidth       = pdfPageWidthLandscape - (2 * pdfMargin)
)

// ReportParameters is the fixed column order of the measurement table. The
// QuickCheck daily constancy worklist reports exactly these channels.
var ReportParameters = []string{"CAX", "Flatness", "SymmetryGT", "SymmetryLR", "BQF"}

// Branding carries the per-deployment report decoration.
type Branding struct {
	InstituteName string
	LogoPath      string // optional PNG, skipped when missing
}

// pdfStyler holds reusable styling state for PDF generation.
type pdfStyler struct {
	pdf        *gofpdf.Fpdf
	styles     map[string]func()
	lineHeight float64
	imgCount   int
}

func newPDFStyler(pdf *gofpdf.Fpdf) *pdfStyler {
	s := &pdfStyler{
		pdf:        pdf,
		styles:     make(map[string]func()),
		lineHeight: 6,
	}
	s.defineStyles()
	return s
}

func (s *pdfStyler) defineStyles() {
	s.styles["h1"] = func() {
		s.pdf.SetFont("Arial", "B", 18)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["bold"] = func() {
		s.pdf.SetFont("Arial", "B", 11)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["normal"] = func() {
		s.pdf.SetFont("Arial", "", 10)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["tableHeader"] = func() {
		s.pdf.SetFont("Arial", "B", 9)
		s.pdf.SetFillColor(200, 200, 200)
		s.pdf.SetTextColor(0, 0, 0)
	}
	s.styles["tableCell"] = func() {
		s.pdf.SetFont("Arial", "", 9)
		s.pdf.SetTextColor(50, 50, 50)
	}
	s.styles["tableCellRed"] = func() { // out of tolerance
		s.pdf.SetFont("Arial", "B", 9)
		s.pdf.SetTextColor(200, 0, 0)
	}
}

func (s *pdfStyler) applyStyle(name string) {
	if fn, ok := s.styles[name]; ok {
		fn()
	} else {
		s.styles["normal"]()
	}
}

func (s *pdfStyler) writeParagraph(text, styleName, align string) {
	s.applyStyle(styleName)
	s.pdf.SetX(pdfMargin)
	s.pdf.MultiCell(pdfContentWidth, s.lineHeight, text, "", align, false)
	s.pdf.Ln(1)
}

// BuildDateReport renders the QA report for a single date into the given
// file path.
func BuildDateReport(path string, dg analysis.DateGroup, branding Branding, threshold float64) error {
	pdf := newReportPDF(branding)
	styler := newPDFStyler(pdf)
	writeDatePage(styler, dg, threshold)
	return pdf.OutputFileAndClose(path)
}

// BuildFullReport renders every date of the aggregated report into one PDF.
func BuildFullReport(path string, rep *analysis.Report, branding Branding, threshold float64) error {
	pdf := newReportPDF(branding)
	styler := newPDFStyler(pdf)
	for _, dg := range rep.Dates {
		writeDatePage(styler, dg, threshold)
	}
	return pdf.OutputFileAndClose(path)
}

func newReportPDF(branding Branding) *gofpdf.Fpdf {
	pdf := gofpdf.New("L", "mm", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)

	hasLogo := false
	if branding.LogoPath != "" {
		if _, err := os.Stat(branding.LogoPath); err == nil {
			hasLogo = true
		}
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-pdfMargin)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 5, branding.InstituteName, "", 0, "L", false, 0, "")
	})
	if hasLogo {
		pdf.SetHeaderFunc(func() {
			pdf.ImageOptions(branding.LogoPath, pdfPageWidthLandscape-pdfMargin-24, 4, 24, 0, false,
				gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		})
	}
	return pdf
}

// writeDatePage renders one date's machines, one page per machine.
func writeDatePage(s *pdfStyler, dg analysis.DateGroup, threshold float64) {
	for _, mg := range dg.Machines {
		s.pdf.AddPage()

		s.writeParagraph("Daily Quality Assurance", "h1", "C")
		s.pdf.SetDrawColor(68, 114, 196)
		s.pdf.SetLineWidth(0.6)
		y := s.pdf.GetY()
		s.pdf.Line(pdfMargin, y, pdfPageWidthLandscape-pdfMargin, y)
		s.pdf.Ln(4)

		s.applyStyle("bold")
		s.pdf.SetX(pdfMargin)
		s.pdf.CellFormat(pdfContentWidth/2, s.lineHeight, "Machine Name: "+mg.Machine, "", 0, "L", false, 0, "")
		s.pdf.CellFormat(pdfContentWidth/2, s.lineHeight, "Date: "+dg.Date, "", 1, "R", false, 0, "")
		s.pdf.Ln(3)

		for _, fg := range mg.Fields {
			writeFieldBlock(s, fg, threshold)
		}

		s.pdf.Ln(8)
		s.writeParagraph("Signature:", "bold", "L")
	}
}

func writeFieldBlock(s *pdfStyler, fg analysis.FieldGroup, threshold float64) {
	s.writeParagraph("Field Size : "+fg.FieldSize, "bold", "L")

	const energyColWidth = 38.0
	paramColWidth := (pdfContentWidth - energyColWidth) / float64(len(ReportParameters)*2)

	// Header row: parameter names spanning their Meas./%Dev. pair.
	s.applyStyle("tableHeader")
	s.pdf.SetX(pdfMargin)
	s.pdf.CellFormat(energyColWidth, 7, "Parameter / Energy", "1", 0, "C", true, 0, "")
	for _, param := range ReportParameters {
		s.pdf.CellFormat(paramColWidth*2, 7, param, "1", 0, "C", true, 0, "")
	}
	s.pdf.Ln(-1)

	// Sub-header row.
	s.pdf.SetX(pdfMargin)
	s.pdf.CellFormat(energyColWidth, 6, "", "1", 0, "C", true, 0, "")
	for range ReportParameters {
		s.pdf.CellFormat(paramColWidth, 6, "Meas.", "1", 0, "C", true, 0, "")
		s.pdf.CellFormat(paramColWidth, 6, "% Dev.", "1", 0, "C", true, 0, "")
	}
	s.pdf.Ln(-1)

	// Data rows, one per energy block.
	for _, block := range fg.Energies {
		s.applyStyle("tableCell")
		s.pdf.SetX(pdfMargin)
		s.pdf.CellFormat(energyColWidth, 6, block.Energy, "1", 0, "C", false, 0, "")
		for _, param := range ReportParameters {
			m, ok := block.Measured[param]
			if !ok {
				s.applyStyle("tableCell")
				s.pdf.CellFormat(paramColWidth, 6, "N/A", "1", 0, "C", false, 0, "")
				s.pdf.CellFormat(paramColWidth, 6, "N/A", "1", 0, "C", false, 0, "")
				continue
			}
			style := "tableCell"
			if m.Status == analysis.StatusFail {
				style = "tableCellRed"
			}
			s.applyStyle(style)
			s.pdf.CellFormat(paramColWidth, 6, m.Value, "1", 0, "C", false, 0, "")
			s.pdf.CellFormat(paramColWidth, 6, m.Deviation, "1", 0, "C", false, 0, "")
		}
		s.pdf.Ln(-1)
	}

	note := analysis.FailureSummary(fg)
	s.pdf.Ln(1)
	s.applyStyle("bold")
	s.pdf.SetX(pdfMargin)
	s.pdf.CellFormat(14, s.lineHeight, "Note:", "", 0, "L", false, 0, "")
	s.applyStyle("normal")
	s.pdf.MultiCell(pdfContentWidth-14, s.lineHeight, note, "", "L", false)
	s.pdf.Ln(1)

	if imgBytes, err := CreateDeviationPlot(fg, threshold); err == nil {
		s.imgCount++
		name := fmt.Sprintf("devplot_%d", s.imgCount)
		s.pdf.RegisterImageOptionsReader(name,
			gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(imgBytes))
		s.pdf.ImageOptions(name, pdfMargin, s.pdf.GetY(), 120, 0, true,
			gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		s.pdf.Ln(2)
	}
}
