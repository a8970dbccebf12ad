package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// SavePDF renders the given verification report into a PDF document.
func SavePDF(rep VerificationReport, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Verification Report", false)
	pdf.SetAuthor("difctl", false)
	pdf.SetCreator("difctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Verification Report")
	addSummarySection(pdf, rep)
	addLayoutSection(pdf, rep)
	addFindingsSection(pdf, rep.Findings)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, rep VerificationReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "File", value: emptyFallback(rep.File, "-")},
		{label: "Profile", value: emptyFallback(rep.Profile, "-")},
		{label: "Blocks Verified", value: fmt.Sprintf("%d / %d", rep.VerifiedBlocks, rep.TotalBlocks)},
		{label: "Total Findings", value: strconv.Itoa(rep.Summary.Total)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addLayoutSection(pdf *gofpdf.Fpdf, rep VerificationReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Block Layout")
	pdf.Ln(9)

	headers := []string{"Block Size", "Metadata", "Guard", "App Tag", "Ref Tag", "Data"}
	widths := []float64{32, 28, 28, 28, 28, 28}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	values := []string{
		strconv.FormatUint(uint64(rep.BlockSize), 10),
		strconv.FormatUint(uint64(rep.MetadataSize), 10),
		strconv.Itoa(rep.Summary.Guard),
		strconv.Itoa(rep.Summary.AppTag),
		strconv.Itoa(rep.Summary.RefTag),
		strconv.Itoa(rep.Summary.Data),
	}
	renderTableRow(pdf, widths, values, 5.0)
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings []Finding) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	if len(findings) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}

	for i, f := range findings {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. block %d: %s mismatch", i+1, f.Block, f.Kind)
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(f.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}

		meta := findingMetadata(f)
		if meta != "" {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, meta, "", "L", false)
		}

		pdf.Ln(2)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		cellText := strings.Join(lines, "\n")
		pdf.MultiCell(widths[i], lineHeight, cellText, "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(f Finding) string {
	parts := make([]string, 0, 4)
	if !f.Ts.IsZero() {
		parts = append(parts, f.Ts.Format(time.RFC3339))
	}
	if f.File != "" {
		parts = append(parts, f.File)
	}
	if f.Expected != "" {
		parts = append(parts, "Expected "+f.Expected)
	}
	if f.Actual != "" {
		parts = append(parts, "Actual "+f.Actual)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " · ")
}
