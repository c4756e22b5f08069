package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// SheetField is one labelled value on a form-style document.
type SheetField struct {
	Label string
	Value string
}

// SheetSection groups fields under a heading.
type SheetSection struct {
	Heading string
	Fields  []SheetField
}

// Sheet is a single-record, form-style document such as a registration sheet.
type Sheet struct {
	Title     string
	Subtitle  string
	Reference string
	Sections  []SheetSection
	Footer    string
}

// PDFExporter renders tables and record sheets with gofpdf.
type PDFExporter struct {
	institution string
}

// NewPDFExporter constructs a PDF exporter; institution is printed in page headers.
func NewPDFExporter(institution string) *PDFExporter {
	return &PDFExporter{institution: institution}
}

// Render creates a landscape PDF with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("pdf requires at least one column")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 15, 10)
	e.header(pdf, tr)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	colWidth := 277.0 / float64(len(data.Columns))
	printHeader := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, label := range data.labels() {
			pdf.CellFormat(colWidth, 8, tr(label), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	printHeader()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range data.Rows {
		if pdf.GetY()+7 > pageHeight-bottom-10 {
			pdf.AddPage()
			printHeader()
		}
		for _, col := range data.Columns {
			pdf.CellFormat(colWidth, 7, tr(truncate(row[col.Key], colWidth)), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderSheet lays out a single record as labelled sections.
func (e *PDFExporter) RenderSheet(sheet Sheet) ([]byte, error) {
	if len(sheet.Sections) == 0 {
		return nil, fmt.Errorf("sheet requires at least one section")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(15, 15, 15)
	e.header(pdf, tr)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(sheet.Title), "", 1, "C", false, 0, "")
	if sheet.Subtitle != "" {
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 7, tr(sheet.Subtitle), "", 1, "C", false, 0, "")
	}
	if sheet.Reference != "" {
		pdf.SetFont("Courier", "B", 13)
		pdf.CellFormat(0, 9, tr(sheet.Reference), "1", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	for _, section := range sheet.Sections {
		pdf.SetFont("Arial", "B", 11)
		pdf.SetFillColor(220, 230, 241)
		pdf.CellFormat(0, 8, tr(section.Heading), "", 1, "L", true, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, field := range section.Fields {
			value := field.Value
			if value == "" {
				value = "-"
			}
			pdf.CellFormat(60, 7, tr(field.Label), "B", 0, "L", false, 0, "")
			pdf.MultiCell(0, 7, tr(value), "B", "L", false)
		}
		pdf.Ln(3)
	}

	if sheet.Footer != "" {
		pdf.SetFont("Arial", "I", 8)
		pdf.MultiCell(0, 5, tr(sheet.Footer), "", "L", false)
	}

	return output(pdf)
}

func (e *PDFExporter) header(pdf *gofpdf.Fpdf, tr func(string) string) {
	if e.institution == "" {
		return
	}
	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 5, tr(e.institution), "", 1, "R", false, 0, "")
	})
}

func truncate(value string, width float64) string {
	limit := int(width / 1.8)
	runes := []rune(value)
	if limit <= 3 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
