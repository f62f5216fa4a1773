package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/apollo-lhc/cmtestgo/internal/models"
	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// EntryReport renders a single entry as a printable PDF test report: one
// section per wizard page with the recorded answers, a status banner, and
// a QR code linking back to the entry on the server.
func EntryReport(schema *forms.Schema, e *models.TestEntry, baseURL string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	// Header
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("CM%d Test Report", e.Serial), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, "Last updated: "+e.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"), "", 1, "L", false, 0, "")
	if len(e.Contributors) > 0 {
		pdf.CellFormat(0, 6, "Contributors: "+strings.Join(e.Contributors, ", "), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 6, "Status: "+statusLabel(e), "", 1, "L", false, 0, "")
	if e.Failure && e.FailReason != "" {
		pdf.SetTextColor(180, 0, 0)
		pdf.MultiCell(0, 6, "Failure reason: "+e.FailReason, "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}

	// QR code top right, linking back to the entry
	qrContent := fmt.Sprintf("%s/api/entries/%d", strings.TrimRight(baseURL, "/"), e.ID)
	qrPng, err := qrcode.Encode(qrContent, qrcode.Low, 256)
	if err != nil {
		return nil, err
	}
	imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	_ = pdf.RegisterImageOptionsReader("entry_qr", imgOptions, bytes.NewReader(qrPng))
	pdf.ImageOptions("entry_qr", 165, 12, 30, 30, false, imgOptions, 0, "")
	pdf.Ln(4)

	// One section per wizard page
	for _, page := range schema.Pages {
		var rows [][2]string
		for _, f := range page.Fields {
			if !f.InHistory() {
				continue
			}
			rows = append(rows, [2]string{f.Label, e.DataString(f.Name)})
		}
		if len(rows) == 0 {
			continue
		}

		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, page.Label, "B", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, row := range rows {
			pdf.SetFont("Arial", "", 10)
			pdf.CellFormat(110, 6, row[0], "", 0, "L", false, 0, "")
			value := row[1]
			if value == "" {
				value = "-"
			}
			pdf.CellFormat(0, 6, value, "", 1, "L", false, 0, "")
		}
		pdf.Ln(2)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func statusLabel(e *models.TestEntry) string {
	switch {
	case e.Failure && e.FailStored:
		return "Failed - pending retest"
	case e.Failure && e.IsFinished:
		return "Failed - closed"
	case e.IsFinished:
		return "Finished"
	case e.IsSaved:
		return "Saved in progress"
	default:
		return "In progress"
	}
}
