package main

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-pdf/fpdf"
)

// exportReportsPDFHandler renders the community feed as a downloadable PDF
// summary.
func (a *App) exportReportsPDFHandler(c *gin.Context) {
	viewer := NewFeedViewer(a.documents)
	reports, err := viewer.Load(c.Request.Context())
	if err != nil {
		a.log.Error("failed to load report feed for export", "err", err)
		writeAPIError(c, &apiError{Status: http.StatusBadGateway, Code: "gateway_error", Message: "Failed to load reports"})
		return
	}

	pdfBytes, err := buildFeedPDF(reports, time.Now().UTC())
	if err != nil {
		a.log.Error("failed to build feed PDF", "err", err)
		writeAPIError(c, &apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "Failed to generate PDF"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="report2clean-feed.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdfBytes)
}

func buildFeedPDF(reports []PersistedReport, generatedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 16)
	pdf.Cell(0, 10, "Report2Clean - Community Reports")

	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Generated: %s", generatedAt.Format("2006-01-02 15:04 MST")))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Total reports: %d", len(reports)))
	pdf.Ln(10)

	if len(reports) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.Cell(0, 6, feedEmptyMessage)
	}

	for _, report := range reports {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.Cell(0, 7, fmt.Sprintf("%s - %s", report.UserName, report.Location))
		pdf.Ln(6)

		pdf.SetFont("Helvetica", "", 10)
		if report.SubmittedAt != "" {
			pdf.Cell(0, 5, fmt.Sprintf("Submitted: %s", report.SubmittedAt))
			pdf.Ln(5)
		}
		pdf.MultiCell(0, 5, report.Description, "", "L", false)
		pdf.Ln(4)
	}

	buffer := bytes.NewBuffer(nil)
	if err := pdf.Output(buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
