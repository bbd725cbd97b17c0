package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	commandsrepo "robot-fleet-cloud/internal/commands/infrastructure/postgres"
	fleet "robot-fleet-cloud/internal/fleet/domain"
)

// BuildDLQReportPDF renders a dead-letter report for operator review.
func BuildDLQReportPDF(fleetID string, entries []commandsrepo.DLQEntry, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Dead Letter Queue Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Fleet: %s", fleetID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d", len(entries)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(55, 6, "Command", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Robot", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Action", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Retries", "1", 0, "C", false, 0, "")
	pdf.CellFormat(90, 6, "Reason", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Last Seen", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, entry := range entries {
		pdf.CellFormat(55, 6, entry.CommandID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", entry.RobotID), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, entry.Action, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", entry.RetryCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(90, 6, entry.Reason, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, entry.LastSeenAt.Format(time.RFC3339), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDLQReportXLSX renders a dead-letter report workbook with a summary
// sheet and one row per entry.
func BuildDLQReportXLSX(fleetID string, entries []commandsrepo.DLQEntry, halts []fleet.EmergencyHalt, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	entriesSheet := "entries"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(entriesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Dead Letter Queue Report")
	_ = f.SetCellValue(summarySheet, "A3", "Fleet")
	_ = f.SetCellValue(summarySheet, "B3", fleetID)
	_ = f.SetCellValue(summarySheet, "A4", "Generated")
	_ = f.SetCellValue(summarySheet, "B4", generatedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Entries")
	_ = f.SetCellValue(summarySheet, "B5", len(entries))
	_ = f.SetCellValue(summarySheet, "A6", "Active Halts")
	_ = f.SetCellValue(summarySheet, "B6", len(halts))
	for i, halt := range halts {
		row := 8 + i
		zone := "all"
		if halt.Zone != fleet.ZoneAll {
			zone = fmt.Sprintf("%d", halt.Zone)
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Halt zone "+zone)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), halt.Reason)
	}

	_ = f.SetCellValue(entriesSheet, "A1", "Command")
	_ = f.SetCellValue(entriesSheet, "B1", "Robot")
	_ = f.SetCellValue(entriesSheet, "C1", "Action")
	_ = f.SetCellValue(entriesSheet, "D1", "Retries")
	_ = f.SetCellValue(entriesSheet, "E1", "Attempts")
	_ = f.SetCellValue(entriesSheet, "F1", "Reason")
	_ = f.SetCellValue(entriesSheet, "G1", "First Seen")
	_ = f.SetCellValue(entriesSheet, "H1", "Last Seen")
	for i, entry := range entries {
		row := i + 2
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), entry.CommandID)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), entry.RobotID)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), entry.Action)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("D%d", row), entry.RetryCount)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("E%d", row), entry.Attempts)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("F%d", row), entry.Reason)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("G%d", row), entry.FirstSeenAt.Format(time.RFC3339))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("H%d", row), entry.LastSeenAt.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
