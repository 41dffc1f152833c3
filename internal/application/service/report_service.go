package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/xuri/excelize/v2"
)

const (
	usageSheet   = "Usage"
	summarySheet = "Summary"
)

// ReportService exports monthly extraction usage
type ReportService struct {
	usage  port.UsageRepository
	budget *BudgetService
	logger Logger
}

// NewReportService creates a new ReportService
func NewReportService(usage port.UsageRepository, budget *BudgetService, logger Logger) *ReportService {
	return &ReportService{usage: usage, budget: budget, logger: logger}
}

// UsageReportXLSX builds a workbook with one row per extraction call in the
// month starting at monthStart, followed by a totals row and a summary sheet.
func (s *ReportService) UsageReportXLSX(ctx context.Context, monthStart time.Time) ([]byte, error) {
	start := time.Now()
	monthEnd := monthStart.AddDate(0, 1, 0)

	rows, err := s.usage.ListBetween(ctx, monthStart, monthEnd)
	if err != nil {
		s.logger.Error("Failed to list usage rows", "month", monthStart.Format("2006-01"), "error", err)
		return nil, fmt.Errorf("%w: list usage: %w", ErrPersistence, err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// Rename the default sheet so the usage rows open first
	if err := f.SetSheetName("Sheet1", usageSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	headers := []string{"Timestamp (UTC)", "Invoice ID", "User", "Model", "Tokens In", "Tokens Out", "Cost (cents)"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(usageSheet, cell, h)
	}

	var totalIn, totalOut, totalCost int64
	row := 2
	for _, u := range rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(usageSheet, cell, v)
		}

		write(1, u.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		if u.InvoiceID != nil {
			write(2, *u.InvoiceID)
		} else {
			write(2, "")
		}
		write(3, u.UserID)
		write(4, u.Model)
		write(5, u.TokensIn)
		write(6, u.TokensOut)
		write(7, u.CostCents)

		totalIn += int64(u.TokensIn)
		totalOut += int64(u.TokensOut)
		totalCost += u.CostCents
		row++
	}

	totals := []any{"Total", "", "", "", totalIn, totalOut, totalCost}
	for i, v := range totals {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(usageSheet, cell, v)
	}

	_ = f.SetColWidth(usageSheet, "A", "A", 20)
	_ = f.SetColWidth(usageSheet, "B", "B", 12)
	_ = f.SetColWidth(usageSheet, "C", "D", 24)
	_ = f.SetColWidth(usageSheet, "E", "G", 14)

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	budgetCents := s.budget.limits(ctx).budgetCents
	summary := [][2]any{
		{"Month", monthStart.Format("2006-01")},
		{"Extraction calls", len(rows)},
		{"Spent (cents)", totalCost},
		{"Monthly budget (cents)", budgetCents},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 26)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("Usage report generated",
		"month", monthStart.Format("2006-01"),
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}
