package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReportService_UsageReportXLSX(t *testing.T) {
	h := newHarness(t, 1000)
	invoiceID := h.seedInvoice(t, workflow.StateCompleted, entity.ExtractedFields{}).ID

	require.NoError(t, h.usage.Record(context.Background(), &entity.UsageLogEntry{
		InvoiceID: &invoiceID, UserID: "ana", TokensIn: 1200, TokensOut: 45, CostCents: 1, Model: "gpt-4o",
		CreatedAt: time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, h.usage.Record(context.Background(), &entity.UsageLogEntry{
		UserID: "ben", TokensIn: 10000, TokensOut: 100, CostCents: 3, Model: "gpt-4o",
		CreatedAt: time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC),
	}))
	h.spend(t, 999, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	reports := NewReportService(h.usage, h.budget, h.logger)
	data, err := reports.UsageReportXLSX(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(usageSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4, "header, two usage rows, totals")
	assert.Equal(t, "Timestamp (UTC)", rows[0][0])
	assert.Equal(t, "2026-02-03 10:00:00", rows[1][0])
	assert.Equal(t, "ana", rows[1][2])
	assert.Equal(t, "ben", rows[2][2])
	assert.Equal(t, "Total", rows[3][0])
	assert.Equal(t, "11200", rows[3][4])
	assert.Equal(t, "4", rows[3][6])

	month, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "2026-02", month)
	budget, err := f.GetCellValue(summarySheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "1000", budget)
}

func TestReportService_EmptyMonth(t *testing.T) {
	h := newHarness(t, 1000)
	reports := NewReportService(h.usage, h.budget, h.logger)

	data, err := reports.UsageReportXLSX(context.Background(), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(usageSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Total", rows[1][0])
}
