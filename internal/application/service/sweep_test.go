package service

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/event"
	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) pendingAt(t *testing.T, key string, createdAt time.Time) *entity.InvoiceRecord {
	t.Helper()
	rec := &entity.InvoiceRecord{
		StorageKey: key,
		FileName:   "scan.pdf",
		MediaType:  entity.MediaTypePDF,
		FileSize:   int64(len(pdfBytes)),
		UploadedBy: "ana",
		CreatedAt:  createdAt,
	}
	require.NoError(t, h.invoices.Create(context.Background(), rec))
	return rec
}

func TestSweepStale(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()

	stale := h.pendingAt(t, "invoices/orphan/1-stale.pdf", testNow.Add(-2*time.Hour))
	fresh := h.pendingAt(t, "invoices/orphan/2-fresh.pdf", testNow.Add(-5*time.Minute))

	n, err := h.ingest.SweepStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.invoices.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateFailed, got.OCRStatus)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, staleMessage, *got.ErrorMessage)
	assert.Nil(t, got.CostCents)

	got, err = h.invoices.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatePending, got.OCRStatus)

	assert.Equal(t, []event.Type{event.TypeInvoiceExtracted}, h.events.Types())

	n, err = h.ingest.SweepStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepStale_RejectsBadArguments(t *testing.T) {
	h := newHarness(t, 1000)

	_, err := h.ingest.SweepStale(context.Background(), 0, 10)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.ingest.SweepStale(context.Background(), time.Hour, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRefreshSpend(t *testing.T) {
	h := newHarness(t, 1000)
	h.spend(t, 7, testNow.Add(-time.Hour))
	h.spend(t, 50, testNow.AddDate(0, -1, 0))

	spent, err := h.ingest.RefreshSpend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), spent)
}
