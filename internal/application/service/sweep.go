package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/event"
	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
)

// SystemUserID attributes events raised by background work
const SystemUserID = "system"

const staleMessage = "extraction interrupted before completion"

// SweepStale marks records left PENDING for longer than olderThan as FAILED,
// typically after a crash between storing a file and extracting it. The
// sweep runs inside the extraction gate so it never races a live extraction
// in this process. Returns how many records were closed.
func (s *IngestService) SweepStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 || limit <= 0 {
		return 0, newValidationError("sweep", "age and limit must be positive")
	}

	var closed []int64
	err := s.Gate.Do(ctx, func(ctx context.Context) error {
		ids, err := s.Invoices.ListStalePending(ctx, s.Clock.Now().Add(-olderThan), limit)
		if err != nil {
			return fmt.Errorf("%w: list stale invoices: %w", ErrPersistence, err)
		}

		for _, id := range ids {
			err := s.Invoices.ApplyOutcome(ctx, id, failedOutcome(staleMessage))
			if errors.Is(err, workflow.ErrInvalidTransition) {
				continue
			}
			if err != nil {
				s.Logger.Error("Failed to close stale invoice", "invoice_id", id, "error", err)
				continue
			}
			closed = append(closed, id)
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Stale invoice sweep failed", "error", err)
		return 0, err
	}

	for _, id := range closed {
		s.Metrics.ObserveExtraction(workflow.StateFailed.String(), 0, 0)
		s.Events.DispatchAsync(ctx, event.NewEvent(event.TypeInvoiceExtracted, id, SystemUserID,
			map[string]interface{}{event.KeyStatus: workflow.StateFailed.String()}))
	}
	if len(closed) > 0 {
		s.Logger.Warn("Closed stale pending invoices", "count", len(closed), "older_than", olderThan.String())
	}
	return len(closed), nil
}

// RefreshSpend publishes the current month's spend to metrics. Called
// periodically so the gauge resets at month rollover without an upload.
func (s *IngestService) RefreshSpend(ctx context.Context) (int64, error) {
	snapshot, err := s.Budget.CheckBudget(ctx)
	if err != nil {
		return 0, err
	}
	s.Metrics.SetMonthSpend(snapshot.SpentCents)
	return snapshot.SpentCents, nil
}
