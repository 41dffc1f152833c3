package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/event"
	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
	"github.com/garyjia/invoice-matcher/internal/invoice"
)

// DefaultDownloadTTL is the lifetime of signed download URLs
const DefaultDownloadTTL = time.Hour

// Correction carries manually corrected field values. A nil field clears
// the stored value.
type Correction struct {
	Amount        *float64 `json:"amount"`
	Date          *string  `json:"date"`
	Vendor        *string  `json:"vendor"`
	InvoiceNumber *string  `json:"invoice_number"`
}

// InvoiceService handles single-record operations after ingestion
type InvoiceService struct {
	invoices    port.InvoiceRepository
	entries     port.LedgerEntryRepository
	blobs       port.BlobStore
	tx          port.TransactionManager
	matcher     *MatchService
	events      Publisher
	downloadTTL time.Duration
	logger      Logger
}

// NewInvoiceService creates a new InvoiceService. events may be nil.
func NewInvoiceService(
	invoices port.InvoiceRepository,
	entries port.LedgerEntryRepository,
	blobs port.BlobStore,
	tx port.TransactionManager,
	matcher *MatchService,
	events Publisher,
	downloadTTL time.Duration,
	logger Logger,
) *InvoiceService {
	if events == nil {
		events = noopPublisher{}
	}
	if downloadTTL <= 0 {
		downloadTTL = DefaultDownloadTTL
	}
	return &InvoiceService{
		invoices:    invoices,
		entries:     entries,
		blobs:       blobs,
		tx:          tx,
		matcher:     matcher,
		events:      events,
		downloadTTL: downloadTTL,
		logger:      logger,
	}
}

// Get returns a record or ErrNotFound
func (s *InvoiceService) Get(ctx context.Context, id int64) (*entity.InvoiceRecord, error) {
	record, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get invoice", "invoice_id", id, "error", err)
		return nil, fmt.Errorf("%w: get invoice: %w", ErrPersistence, err)
	}
	if record == nil {
		return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	return record, nil
}

// Matches ranks candidates for the record's stored fields
func (s *InvoiceService) Matches(ctx context.Context, id int64, limit int) ([]entity.MatchSuggestion, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.matcher.MatchFields(ctx, record.Extracted, limit)
}

// Correct replaces the extracted fields of an unlinked record and re-runs
// matching. Identical input against an unchanged candidate pool yields
// identical suggestions.
func (s *InvoiceService) Correct(ctx context.Context, userID string, id int64, c Correction) (*entity.InvoiceRecord, []entity.MatchSuggestion, error) {
	fields, err := sanitizeCorrection(c)
	if err != nil {
		return nil, nil, err
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !record.IsOrphan() {
		return nil, nil, fmt.Errorf("invoice %d: %w", id, ErrAlreadyLinked)
	}
	if record.OCRStatus == workflow.StatePending {
		return nil, nil, fmt.Errorf("invoice %d: %w", id, ErrExtractionBusy)
	}

	if err := s.invoices.UpdateExtractedFields(ctx, id, fields); err != nil {
		s.logger.Error("Failed to save corrected fields", "invoice_id", id, "error", err)
		return nil, nil, fmt.Errorf("%w: save corrected fields: %w", ErrPersistence, err)
	}
	record.Extracted = fields

	s.events.DispatchAsync(ctx, event.NewEvent(event.TypeInvoiceCorrected, id, userID,
		map[string]interface{}{event.KeyFields: fields}))

	suggestions, err := s.matcher.MatchFields(ctx, fields, 0)
	if err != nil {
		return nil, nil, err
	}
	return record, suggestions, nil
}

// Link attaches an orphan record to a ledger entry and flags the entry as
// having an invoice, atomically.
func (s *InvoiceService) Link(ctx context.Context, userID string, id, ledgerEntryID int64) (*entity.InvoiceRecord, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.IsOrphan() {
		return nil, fmt.Errorf("invoice %d: %w", id, ErrAlreadyLinked)
	}
	if !record.OCRStatus.IsLinkable() {
		return nil, fmt.Errorf("invoice %d in status %s: %w", id, record.OCRStatus, ErrNotLinkable)
	}

	entry, err := s.entries.GetByID(ctx, ledgerEntryID)
	if err != nil {
		s.logger.Error("Failed to get ledger entry", "ledger_entry_id", ledgerEntryID, "error", err)
		return nil, fmt.Errorf("%w: get ledger entry: %w", ErrPersistence, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("ledger entry %d: %w", ledgerEntryID, ErrNotFound)
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		linked, err := s.invoices.Link(txCtx, id, ledgerEntryID)
		if err != nil {
			return fmt.Errorf("%w: link invoice: %w", ErrPersistence, err)
		}
		if !linked {
			return fmt.Errorf("invoice %d: %w", id, ErrAlreadyLinked)
		}
		if err := s.entries.SetHasInvoice(txCtx, ledgerEntryID, true); err != nil {
			return fmt.Errorf("%w: flag ledger entry: %w", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to link invoice", "invoice_id", id, "ledger_entry_id", ledgerEntryID, "error", err)
		return nil, err
	}

	record.LedgerEntryID = &ledgerEntryID
	s.events.DispatchAsync(ctx, event.NewEvent(event.TypeInvoiceLinked, id, userID,
		map[string]interface{}{event.KeyLedgerEntryID: ledgerEntryID}))

	s.logger.Info("Invoice linked", "invoice_id", id, "ledger_entry_id", ledgerEntryID, "user_id", userID)
	return record, nil
}

// Remove deletes the record and recomputes the ledger entry's invoice flag
// in one transaction, then deletes the blob best-effort.
func (s *InvoiceService) Remove(ctx context.Context, userID string, id int64) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.invoices.Delete(txCtx, id); err != nil {
			return err
		}
		if record.LedgerEntryID == nil {
			return nil
		}
		remaining, err := s.invoices.CountByLedgerEntry(txCtx, *record.LedgerEntryID)
		if err != nil {
			return err
		}
		return s.entries.SetHasInvoice(txCtx, *record.LedgerEntryID, remaining > 0)
	})
	if err != nil {
		s.logger.Error("Failed to remove invoice", "invoice_id", id, "error", err)
		return fmt.Errorf("%w: remove invoice: %w", ErrPersistence, err)
	}

	if err := s.blobs.Delete(context.WithoutCancel(ctx), record.StorageKey); err != nil {
		s.logger.Error("Failed to delete invoice blob", "invoice_id", id, "storage_key", record.StorageKey, "error", err)
	}

	payload := map[string]interface{}{event.KeyFileName: record.FileName}
	if record.LedgerEntryID != nil {
		payload[event.KeyLedgerEntryID] = *record.LedgerEntryID
	}
	s.events.DispatchAsync(ctx, event.NewEvent(event.TypeInvoiceRemoved, id, userID, payload))
	return nil
}

// DownloadURL issues a time-limited URL for the stored document
func (s *InvoiceService) DownloadURL(ctx context.Context, id int64) (string, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	url, err := s.blobs.SignedURL(ctx, record.StorageKey, s.downloadTTL)
	if err != nil {
		s.logger.Error("Failed to sign download URL", "invoice_id", id, "error", err)
		return "", fmt.Errorf("%w: sign download URL: %w", ErrStorage, err)
	}
	return url, nil
}

// sanitizeCorrection applies the extraction rules to corrected values.
// Present but unusable amount or date values are rejected.
func sanitizeCorrection(c Correction) (entity.ExtractedFields, error) {
	var fields entity.ExtractedFields

	if c.Amount != nil {
		fields.Amount = invoice.SanitizeAmount(*c.Amount)
		if fields.Amount == nil {
			return fields, newValidationError("amount", "must be a positive number")
		}
	}
	if c.Date != nil {
		fields.Date = invoice.SanitizeDate(*c.Date)
		if fields.Date == nil {
			return fields, newValidationError("date", "must be a valid YYYY-MM-DD date")
		}
	}
	if c.Vendor != nil {
		fields.Vendor = invoice.SanitizeText(*c.Vendor, entity.MaxVendorLength)
	}
	if c.InvoiceNumber != nil {
		fields.InvoiceNumber = invoice.SanitizeText(*c.InvoiceNumber, entity.MaxInvoiceNumberLength)
	}
	return fields, nil
}
