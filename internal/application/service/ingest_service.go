package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/gate"
	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/event"
	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
	"github.com/garyjia/invoice-matcher/internal/invoice"
	"github.com/garyjia/invoice-matcher/pkg/utils"
	"github.com/google/uuid"
)

// DefaultMaxBatchFiles caps the number of files in one upload batch
const DefaultMaxBatchFiles = 20

const maxFileNameLength = 255

// OutcomeKind classifies the result of one file in a batch
type OutcomeKind string

const (
	OutcomeInvalid        OutcomeKind = "INVALID"
	OutcomeFailed         OutcomeKind = "FAILED"
	OutcomeBudgetExceeded OutcomeKind = "BUDGET_EXCEEDED"
	OutcomeCompleted      OutcomeKind = "COMPLETED"
)

// UploadFile is one submitted document
type UploadFile struct {
	FileName  string
	MediaType string
	Data      []byte
}

// FileOutcome is the per-file result of a batch, in submission order
type FileOutcome struct {
	FileName    string                   `json:"file_name"`
	Kind        OutcomeKind              `json:"outcome"`
	Invoice     *entity.InvoiceRecord    `json:"invoice,omitempty"`
	Suggestions []entity.MatchSuggestion `json:"suggestions,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// BatchResult holds one outcome per submitted file and the final budget
type BatchResult struct {
	Outcomes []FileOutcome        `json:"outcomes"`
	Budget   entity.BudgetSnapshot `json:"budget"`
}

// IngestConfig bounds batch processing
type IngestConfig struct {
	MaxBatchFiles int
	MaxFileBytes  int64
	MatchLimit    int
}

// IngestDependencies groups the collaborators of IngestService
type IngestDependencies struct {
	Invoices  port.InvoiceRepository
	Usage     port.UsageRepository
	Blobs     port.BlobStore
	Extractor port.Extractor
	Tx        port.TransactionManager
	Budget    *BudgetService
	Matcher   *MatchService
	Cost      *CostEstimator
	Gate      *gate.Gate
	Clock     port.Clock
	Events    Publisher
	Metrics   Metrics
	Logger    Logger
}

// IngestService drives uploaded files through validation, storage,
// gated extraction and matching
type IngestService struct {
	IngestDependencies
	cfg IngestConfig
}

// NewIngestService creates a new IngestService. Events and Metrics may be nil.
func NewIngestService(deps IngestDependencies, cfg IngestConfig) *IngestService {
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Gate == nil {
		deps.Gate = gate.New()
	}
	if cfg.MaxBatchFiles <= 0 {
		cfg.MaxBatchFiles = DefaultMaxBatchFiles
	}
	return &IngestService{IngestDependencies: deps, cfg: cfg}
}

// IngestBatch processes every file independently; one file's failure never
// aborts the others. The result always holds len(files) outcomes.
func (s *IngestService) IngestBatch(ctx context.Context, userID string, files []UploadFile) (*BatchResult, error) {
	if err := utils.ValidateUserID(userID); err != nil {
		return nil, newValidationError("user_id", err.Error())
	}
	if len(files) == 0 {
		return nil, newValidationError("files", "at least one file is required")
	}
	if len(files) > s.cfg.MaxBatchFiles {
		return nil, newValidationError("files", fmt.Sprintf("at most %d files per batch", s.cfg.MaxBatchFiles))
	}

	correlationID := uuid.NewString()
	s.Logger.Info("Processing upload batch",
		"user_id", userID,
		"files", len(files),
		"correlation_id", correlationID)

	result := &BatchResult{Outcomes: make([]FileOutcome, 0, len(files))}
	for _, f := range files {
		outcome := s.processFile(ctx, userID, correlationID, f)
		s.Metrics.ObserveOutcome(string(outcome.Kind))
		result.Outcomes = append(result.Outcomes, outcome)
	}

	snapshot, err := s.Budget.CheckBudget(ctx)
	if err != nil {
		s.Logger.Error("Failed to read final budget snapshot", "error", err)
	} else {
		s.Metrics.SetMonthSpend(snapshot.SpentCents)
	}
	result.Budget = snapshot

	return result, nil
}

func (s *IngestService) processFile(ctx context.Context, userID, correlationID string, f UploadFile) FileOutcome {
	fileName := utils.TruncateRunes(utils.SanitizeString(f.FileName), maxFileNameLength)
	outcome := FileOutcome{FileName: fileName}

	if reason := s.validate(f); reason != "" {
		s.Logger.Warn("Rejected invalid upload", "file_name", fileName, "media_type", f.MediaType, "reason", reason)
		outcome.Kind = OutcomeInvalid
		outcome.Error = reason
		return outcome
	}

	key := invoice.StorageKey(invoice.Namespace(nil), fileName, f.MediaType, s.Clock.Now())
	if err := s.Blobs.Put(ctx, key, f.Data, f.MediaType); err != nil {
		s.Logger.Error("Failed to store upload", "file_name", fileName, "storage_key", key, "error", err)
		outcome.Kind = OutcomeFailed
		outcome.Error = ErrStorage.Error()
		return outcome
	}

	record := &entity.InvoiceRecord{
		StorageKey: key,
		FileName:   fileName,
		MediaType:  f.MediaType,
		FileSize:   int64(len(f.Data)),
		OCRStatus:  workflow.StatePending,
		UploadedBy: userID,
	}
	if err := s.createRecord(ctx, record); err != nil {
		s.Logger.Error("Failed to create invoice record", "file_name", fileName, "storage_key", key, "error", err)
		outcome.Kind = OutcomeFailed
		outcome.Error = ErrPersistence.Error()
		return outcome
	}
	outcome.Invoice = record

	s.Events.DispatchAsync(ctx, event.NewEventWithCorrelation(event.TypeInvoiceIngested, record.ID, userID,
		map[string]interface{}{
			event.KeyFileName: fileName,
			event.KeyFileSize: record.FileSize,
		}, correlationID))

	s.extract(ctx, userID, correlationID, record, f.Data)

	switch record.OCRStatus {
	case workflow.StateCompleted:
		outcome.Kind = OutcomeCompleted
		suggestions, err := s.Matcher.MatchFields(ctx, record.Extracted, s.cfg.MatchLimit)
		if err != nil {
			s.Logger.Error("Failed to compute match suggestions", "invoice_id", record.ID, "error", err)
			suggestions = []entity.MatchSuggestion{}
		}
		outcome.Suggestions = suggestions
	case workflow.StateBudgetExceeded:
		outcome.Kind = OutcomeBudgetExceeded
	default:
		outcome.Kind = OutcomeFailed
		if record.ErrorMessage != nil {
			outcome.Error = *record.ErrorMessage
		}
	}
	return outcome
}

// validate returns a rejection reason, or "" when the file may be stored
func (s *IngestService) validate(f UploadFile) string {
	if !entity.AllowedMediaTypes[f.MediaType] {
		return "unsupported media type"
	}
	if s.cfg.MaxFileBytes > 0 && int64(len(f.Data)) > s.cfg.MaxFileBytes {
		return "file too large"
	}
	if !invoice.ValidateSignature(f.Data, f.MediaType) {
		return "content does not match declared media type"
	}
	return ""
}

// createRecord persists the PENDING record. On failure the just-uploaded
// blob is removed; cleanup errors are logged and never replace err.
func (s *IngestService) createRecord(ctx context.Context, record *entity.InvoiceRecord) (err error) {
	defer func() {
		if err == nil {
			return
		}
		if delErr := s.Blobs.Delete(context.WithoutCancel(ctx), record.StorageKey); delErr != nil {
			s.Logger.Error("Failed to remove orphaned blob",
				"storage_key", record.StorageKey,
				"error", delErr)
		}
	}()

	if err = s.Invoices.Create(ctx, record); err != nil {
		return fmt.Errorf("%w: create invoice record: %w", ErrPersistence, err)
	}
	return nil
}

// extract runs the budget check, extraction call and result persistence as
// one serialized step, and leaves the record in a terminal status.
func (s *IngestService) extract(ctx context.Context, userID, correlationID string, record *entity.InvoiceRecord, data []byte) {
	start := time.Now()
	var (
		outcome   entity.ExtractionOutcome
		crossings []event.Type
		snapshot  entity.BudgetSnapshot
	)

	gateErr := s.Gate.Do(ctx, func(ctx context.Context) error {
		var limits budgetLimits
		var err error
		snapshot, limits, err = s.Budget.check(ctx)
		if err != nil {
			outcome = failedOutcome("budget check failed")
			return s.Invoices.ApplyOutcome(ctx, record.ID, outcome)
		}

		if !snapshot.Allowed {
			s.Logger.Warn("Monthly extraction budget exhausted",
				"invoice_id", record.ID,
				"spent_cents", snapshot.SpentCents,
				"budget_cents", snapshot.BudgetCents)
			outcome = entity.ExtractionOutcome{Status: workflow.StateBudgetExceeded}
			return s.Invoices.ApplyOutcome(ctx, record.ID, outcome)
		}

		res, err := s.Extractor.Extract(ctx, data, record.MediaType, record.FileName)
		if err != nil {
			s.Logger.Error("Extraction call failed", "invoice_id", record.ID, "error", err)
			outcome = failedOutcome(fmt.Errorf("%w: %w", ErrExtractionTransport, err).Error())
			return s.Invoices.ApplyOutcome(ctx, record.ID, outcome)
		}

		outcome = completedOutcome(res, s.Cost.CostCents(res.TokensIn, res.TokensOut))
		if err := s.persistResult(ctx, userID, record.ID, &outcome); err != nil {
			return err
		}
		crossings = BudgetCrossings(snapshot, outcome.CostCents, limits.thresholdPercent)
		return nil
	})

	elapsed := time.Since(start)
	if gateErr != nil {
		s.Logger.Error("Extraction stage failed", "invoice_id", record.ID, "error", gateErr)
		outcome = s.closeOut(ctx, record.ID)
	}
	record.Apply(outcome)

	s.Metrics.ObserveExtraction(outcome.Status.String(), elapsed, outcome.CostCents)
	s.Events.DispatchAsync(ctx, event.NewEventWithCorrelation(event.TypeInvoiceExtracted, record.ID, userID,
		map[string]interface{}{
			event.KeyStatus:     outcome.Status.String(),
			event.KeyTokensIn:   outcome.TokensIn,
			event.KeyTokensOut:  outcome.TokensOut,
			event.KeyCostCents:  outcome.CostCents,
			event.KeyDurationMS: elapsed.Milliseconds(),
		}, correlationID))

	for _, t := range crossings {
		s.Events.DispatchAsync(ctx, event.NewEventWithCorrelation(t, record.ID, userID,
			map[string]interface{}{
				event.KeySpentCents:  snapshot.SpentCents + outcome.CostCents,
				event.KeyBudgetCents: snapshot.BudgetCents,
			}, correlationID))
	}
}

// persistResult writes the usage row and the COMPLETED result in one
// transaction. If that fails, the usage row is written on its own so spend
// is never under-reported, and the record is marked FAILED.
func (s *IngestService) persistResult(ctx context.Context, userID string, invoiceID int64, outcome *entity.ExtractionOutcome) error {
	usage := &entity.UsageLogEntry{
		InvoiceID: &invoiceID,
		UserID:    userID,
		TokensIn:  outcome.TokensIn,
		TokensOut: outcome.TokensOut,
		CostCents: outcome.CostCents,
		Model:     outcome.Model,
		CreatedAt: s.Clock.Now(),
	}

	err := s.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.Usage.Record(txCtx, usage); err != nil {
			return err
		}
		return s.Invoices.ApplyOutcome(txCtx, invoiceID, *outcome)
	})
	if err == nil {
		return nil
	}

	s.Logger.Error("Failed to persist extraction result", "invoice_id", invoiceID, "error", err)

	usage.ID = 0
	if recErr := s.Usage.Record(ctx, usage); recErr != nil {
		s.Logger.Error("Failed to record extraction usage",
			"invoice_id", invoiceID,
			"cost_cents", usage.CostCents,
			"error", recErr)
	}

	failed := *outcome
	failed.Status = workflow.StateFailed
	failed.Fields = entity.ExtractedFields{}
	msg := ErrPersistence.Error()
	failed.ErrorMessage = &msg
	*outcome = failed

	return s.Invoices.ApplyOutcome(ctx, invoiceID, failed)
}

// closeOut marks a record FAILED after an extraction stage that did not
// persist its own result, and returns what is actually stored.
func (s *IngestService) closeOut(ctx context.Context, invoiceID int64) entity.ExtractionOutcome {
	ctx = context.WithoutCancel(ctx)
	failed := failedOutcome("extraction did not complete")

	err := s.Invoices.ApplyOutcome(ctx, invoiceID, failed)
	if err == nil {
		return failed
	}
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		s.Logger.Error("Failed to mark invoice failed", "invoice_id", invoiceID, "error", err)
		return failed
	}

	stored, getErr := s.Invoices.GetByID(ctx, invoiceID)
	if getErr != nil || stored == nil {
		return failed
	}
	return storedOutcome(stored)
}

func storedOutcome(r *entity.InvoiceRecord) entity.ExtractionOutcome {
	o := entity.ExtractionOutcome{
		Status:       r.OCRStatus,
		Fields:       r.Extracted,
		RawResponse:  r.RawResponse,
		ErrorMessage: r.ErrorMessage,
	}
	if r.CostCents != nil {
		o.Ran = true
		o.CostCents = *r.CostCents
		if r.TokensIn != nil {
			o.TokensIn = *r.TokensIn
		}
		if r.TokensOut != nil {
			o.TokensOut = *r.TokensOut
		}
		if r.Model != nil {
			o.Model = *r.Model
		}
	}
	return o
}

func failedOutcome(message string) entity.ExtractionOutcome {
	msg := utils.TruncateRunes(message, entity.MaxErrorMessageLength)
	return entity.ExtractionOutcome{
		Status:       workflow.StateFailed,
		ErrorMessage: &msg,
	}
}

func completedOutcome(res *port.ExtractionResult, costCents int64) entity.ExtractionOutcome {
	var raw *string
	if res.RawText != "" {
		text := res.RawText
		raw = &text
	}
	return entity.ExtractionOutcome{
		Status: workflow.StateCompleted,
		Fields: entity.ExtractedFields{
			Amount:        res.Amount,
			Date:          res.Date,
			Vendor:        res.Vendor,
			InvoiceNumber: res.InvoiceNumber,
		},
		RawResponse: raw,
		TokensIn:    res.TokensIn,
		TokensOut:   res.TokensOut,
		CostCents:   costCents,
		Model:       res.Model,
		Ran:         true,
	}
}
