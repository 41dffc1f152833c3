package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const invoiceColumns = `
	id, storage_key, file_name, media_type, file_size, ledger_entry_id, ocr_status,
	extracted_amount, extracted_date, extracted_vendor, extracted_invoice_number,
	raw_response, error_message, tokens_in, tokens_out, cost_cents, model,
	uploaded_by, created_at, updated_at
`

// InvoiceRepository implements port.InvoiceRepository
type InvoiceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sqlite.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new PENDING invoice record
func (r *InvoiceRepository) Create(ctx context.Context, rec *entity.InvoiceRecord) error {
	query := `
		INSERT INTO invoices (
			storage_key, file_name, media_type, file_size, ledger_entry_id,
			ocr_status, uploaded_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	// Stored in UTC so text comparisons on created_at order correctly
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.CreatedAt
	rec.OCRStatus = workflow.StatePending

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		rec.StorageKey,
		rec.FileName,
		rec.MediaType,
		rec.FileSize,
		nullable(rec.LedgerEntryID),
		rec.OCRStatus.String(),
		rec.UploadedBy,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create invoice",
			zap.String("storage_key", rec.StorageKey),
			zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*entity.InvoiceRecord, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	rec, err := scanInvoice(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	return rec, nil
}

// ApplyOutcome records the extraction result and moves the record out of PENDING
func (r *InvoiceRepository) ApplyOutcome(ctx context.Context, id int64, outcome entity.ExtractionOutcome) error {
	trigger, err := workflow.TriggerFor(outcome.Status)
	if err != nil {
		return fmt.Errorf("invalid outcome status %s: %w", outcome.Status, err)
	}
	if _, err := workflow.Next(workflow.StatePending, trigger); err != nil {
		return err
	}

	// Accounting columns are only written when the extractor ran
	var tokensIn, tokensOut, costCents, model interface{}
	if outcome.Ran {
		tokensIn = outcome.TokensIn
		tokensOut = outcome.TokensOut
		costCents = outcome.CostCents
		model = outcome.Model
	}

	query := `
		UPDATE invoices SET
			ocr_status = ?,
			extracted_amount = ?, extracted_date = ?, extracted_vendor = ?, extracted_invoice_number = ?,
			raw_response = ?, error_message = ?,
			tokens_in = ?, tokens_out = ?, cost_cents = ?, model = ?,
			updated_at = ?
		WHERE id = ? AND ocr_status = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		outcome.Status.String(),
		nullable(outcome.Fields.Amount),
		nullable(outcome.Fields.Date),
		nullable(outcome.Fields.Vendor),
		nullable(outcome.Fields.InvoiceNumber),
		nullable(outcome.RawResponse),
		nullable(outcome.ErrorMessage),
		tokensIn, tokensOut, costCents, model,
		time.Now().UTC(),
		id,
		workflow.StatePending.String(),
	)
	if err != nil {
		r.logger.Error("Failed to apply extraction outcome",
			zap.Int64("id", id),
			zap.String("status", outcome.Status.String()),
			zap.Error(err))
		return fmt.Errorf("failed to apply extraction outcome: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("invoice %d is not pending: %w", id, workflow.ErrInvalidTransition)
	}

	return nil
}

// UpdateExtractedFields overwrites the extracted fields
func (r *InvoiceRepository) UpdateExtractedFields(ctx context.Context, id int64, fields entity.ExtractedFields) error {
	query := `
		UPDATE invoices SET
			extracted_amount = ?, extracted_date = ?, extracted_vendor = ?, extracted_invoice_number = ?,
			updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		nullable(fields.Amount),
		nullable(fields.Date),
		nullable(fields.Vendor),
		nullable(fields.InvoiceNumber),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		r.logger.Error("Failed to update extracted fields", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update extracted fields: %w", err)
	}

	return nil
}

// Link attaches an orphan invoice to a ledger entry
func (r *InvoiceRepository) Link(ctx context.Context, id, ledgerEntryID int64) (bool, error) {
	query := `
		UPDATE invoices SET ledger_entry_id = ?, updated_at = ?
		WHERE id = ? AND ledger_entry_id IS NULL
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, ledgerEntryID, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to link invoice",
			zap.Int64("id", id),
			zap.Int64("ledger_entry_id", ledgerEntryID),
			zap.Error(err))
		return false, fmt.Errorf("failed to link invoice: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Delete removes an invoice record
func (r *InvoiceRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.Executor(ctx).ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id); err != nil {
		r.logger.Error("Failed to delete invoice", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return nil
}

// CountByLedgerEntry counts invoices linked to a ledger entry
func (r *InvoiceRepository) CountByLedgerEntry(ctx context.Context, ledgerEntryID int64) (int, error) {
	var n int
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE ledger_entry_id = ?`, ledgerEntryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count invoices: %w", err)
	}
	return n, nil
}

// ListStalePending returns IDs of PENDING records created before the cutoff, oldest first
func (r *InvoiceRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	query := `
		SELECT id FROM invoices
		WHERE ocr_status = ? AND created_at < ?
		ORDER BY created_at, id
		LIMIT ?
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, workflow.StatePending.String(), createdBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale invoices: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale invoice: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanInvoice(row *sql.Row) (*entity.InvoiceRecord, error) {
	var (
		rec                                          entity.InvoiceRecord
		status                                       string
		ledgerEntryID, tokensIn, tokensOut, cost     sql.NullInt64
		amount                                       sql.NullFloat64
		date, vendor, number, raw, errMsg, modelName sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.StorageKey,
		&rec.FileName,
		&rec.MediaType,
		&rec.FileSize,
		&ledgerEntryID,
		&status,
		&amount,
		&date,
		&vendor,
		&number,
		&raw,
		&errMsg,
		&tokensIn,
		&tokensOut,
		&cost,
		&modelName,
		&rec.UploadedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	state, err := workflow.ParseState(status)
	if err != nil {
		return nil, fmt.Errorf("invoice %d has status %q: %w", rec.ID, status, err)
	}

	rec.OCRStatus = state
	rec.LedgerEntryID = int64Ptr(ledgerEntryID)
	rec.Extracted = entity.ExtractedFields{
		Amount:        float64Ptr(amount),
		Date:          stringPtr(date),
		Vendor:        stringPtr(vendor),
		InvoiceNumber: stringPtr(number),
	}
	rec.RawResponse = stringPtr(raw)
	rec.ErrorMessage = stringPtr(errMsg)
	rec.TokensIn = intPtr(tokensIn)
	rec.TokensOut = intPtr(tokensOut)
	rec.CostCents = int64Ptr(cost)
	rec.Model = stringPtr(modelName)

	return &rec, nil
}

// Verify interface compliance
var _ port.InvoiceRepository = (*InvoiceRepository)(nil)
