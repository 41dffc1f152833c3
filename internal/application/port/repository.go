package port

import (
	"context"
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/entity"
)

// InvoiceRepository defines persistence operations for InvoiceRecord.
// Lookups return (nil, nil) when the row does not exist.
type InvoiceRepository interface {
	// Create inserts a PENDING record and sets its ID and timestamps
	Create(ctx context.Context, record *entity.InvoiceRecord) error

	// GetByID retrieves a record by its ID
	GetByID(ctx context.Context, id int64) (*entity.InvoiceRecord, error)

	// ApplyOutcome moves a PENDING record to the outcome's terminal status.
	// Returns workflow.ErrInvalidTransition when the record is no longer PENDING.
	ApplyOutcome(ctx context.Context, id int64, outcome entity.ExtractionOutcome) error

	// UpdateExtractedFields overwrites the four extracted fields
	UpdateExtractedFields(ctx context.Context, id int64, fields entity.ExtractedFields) error

	// Link sets the ledger entry of an orphan record. Reports false when the
	// record was already linked.
	Link(ctx context.Context, id, ledgerEntryID int64) (bool, error)

	// Delete removes the record
	Delete(ctx context.Context, id int64) error

	// CountByLedgerEntry counts records linked to a ledger entry
	CountByLedgerEntry(ctx context.Context, ledgerEntryID int64) (int, error)

	// ListStalePending returns IDs of records still PENDING that were created
	// before the cutoff, oldest first
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error)
}

// UsageRepository defines persistence operations for extraction usage rows
type UsageRepository interface {
	// Record appends a usage row and sets its ID
	Record(ctx context.Context, entry *entity.UsageLogEntry) error

	// SumCostSince sums cost_cents of rows created at or after since
	SumCostSince(ctx context.Context, since time.Time) (int64, error)

	// ListBetween returns rows created in [from, to), oldest first
	ListBetween(ctx context.Context, from, to time.Time) ([]*entity.UsageLogEntry, error)
}

// LedgerEntryRepository defines the read surface and link flag of ledger entries
type LedgerEntryRepository interface {
	Create(ctx context.Context, entry *entity.LedgerEntry) error
	GetByID(ctx context.Context, id int64) (*entity.LedgerEntry, error)

	// FindCandidates returns unarchived expense entries within the filter,
	// ordered by entry_date DESC, id DESC
	FindCandidates(ctx context.Context, filter entity.CandidateFilter) ([]*entity.LedgerEntry, error)

	SetHasInvoice(ctx context.Context, id int64, hasInvoice bool) error
}

// AuditRepository defines persistence operations for the audit log
type AuditRepository interface {
	Create(ctx context.Context, entry *entity.AuditLogEntry) error
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*entity.AuditLogEntry, error)
}

// SettingsRepository persists typed application settings
type SettingsRepository interface {
	// GetExtractionSettings returns the stored override, or the zero value
	// when absent or unreadable
	GetExtractionSettings(ctx context.Context) (entity.ExtractionSettings, error)
	SaveExtractionSettings(ctx context.Context, settings entity.ExtractionSettings) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
