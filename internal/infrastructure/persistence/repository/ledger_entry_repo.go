package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DefaultCandidateLimit bounds the candidate scan when the filter sets no limit
const DefaultCandidateLimit = 200

// LedgerEntryRepository implements port.LedgerEntryRepository
type LedgerEntryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewLedgerEntryRepository creates a new ledger entry repository
func NewLedgerEntryRepository(db *sqlite.DB, logger *zap.Logger) *LedgerEntryRepository {
	return &LedgerEntryRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a ledger entry
func (r *LedgerEntryRepository) Create(ctx context.Context, e *entity.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			project_id, amount_cents, entry_date, description, archived, has_invoice, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		nullable(e.ProjectID),
		e.AmountCents,
		e.EntryDate,
		e.Description,
		boolToInt(e.Archived),
		boolToInt(e.HasInvoice),
		e.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create ledger entry", zap.Error(err))
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	e.ID = id
	return nil
}

// GetByID retrieves a ledger entry by ID
func (r *LedgerEntryRepository) GetByID(ctx context.Context, id int64) (*entity.LedgerEntry, error) {
	query := `
		SELECT id, project_id, amount_cents, entry_date, description, archived, has_invoice, created_at
		FROM ledger_entries WHERE id = ?
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanLedgerEntries(rows)
	if err != nil {
		r.logger.Error("Failed to get ledger entry", zap.Int64("id", id), zap.Error(err))
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// FindCandidates returns unarchived expense entries matching the filter,
// most recent first
func (r *LedgerEntryRepository) FindCandidates(ctx context.Context, f entity.CandidateFilter) ([]*entity.LedgerEntry, error) {
	var (
		conds = []string{"amount_cents < 0", "archived = 0"}
		args  []interface{}
	)

	if f.DateFrom != "" {
		conds = append(conds, "entry_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		// entry_date may carry a time part; compare on the date prefix
		conds = append(conds, "substr(entry_date, 1, 10) <= ?")
		args = append(args, f.DateTo)
	}
	if f.MinAbsCents > 0 {
		conds = append(conds, "-amount_cents >= ?")
		args = append(args, f.MinAbsCents)
	}
	if f.MaxAbsCents > 0 {
		conds = append(conds, "-amount_cents <= ?")
		args = append(args, f.MaxAbsCents)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	args = append(args, limit)

	query := `
		SELECT id, project_id, amount_cents, entry_date, description, archived, has_invoice, created_at
		FROM ledger_entries
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY entry_date DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query match candidates", zap.Error(err))
		return nil, fmt.Errorf("failed to query match candidates: %w", err)
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// SetHasInvoice updates the link flag of a ledger entry
func (r *LedgerEntryRepository) SetHasInvoice(ctx context.Context, id int64, hasInvoice bool) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx,
		`UPDATE ledger_entries SET has_invoice = ? WHERE id = ?`, boolToInt(hasInvoice), id)
	if err != nil {
		r.logger.Error("Failed to update ledger entry invoice flag", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	return nil
}

func scanLedgerEntries(rows *sql.Rows) ([]*entity.LedgerEntry, error) {
	var entries []*entity.LedgerEntry
	for rows.Next() {
		var (
			e                    entity.LedgerEntry
			projectID            sql.NullInt64
			archived, hasInvoice int
		)
		if err := rows.Scan(&e.ID, &projectID, &e.AmountCents, &e.EntryDate, &e.Description, &archived, &hasInvoice, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.ProjectID = int64Ptr(projectID)
		e.Archived = archived != 0
		e.HasInvoice = hasInvoice != 0
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

// Verify interface compliance
var _ port.LedgerEntryRepository = (*LedgerEntryRepository)(nil)
