package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// UsageRepository implements port.UsageRepository. created_at is stored as
// unix seconds so month sums are a plain range scan.
type UsageRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *sqlite.DB, logger *zap.Logger) *UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
	}
}

// Record appends a usage row
func (r *UsageRepository) Record(ctx context.Context, entry *entity.UsageLogEntry) error {
	query := `
		INSERT INTO extraction_usage (
			invoice_id, user_id, tokens_in, tokens_out, cost_cents, model, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		nullable(entry.InvoiceID),
		entry.UserID,
		entry.TokensIn,
		entry.TokensOut,
		entry.CostCents,
		entry.Model,
		entry.CreatedAt.Unix(),
	)
	if err != nil {
		r.logger.Error("Failed to record extraction usage",
			zap.Int64("cost_cents", entry.CostCents),
			zap.Error(err))
		return fmt.Errorf("failed to record extraction usage: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// SumCostSince sums the cost of every row created at or after since
func (r *UsageRepository) SumCostSince(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_cents), 0) FROM extraction_usage WHERE created_at >= ?`,
		since.Unix(),
	).Scan(&total)
	if err != nil {
		r.logger.Error("Failed to sum extraction usage", zap.Time("since", since), zap.Error(err))
		return 0, fmt.Errorf("failed to sum extraction usage: %w", err)
	}
	return total, nil
}

// ListBetween returns usage rows created in [from, to)
func (r *UsageRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*entity.UsageLogEntry, error) {
	query := `
		SELECT id, invoice_id, user_id, tokens_in, tokens_out, cost_cents, model, created_at
		FROM extraction_usage
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at, id
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction usage: %w", err)
	}
	defer rows.Close()

	var entries []*entity.UsageLogEntry
	for rows.Next() {
		var (
			e         entity.UsageLogEntry
			invoiceID sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &invoiceID, &e.UserID, &e.TokensIn, &e.TokensOut, &e.CostCents, &e.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction usage: %w", err)
		}
		e.InvoiceID = int64Ptr(invoiceID)
		e.CreatedAt = time.Unix(createdAt, 0).In(from.Location())
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// Verify interface compliance
var _ port.UsageRepository = (*UsageRepository)(nil)
