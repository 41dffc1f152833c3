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

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit log repository
func NewAuditRepository(db *sqlite.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an audit log entry
func (r *AuditRepository) Create(ctx context.Context, e *entity.AuditLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Detail == "" {
		e.Detail = "{}"
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx,
		`INSERT INTO audit_log (user_id, action, invoice_id, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Action, nullable(e.InvoiceID), e.Detail, e.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to write audit log",
			zap.String("action", e.Action),
			zap.Error(err))
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// ListByInvoice returns the audit trail of an invoice, oldest first
func (r *AuditRepository) ListByInvoice(ctx context.Context, invoiceID int64) ([]*entity.AuditLogEntry, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT id, user_id, action, invoice_id, detail, created_at FROM audit_log WHERE invoice_id = ? ORDER BY id`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditLogEntry
	for rows.Next() {
		var (
			e  entity.AuditLogEntry
			id sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &id, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.InvoiceID = int64Ptr(id)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
