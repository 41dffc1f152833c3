package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// SettingsRepository implements port.SettingsRepository on the app_settings table
type SettingsRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sqlite.DB, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetExtractionSettings loads the extraction override. A malformed document is
// logged and treated as absent.
func (r *SettingsRepository) GetExtractionSettings(ctx context.Context) (entity.ExtractionSettings, error) {
	raw, found, err := r.get(ctx, entity.SettingsKeyExtraction)
	if err != nil {
		return entity.ExtractionSettings{}, err
	}
	if !found {
		return entity.ExtractionSettings{}, nil
	}

	settings, err := entity.ParseExtractionSettings(raw)
	if err != nil {
		r.logger.Warn("Ignoring unreadable extraction settings",
			zap.String("key", entity.SettingsKeyExtraction),
			zap.Error(err))
		return entity.ExtractionSettings{}, nil
	}
	return settings, nil
}

// SaveExtractionSettings stores the extraction override
func (r *SettingsRepository) SaveExtractionSettings(ctx context.Context, s entity.ExtractionSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := s.Marshal()
	if err != nil {
		return err
	}
	return r.set(ctx, entity.SettingsKeyExtraction, raw)
}

func (r *SettingsRepository) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.Executor(ctx).QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		r.logger.Error("Failed to read setting", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (r *SettingsRepository) set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		r.logger.Error("Failed to write setting", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// Verify interface compliance
var _ port.SettingsRepository = (*SettingsRepository)(nil)
