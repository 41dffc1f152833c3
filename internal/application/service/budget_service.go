package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/clock"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/event"
)

// BudgetConfig holds the configured defaults for the monthly cap
type BudgetConfig struct {
	MonthlyBudgetCents    int64
	AlertThresholdPercent int
}

// BudgetService reports month-to-date extraction spend against the cap
type BudgetService struct {
	usage    port.UsageRepository
	settings port.SettingsRepository
	clock    port.Clock
	cfg      BudgetConfig
	logger   Logger
}

// NewBudgetService creates a new BudgetService
func NewBudgetService(
	usage port.UsageRepository,
	settings port.SettingsRepository,
	clk port.Clock,
	cfg BudgetConfig,
	logger Logger,
) *BudgetService {
	return &BudgetService{
		usage:    usage,
		settings: settings,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
	}
}

type budgetLimits struct {
	budgetCents      int64
	thresholdPercent int
}

// limits resolves the stored override over the configured defaults. A
// settings read failure falls back to the defaults.
func (s *BudgetService) limits(ctx context.Context) budgetLimits {
	l := budgetLimits{
		budgetCents:      s.cfg.MonthlyBudgetCents,
		thresholdPercent: s.cfg.AlertThresholdPercent,
	}

	override, err := s.settings.GetExtractionSettings(ctx)
	if err != nil {
		s.logger.Warn("Failed to read extraction settings, using defaults", "error", err)
		return l
	}
	if override.MonthlyBudgetCents != nil {
		l.budgetCents = *override.MonthlyBudgetCents
	}
	if override.AlertThresholdPercent > 0 {
		l.thresholdPercent = override.AlertThresholdPercent
	}
	return l
}

// CheckBudget returns the current month's spend snapshot
func (s *BudgetService) CheckBudget(ctx context.Context) (entity.BudgetSnapshot, error) {
	snapshot, _, err := s.check(ctx)
	return snapshot, err
}

func (s *BudgetService) check(ctx context.Context) (entity.BudgetSnapshot, budgetLimits, error) {
	l := s.limits(ctx)
	periodStart := clock.MonthStart(s.clock.Now())

	spent, err := s.usage.SumCostSince(ctx, periodStart)
	if err != nil {
		s.logger.Error("Failed to sum extraction spend", "error", err)
		return entity.BudgetSnapshot{}, l, fmt.Errorf("%w: sum extraction spend: %w", ErrPersistence, err)
	}

	return entity.NewBudgetSnapshot(spent, l.budgetCents, periodStart), l, nil
}

// Settings returns the stored override
func (s *BudgetService) Settings(ctx context.Context) (entity.ExtractionSettings, error) {
	settings, err := s.settings.GetExtractionSettings(ctx)
	if err != nil {
		return entity.ExtractionSettings{}, fmt.Errorf("%w: read extraction settings: %w", ErrPersistence, err)
	}
	return settings, nil
}

// UpdateSettings validates and stores a new override
func (s *BudgetService) UpdateSettings(ctx context.Context, settings entity.ExtractionSettings) error {
	if err := settings.Validate(); err != nil {
		return newValidationError("settings", err.Error())
	}
	if err := s.settings.SaveExtractionSettings(ctx, settings); err != nil {
		s.logger.Error("Failed to save extraction settings", "error", err)
		return fmt.Errorf("%w: save extraction settings: %w", ErrPersistence, err)
	}

	budget := "default"
	if settings.MonthlyBudgetCents != nil {
		budget = strconv.FormatInt(*settings.MonthlyBudgetCents, 10)
	}
	s.logger.Info("Extraction settings updated",
		"monthly_budget_cents", budget,
		"alert_threshold_percent", settings.AlertThresholdPercent)
	return nil
}

// BudgetCrossings lists the alert events raised when a charge moves spend
// past the alert threshold or the cap. A zero threshold disables the alert.
func BudgetCrossings(before entity.BudgetSnapshot, chargedCents int64, thresholdPercent int) []event.Type {
	if chargedCents <= 0 || before.BudgetCents <= 0 {
		return nil
	}
	after := before.SpentCents + chargedCents

	var crossed []event.Type
	if thresholdPercent > 0 && thresholdPercent < 100 {
		// compared in integer percent units
		mark := before.BudgetCents * int64(thresholdPercent)
		if before.SpentCents*100 < mark && after*100 >= mark && after < before.BudgetCents {
			crossed = append(crossed, event.TypeBudgetAlert)
		}
	}
	if before.SpentCents < before.BudgetCents && after >= before.BudgetCents {
		crossed = append(crossed, event.TypeBudgetExceeded)
	}
	return crossed
}
