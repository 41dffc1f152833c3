package entity

import (
	"encoding/json"
	"fmt"
)

// SettingsKeyExtraction is the app_settings key holding ExtractionSettings
const SettingsKeyExtraction = "extraction"

// ExtractionSettings overrides extraction budget behaviour at runtime.
// A nil budget or zero threshold means "use the configured default"; a budget
// of zero pauses extraction.
type ExtractionSettings struct {
	MonthlyBudgetCents    *int64 `json:"monthly_budget_cents,omitempty"`
	AlertThresholdPercent int    `json:"alert_threshold_percent,omitempty"`
}

// Validate checks the override values
func (s ExtractionSettings) Validate() error {
	if s.MonthlyBudgetCents != nil && *s.MonthlyBudgetCents < 0 {
		return fmt.Errorf("monthly_budget_cents must not be negative")
	}
	if s.AlertThresholdPercent < 0 || s.AlertThresholdPercent > 100 {
		return fmt.Errorf("alert_threshold_percent must be between 0 and 100")
	}
	return nil
}

// ParseExtractionSettings decodes a stored settings document. Malformed or
// invalid documents yield empty settings and the decode error, so callers can
// log it and keep the defaults.
func ParseExtractionSettings(raw string) (ExtractionSettings, error) {
	if raw == "" {
		return ExtractionSettings{}, nil
	}
	var s ExtractionSettings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ExtractionSettings{}, fmt.Errorf("decode extraction settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return ExtractionSettings{}, fmt.Errorf("invalid extraction settings: %w", err)
	}
	return s, nil
}

// Marshal encodes the settings for storage
func (s ExtractionSettings) Marshal() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode extraction settings: %w", err)
	}
	return string(b), nil
}
