package entity

import "time"

// UsageLogEntry records one executed extraction call and its cost
type UsageLogEntry struct {
	ID        int64     `json:"id"`
	InvoiceID *int64    `json:"invoice_id"`
	UserID    string    `json:"user_id"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostCents int64     `json:"cost_cents"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// BudgetSnapshot is the month-to-date extraction spend against the cap
type BudgetSnapshot struct {
	Allowed        bool      `json:"allowed"`
	SpentCents     int64     `json:"spent_cents"`
	BudgetCents    int64     `json:"budget_cents"`
	RemainingCents int64     `json:"remaining_cents"`
	PeriodStart    time.Time `json:"period_start"`
}

// NewBudgetSnapshot derives the allowance fields from spend and cap
func NewBudgetSnapshot(spent, budget int64, periodStart time.Time) BudgetSnapshot {
	remaining := budget - spent
	if remaining < 0 {
		remaining = 0
	}
	return BudgetSnapshot{
		Allowed:        spent < budget,
		SpentCents:     spent,
		BudgetCents:    budget,
		RemainingCents: remaining,
		PeriodStart:    periodStart,
	}
}

// UsedPercent returns spend as a percentage of the cap
func (b BudgetSnapshot) UsedPercent() float64 {
	if b.BudgetCents <= 0 {
		return 100
	}
	return float64(b.SpentCents) * 100 / float64(b.BudgetCents)
}
