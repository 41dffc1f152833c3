package entity

import "time"

// LedgerEntry is a financial movement invoices are matched against.
// Expenses carry a negative AmountCents.
type LedgerEntry struct {
	ID          int64     `json:"id"`
	ProjectID   *int64    `json:"project_id,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	EntryDate   string    `json:"entry_date"`
	Description string    `json:"description"`
	Archived    bool      `json:"archived"`
	HasInvoice  bool      `json:"has_invoice"`
	CreatedAt   time.Time `json:"created_at"`
}

// Amount returns the signed amount in major units
func (e *LedgerEntry) Amount() float64 {
	return float64(e.AmountCents) / 100.0
}

// CandidateFilter bounds the candidate query for matching
type CandidateFilter struct {
	// DateFrom and DateTo are inclusive YYYY-MM-DD bounds, empty when unset
	DateFrom string
	DateTo   string
	// MinAbsCents and MaxAbsCents bound the absolute amount, zero when unset
	MinAbsCents int64
	MaxAbsCents int64
	Limit       int
}
