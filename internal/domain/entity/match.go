package entity

// ScoreBreakdown holds the three component scores of a match
type ScoreBreakdown struct {
	Amount  int `json:"amount"`
	Date    int `json:"date"`
	Concept int `json:"concept"`
}

// Total sums the components
func (b ScoreBreakdown) Total() int {
	return b.Amount + b.Date + b.Concept
}

// MatchSuggestion is a ranked candidate ledger entry for an invoice. Never persisted.
type MatchSuggestion struct {
	LedgerEntryID int64          `json:"ledger_entry_id"`
	Score         int            `json:"score"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	Entry         EntrySnapshot  `json:"entry"`
}

// EntrySnapshot captures the candidate fields used for comparison
type EntrySnapshot struct {
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
}
