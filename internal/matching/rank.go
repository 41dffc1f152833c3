package matching

import (
	"sort"

	"github.com/garyjia/invoice-matcher/internal/domain/entity"
)

// Query holds the extracted values candidates are compared against
type Query struct {
	Amount *float64
	Date   *string
	Vendor *string
}

// Score computes the component breakdown for one candidate
func Score(q Query, entry *entity.LedgerEntry) entity.ScoreBreakdown {
	return entity.ScoreBreakdown{
		Amount:  AmountScore(q.Amount, entry.Amount()),
		Date:    DateScore(q.Date, entry.EntryDate),
		Concept: ConceptScore(q.Vendor, entry.Description),
	}
}

// Rank scores candidates, drops those at or below the noise floor and
// returns at most limit suggestions by descending score. Equal scores keep
// the candidates' input order.
func Rank(q Query, candidates []*entity.LedgerEntry, limit int) []entity.MatchSuggestion {
	suggestions := make([]entity.MatchSuggestion, 0, len(candidates))
	for _, c := range candidates {
		b := Score(q, c)
		total := b.Total()
		if total <= NoiseFloor {
			continue
		}
		suggestions = append(suggestions, entity.MatchSuggestion{
			LedgerEntryID: c.ID,
			Score:         total,
			Breakdown:     b,
			Entry: entity.EntrySnapshot{
				Amount:      c.Amount(),
				Date:        c.EntryDate,
				Description: c.Description,
			},
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})

	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}
