package service

import (
	"context"
	"fmt"
	"math"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/matching"
)

const (
	// DefaultMatchLimit is the number of suggestions returned when the caller sets none
	DefaultMatchLimit = 5

	candidateLimit  = 200
	matchWindowDays = 30
)

// MatchService proposes ledger entries for extracted invoice fields
type MatchService struct {
	entries      port.LedgerEntryRepository
	defaultLimit int
	logger       Logger
}

// NewMatchService creates a new MatchService
func NewMatchService(entries port.LedgerEntryRepository, defaultLimit int, logger Logger) *MatchService {
	if defaultLimit <= 0 {
		defaultLimit = DefaultMatchLimit
	}
	return &MatchService{
		entries:      entries,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// FindMatches ranks unarchived expense entries against the given values.
// With neither amount nor date there is nothing to anchor on and the result
// is empty.
func (s *MatchService) FindMatches(ctx context.Context, amount *float64, date *string, vendor *string, limit int) ([]entity.MatchSuggestion, error) {
	if amount == nil && date == nil {
		return []entity.MatchSuggestion{}, nil
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}

	filter := candidateFilter(amount, date)
	candidates, err := s.entries.FindCandidates(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to load match candidates", "error", err)
		return nil, fmt.Errorf("%w: load match candidates: %w", ErrPersistence, err)
	}

	return matching.Rank(matching.Query{Amount: amount, Date: date, Vendor: vendor}, candidates, limit), nil
}

// MatchFields ranks candidates for a record's extracted fields
func (s *MatchService) MatchFields(ctx context.Context, fields entity.ExtractedFields, limit int) ([]entity.MatchSuggestion, error) {
	return s.FindMatches(ctx, fields.Amount, fields.Date, fields.Vendor, limit)
}

func candidateFilter(amount *float64, date *string) entity.CandidateFilter {
	filter := entity.CandidateFilter{Limit: candidateLimit}

	if date != nil {
		if d, err := matching.ParseDate(*date); err == nil {
			filter.DateFrom = d.AddDate(0, 0, -matchWindowDays).Format("2006-01-02")
			filter.DateTo = d.AddDate(0, 0, matchWindowDays).Format("2006-01-02")
		}
	}

	if amount != nil && *amount != 0 {
		cents := int64(math.Round(math.Abs(*amount) * 100))
		// Inclusive whole-cent bounds inside [0.5x, 1.5x]
		filter.MinAbsCents = (cents + 1) / 2
		filter.MaxAbsCents = cents * 3 / 2
	}

	return filter
}
