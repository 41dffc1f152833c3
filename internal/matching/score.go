package matching

import (
	"math"
	"strings"
	"time"
)

// Component maxima; a perfect match totals 100
const (
	MaxAmountScore  = 40
	MaxDateScore    = 30
	MaxConceptScore = 30

	// NoiseFloor is the highest total that is still discarded
	NoiseFloor = 20
)

type band struct {
	limit float64
	score int
}

var amountBands = []band{
	{0.005, 40},
	{0.02, 38},
	{0.05, 34},
	{0.10, 28},
	{0.20, 20},
	{0.50, 8},
}

var dateBands = []band{
	{0.5, 30},
	{1.5, 27},
	{2.5, 24},
	{3.5, 20},
	{7, 15},
	{14, 8},
	{30, 3},
}

func banded(v float64, bands []band) int {
	for _, b := range bands {
		if v <= b.limit {
			return b.score
		}
	}
	return 0
}

// AmountScore scores the relative difference between absolute amounts
func AmountScore(given *float64, candidate float64) int {
	if given == nil || *given == 0 || candidate == 0 {
		return 0
	}
	g := math.Abs(*given)
	rel := math.Abs(math.Abs(candidate)-g) / g
	return banded(rel, amountBands)
}

// DateScore scores the absolute day distance between two YYYY-MM-DD dates
func DateScore(given *string, candidate string) int {
	if given == nil {
		return 0
	}
	g, err := ParseDate(*given)
	if err != nil {
		return 0
	}
	c, err := ParseDate(candidate)
	if err != nil {
		return 0
	}
	days := math.Abs(c.Sub(g).Hours()) / 24
	return banded(days, dateBands)
}

// ConceptScore compares vendor text with a ledger description. A substring
// match in either direction scores the maximum; otherwise word-set Jaccard
// similarity is scaled to the component range.
func ConceptScore(vendor *string, description string) int {
	if vendor == nil {
		return 0
	}
	v := Normalize(*vendor)
	d := Normalize(description)
	if v == "" || d == "" {
		return 0
	}
	if strings.Contains(d, v) || strings.Contains(v, d) {
		return MaxConceptScore
	}

	vt := tokens(v)
	dt := tokens(d)
	if len(vt) == 0 || len(dt) == 0 {
		return 0
	}

	inter := 0
	for w := range vt {
		if _, ok := dt[w]; ok {
			inter++
		}
	}
	if inter == 0 {
		return 0
	}
	union := len(vt) + len(dt) - inter
	j := float64(inter) / float64(union)
	return int(math.Round(j * MaxConceptScore))
}

// ParseDate parses the date part of a YYYY-MM-DD value
func ParseDate(s string) (time.Time, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}
