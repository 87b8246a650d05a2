package monitor

import (
	"errors"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

// Outcome classifies the result of one operation.
type Outcome string

// Outcomes reported by refreshes and mutations.
const (
	OutcomeSuccess          Outcome = "success"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeNoRoutine        Outcome = "no_routine"
	OutcomeExtractionFailed Outcome = "extraction_failed"
	OutcomeInvalidInput     Outcome = "invalid_input"
	OutcomeDuplicateURL     Outcome = "duplicate_url"
	OutcomeError            Outcome = "error"
)

// OutcomeOf maps an error returned by Service to its Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, watchlist.ErrNoRoutine):
		return OutcomeNoRoutine
	case errors.Is(err, watchlist.ErrExtractionFailed):
		return OutcomeExtractionFailed
	case errors.Is(err, watchlist.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, watchlist.ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, watchlist.ErrDuplicateURL):
		return OutcomeDuplicateURL
	default:
		return OutcomeError
	}
}

// Result is the outcome of refreshing one item during a bulk refresh.
type Result struct {
	ID      string          `json:"id"`
	Outcome Outcome         `json:"outcome"`
	Item    *watchlist.Item `json:"item,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Summarize counts results by outcome.
func Summarize(results []Result) map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}
