package watchlist

import (
	"fmt"
	"time"
)

// DateLayout is the persisted calendar-date format.
const DateLayout = "2006-01-02"

// FormatDate returns the calendar date of t in t's location as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// MinCoalesce returns the smallest non-nil value, or nil if all are nil.
func MinCoalesce(values ...*int64) *int64 {
	var lowest *int64
	for _, v := range values {
		if v == nil {
			continue
		}
		if lowest == nil || *v < *lowest {
			lowest = v
		}
	}
	if lowest == nil {
		return nil
	}
	return Cents(*lowest)
}

// Merge folds an observation into the prior snapshot of an item.
//
// The historical low keeps the minimum of every observed price, current
// price and discount are replaced unconditionally (a missing value clears
// the field) and the date is always stamped. Merge never fails and must only
// be called when the extraction produced an observation.
func Merge(prior Item, obs Observation, now time.Time) Item {
	next := prior
	next.LowestPrice = MinCoalesce(prior.LowestPrice, obs.Price)
	next.CurrentPrice = copyCents(obs.Price)
	next.CurrentDiscount = copyCents(obs.Discount)
	date := FormatDate(now)
	next.DateUpdated = &date
	return next
}

// FormatPrice renders cents as dollars, or "-" when absent or non-positive.
func FormatPrice(cents *int64) string {
	if cents == nil || *cents <= 0 {
		return "-"
	}
	return fmt.Sprintf("$%d.%02d", *cents/100, *cents%100)
}

func copyCents(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return Cents(*v)
}
