package watchlist

import "time"

// Item is one tracked product URL and its observed price history.
type Item struct {
	ID              string  `json:"id"`
	Description     string  `json:"description"`
	URL             string  `json:"url"`
	KeepMonitoring  bool    `json:"keepMonitoring"`
	DateUpdated     *string `json:"dateUpdated"`
	LowestPrice     *int64  `json:"lowestPrice"`
	CurrentPrice    *int64  `json:"currentPrice"`
	CurrentDiscount *int64  `json:"currentDiscount"`
}

// Domain returns the domain name of the item's URL, or "" if it does not parse.
func (i Item) Domain() string {
	domain, err := DomainOf(i.URL)
	if err != nil {
		return ""
	}
	return domain
}

// Stale reports whether the item is monitored and was not observed on today's date.
func (i Item) Stale(today string) bool {
	if !i.KeepMonitoring {
		return false
	}
	return i.DateUpdated == nil || *i.DateUpdated != today
}

// Observation is the transient result of one extraction routine run.
// Either field may be nil when the routine could not find it.
type Observation struct {
	Price    *int64 `json:"price"`
	Discount *int64 `json:"discount"`
}

// RefreshEvent is emitted after an item's refreshed snapshot was persisted.
type RefreshEvent struct {
	Item      Item      `json:"item"`
	Domain    string    `json:"domain"`
	Refreshed time.Time `json:"refreshed"`
}

// Cents returns a pointer to v. It keeps literal prices readable in callers.
func Cents(v int64) *int64 {
	return &v
}
