// Package watchlist defines the tracked-item model, the price merge rules,
// and the store/renderer contracts the monitoring engine is built on.
package watchlist
