// Package monitor is the public operation surface of the price monitor:
// inserting items, toggling monitoring, reading and editing extraction
// routines, and refreshing prices one item at a time or in bulk.
//
// A refresh walks Requested → ItemLoaded → RoutineLoaded → Observed → Merged.
// Each early exit is reported as its own Outcome so callers can tell a
// missing item from a missing routine or a failed extraction.
package monitor
