package watchlist

import "sync"

// View is a caller-side snapshot of the watchlist. Refresh results are
// applied by identity so concurrent refreshes completing out of order each
// replace only their own entry.
type View struct {
	mu    sync.RWMutex
	order []string
	items map[string]Item
}

// NewView creates a View seeded with items.
func NewView(items []Item) *View {
	v := &View{items: make(map[string]Item, len(items))}
	for _, item := range items {
		if _, seen := v.items[item.ID]; !seen {
			v.order = append(v.order, item.ID)
		}
		v.items[item.ID] = item
	}
	return v
}

// Apply replaces the entry whose ID matches item. Items unknown to the view
// are ignored and Apply reports false.
func (v *View) Apply(item Item) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.items[item.ID]; !ok {
		return false
	}
	v.items[item.ID] = item
	return true
}

// Add appends a newly inserted item.
func (v *View) Add(item Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.items[item.ID]; !ok {
		v.order = append(v.order, item.ID)
	}
	v.items[item.ID] = item
}

// Get returns the entry for id.
func (v *View) Get(id string) (Item, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	item, ok := v.items[id]
	return item, ok
}

// Items returns the entries in insertion order.
func (v *View) Items() []Item {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Item, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.items[id])
	}
	return out
}
