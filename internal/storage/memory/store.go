// Package memory stores the watchlist, routines and blobs in process memory
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

// Store implements watchlist.ItemStore and watchlist.RoutineStore.
type Store struct {
	mu       sync.RWMutex
	idGen    watchlist.IDGenerator
	items    map[string]watchlist.Item
	order    []string
	urls     map[string]string
	routines map[string]string
}

// NewStore constructs an empty Store.
func NewStore(idGen watchlist.IDGenerator) *Store {
	return &Store{
		idGen:    idGen,
		items:    make(map[string]watchlist.Item),
		urls:     make(map[string]string),
		routines: make(map[string]string),
	}
}

// Get returns a copy of the item.
func (s *Store) Get(_ context.Context, id string) (watchlist.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return watchlist.Item{}, fmt.Errorf("item %s: %w", id, watchlist.ErrNotFound)
	}
	return cloneItem(item), nil
}

// List returns copies of every item in insertion order.
func (s *Store) List(context.Context) ([]watchlist.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]watchlist.Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneItem(s.items[id]))
	}
	return out, nil
}

// Insert adds a monitored item with no price history.
func (s *Store) Insert(_ context.Context, description, url string) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate item id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.urls[url]; exists {
		return "", fmt.Errorf("%s: %w", url, watchlist.ErrDuplicateURL)
	}
	s.items[id] = watchlist.Item{ID: id, Description: description, URL: url, KeepMonitoring: true}
	s.urls[url] = id
	s.order = append(s.order, id)
	return id, nil
}

// UpdatePartial writes only the fields named in update.
func (s *Store) UpdatePartial(_ context.Context, id string, update watchlist.Update) error {
	if err := update.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s: %w", id, watchlist.ErrNotFound)
	}
	s.items[id] = update.Apply(item)
	return nil
}

// Routine returns the routine source for domain.
func (s *Store) Routine(_ context.Context, domain string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	source, ok := s.routines[domain]
	if !ok {
		return "", fmt.Errorf("routine %s: %w", domain, watchlist.ErrNotFound)
	}
	return source, nil
}

// EnsureDefault stores the default routine unless domain already has one.
func (s *Store) EnsureDefault(_ context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routines[domain]; ok {
		return false, nil
	}
	s.routines[domain] = watchlist.DefaultRoutine
	return true, nil
}

// Upsert replaces the routine for domain.
func (s *Store) Upsert(_ context.Context, domain, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routines[domain] = source
	return nil
}

func cloneItem(item watchlist.Item) watchlist.Item {
	return watchlist.PriceUpdate(item).Apply(item)
}
