package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const defaultBulkConcurrency = 4

// Executor runs an extraction routine against a rendered page.
type Executor interface {
	Execute(ctx context.Context, domain, source string, page watchlist.Page) (watchlist.Observation, error)
}

// Config controls Service behavior.
type Config struct {
	// BulkConcurrency bounds how many refreshes a bulk refresh runs at once.
	BulkConcurrency int
	// Location decides which calendar date an observation is stamped with.
	Location *time.Location
}

// Service implements the monitoring operations.
type Service struct {
	items    watchlist.ItemStore
	routines watchlist.RoutineStore
	renderer watchlist.Renderer
	executor Executor
	notifier watchlist.Notifier
	clock    watchlist.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Service. notifier may be nil.
func New(
	items watchlist.ItemStore,
	routines watchlist.RoutineStore,
	renderer watchlist.Renderer,
	executor Executor,
	notifier watchlist.Notifier,
	clock watchlist.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = defaultBulkConcurrency
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		items:    items,
		routines: routines,
		renderer: renderer,
		executor: executor,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// List returns every item.
func (s *Service) List(ctx context.Context) ([]watchlist.Item, error) {
	items, err := s.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (watchlist.Item, error) {
	return s.items.Get(ctx, id)
}

// Insert validates and stores a new item, then makes sure its domain has a
// routine to edit.
func (s *Service) Insert(ctx context.Context, description, rawURL string) (watchlist.Item, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return watchlist.Item{}, fmt.Errorf("%w: description is required", watchlist.ErrInvalidInput)
	}
	url, err := watchlist.NormalizeURL(rawURL)
	if err != nil {
		return watchlist.Item{}, err
	}
	domain, err := watchlist.DomainOf(url)
	if err != nil {
		return watchlist.Item{}, err
	}

	id, err := s.items.Insert(ctx, description, url)
	if err != nil {
		return watchlist.Item{}, err
	}
	created, err := s.routines.EnsureDefault(ctx, domain)
	if err != nil {
		return watchlist.Item{}, fmt.Errorf("ensure routine for %s: %w", domain, err)
	}
	if created {
		s.logger.Info("created default routine", zap.String("domain", domain))
	}
	s.logger.Info("item inserted", zap.String("item_id", id), zap.String("url", url))
	return watchlist.Item{ID: id, Description: description, URL: url, KeepMonitoring: true}, nil
}

// SetMonitoring writes only the keepMonitoring flag and returns the item.
func (s *Service) SetMonitoring(ctx context.Context, id string, keep bool) (watchlist.Item, error) {
	if err := s.items.UpdatePartial(ctx, id, watchlist.MonitoringUpdate(keep)); err != nil {
		return watchlist.Item{}, err
	}
	return s.items.Get(ctx, id)
}

// Routine returns the routine for a domain or for the domain of a URL.
func (s *Service) Routine(ctx context.Context, domainOrURL string) (string, error) {
	domain, err := watchlist.ParseDomain(domainOrURL)
	if err != nil {
		return "", err
	}
	return s.routines.Routine(ctx, domain)
}

// EditRoutine replaces the routine for a domain. The source is stored
// verbatim; it is only compiled when a refresh runs it.
func (s *Service) EditRoutine(ctx context.Context, domainOrURL, source string) error {
	domain, err := watchlist.ParseDomain(domainOrURL)
	if err != nil {
		return err
	}
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%w: routine source is required", watchlist.ErrInvalidInput)
	}
	if err := s.routines.Upsert(ctx, domain, source); err != nil {
		return err
	}
	s.logger.Info("routine updated", zap.String("domain", domain), zap.Int("bytes", len(source)))
	return nil
}

// Refresh scrapes the item's page, merges the observation and persists the
// merged snapshot, which it returns. Nothing is written unless every step
// succeeds. A panic in any step fails this refresh only.
func (s *Service) Refresh(ctx context.Context, id string) (item watchlist.Item, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("refresh panicked", zap.String("item_id", id), zap.Stack("stack"))
			item, err = watchlist.Item{}, fmt.Errorf("refresh %s panicked: %v", id, r)
		}
		outcome := OutcomeOf(err)
		metrics.ObserveRefresh(string(outcome), time.Since(start))
		if err != nil {
			s.logger.Warn("refresh failed",
				zap.String("item_id", id),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
		}
	}()

	prior, err := s.items.Get(ctx, id)
	if err != nil {
		return watchlist.Item{}, err
	}
	domain, err := watchlist.DomainOf(prior.URL)
	if err != nil {
		return watchlist.Item{}, fmt.Errorf("item %s has unusable url: %w", id, err)
	}
	source, err := s.routines.Routine(ctx, domain)
	if errors.Is(err, watchlist.ErrNotFound) {
		return watchlist.Item{}, fmt.Errorf("%s: %w", domain, watchlist.ErrNoRoutine)
	}
	if err != nil {
		return watchlist.Item{}, fmt.Errorf("load routine %s: %w", domain, err)
	}

	obs, err := s.observe(ctx, prior, domain, source)
	if err != nil {
		return watchlist.Item{}, err
	}

	now := s.clock.Now().In(s.cfg.Location)
	merged := watchlist.Merge(prior, obs, now)
	if err := s.items.UpdatePartial(ctx, id, watchlist.PriceUpdate(merged)); err != nil {
		return watchlist.Item{}, err
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, watchlist.RefreshEvent{Item: merged, Domain: domain, Refreshed: now})
	}
	return merged, nil
}

// observe holds one rendered page for the duration of one routine run and
// always closes it before returning.
func (s *Service) observe(ctx context.Context, item watchlist.Item, domain, source string) (watchlist.Observation, error) {
	page, err := s.renderer.Open(ctx, item.URL)
	if err != nil {
		return watchlist.Observation{}, fmt.Errorf("%w: open %s: %w", watchlist.ErrExtractionFailed, item.URL, err)
	}
	metrics.IncOpenPages()
	defer func() {
		metrics.DecOpenPages()
		if closeErr := page.Close(); closeErr != nil {
			s.logger.Warn("close page", zap.String("item_id", item.ID), zap.Error(closeErr))
		}
	}()

	obs, err := s.executor.Execute(ctx, domain, source, page)
	if err != nil {
		if !errors.Is(err, watchlist.ErrExtractionFailed) {
			err = fmt.Errorf("%w: %w", watchlist.ErrExtractionFailed, err)
		}
		s.logger.Warn("extraction failed",
			zap.String("item_id", item.ID),
			zap.String("domain", domain),
			zap.String("url", item.URL),
			zap.String("routine", source),
			zap.Error(err),
		)
		return watchlist.Observation{}, err
	}
	return obs, nil
}

// RefreshStale refreshes every monitored item not yet observed today.
// Per-item failures are reported in the results and never abort the batch.
func (s *Service) RefreshStale(ctx context.Context) ([]Result, error) {
	items, err := s.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	today := watchlist.FormatDate(s.clock.Now().In(s.cfg.Location))
	var ids []string
	for _, item := range items {
		if item.Stale(today) {
			ids = append(ids, item.ID)
		}
	}
	metrics.SetStaleItems(len(ids))
	s.logger.Info("bulk refresh started", zap.Int("stale", len(ids)), zap.Int("total", len(items)))
	return s.RefreshMany(ctx, ids), nil
}

// RefreshMany refreshes ids concurrently and returns one result per id in
// the same order.
func (s *Service) RefreshMany(ctx context.Context, ids []string) []Result {
	results := make([]Result, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			item, err := s.Refresh(ctx, id)
			results[i] = Result{ID: id, Outcome: OutcomeOf(err)}
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Item = &item
			return nil
		})
	}
	_ = g.Wait()
	return results
}
