// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ItemsTable      string
	RoutinesTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements watchlist.ItemStore and watchlist.RoutineStore on Postgres.
type Store struct {
	pool     Pool
	idGen    watchlist.IDGenerator
	items    string
	routines string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, idGen watchlist.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.ItemsTable, cfg.RoutinesTable, idGen)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, itemsTable, routinesTable string, idGen watchlist.IDGenerator) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if itemsTable == "" {
		itemsTable = "watchlist"
	}
	if routinesTable == "" {
		routinesTable = "scripts"
	}
	for _, table := range []string{itemsTable, routinesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, idGen: idGen, items: itemsTable, routines: routinesTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq             BIGSERIAL,
	id              TEXT PRIMARY KEY,
	description     TEXT NOT NULL,
	url             TEXT NOT NULL UNIQUE,
	keepMonitoring  BOOLEAN NOT NULL DEFAULT TRUE,
	dateUpdated     TEXT,
	lowestPrice     BIGINT,
	currentPrice    BIGINT,
	currentDiscount BIGINT
);
CREATE TABLE IF NOT EXISTS %s (
	domainName TEXT PRIMARY KEY,
	sourceText TEXT NOT NULL
);`, s.items, s.routines)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

const itemColumns = `id, description, url, keepMonitoring, dateUpdated, lowestPrice, currentPrice, currentDiscount`

// Get loads one item.
func (s *Store) Get(ctx context.Context, id string) (watchlist.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, itemColumns, s.items)
	item, err := scanItem(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return watchlist.Item{}, fmt.Errorf("item %s: %w", id, watchlist.ErrNotFound)
	}
	if err != nil {
		return watchlist.Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

// List loads every item in insertion order.
func (s *Store) List(ctx context.Context) ([]watchlist.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY seq`, itemColumns, s.items)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []watchlist.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// Insert adds a monitored item with no price history.
func (s *Store) Insert(ctx context.Context, description, url string) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate item id: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, description, url, keepMonitoring)
VALUES ($1, $2, $3, TRUE)
ON CONFLICT (url) DO NOTHING`, s.items)
	tag, err := s.pool.Exec(ctx, query, id, description, url)
	if err != nil {
		return "", fmt.Errorf("insert item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("%s: %w", url, watchlist.ErrDuplicateURL)
	}
	return id, nil
}

// UpdatePartial writes only the columns named in update.
func (s *Store) UpdatePartial(ctx context.Context, id string, update watchlist.Update) error {
	if err := update.Validate(); err != nil {
		return err
	}
	fields := update.Fields()
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		sets = append(sets, fmt.Sprintf("%s = $%d", f, i+1))
		args = append(args, update.Arg(f))
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, s.items, strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, watchlist.ErrNotFound)
	}
	return nil
}

// Routine loads the routine source for domain.
func (s *Store) Routine(ctx context.Context, domain string) (string, error) {
	var source string
	query := fmt.Sprintf(`SELECT sourceText FROM %s WHERE domainName = $1`, s.routines)
	err := s.pool.QueryRow(ctx, query, domain).Scan(&source)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("routine %s: %w", domain, watchlist.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get routine %s: %w", domain, err)
	}
	return source, nil
}

// EnsureDefault stores the default routine unless domain already has one.
func (s *Store) EnsureDefault(ctx context.Context, domain string) (bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (domainName, sourceText) VALUES ($1, $2)
ON CONFLICT (domainName) DO NOTHING`, s.routines)
	tag, err := s.pool.Exec(ctx, query, domain, watchlist.DefaultRoutine)
	if err != nil {
		return false, fmt.Errorf("ensure routine %s: %w", domain, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert replaces the routine for domain.
func (s *Store) Upsert(ctx context.Context, domain, source string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (domainName, sourceText) VALUES ($1, $2)
ON CONFLICT (domainName) DO UPDATE SET sourceText = EXCLUDED.sourceText`, s.routines)
	if _, err := s.pool.Exec(ctx, query, domain, source); err != nil {
		return fmt.Errorf("upsert routine %s: %w", domain, err)
	}
	return nil
}

func scanItem(row pgx.Row) (watchlist.Item, error) {
	var (
		item                      watchlist.Item
		date                      sql.NullString
		lowest, current, discount sql.NullInt64
	)
	if err := row.Scan(&item.ID, &item.Description, &item.URL, &item.KeepMonitoring,
		&date, &lowest, &current, &discount); err != nil {
		return watchlist.Item{}, err
	}
	if date.Valid {
		item.DateUpdated = &date.String
	}
	item.LowestPrice = nullCents(lowest)
	item.CurrentPrice = nullCents(current)
	item.CurrentDiscount = nullCents(discount)
	return item, nil
}

func nullCents(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return watchlist.Cents(v.Int64)
}
