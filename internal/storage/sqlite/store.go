// Package sqlite provides the default single-file persistence for the
// watchlist and extraction routines.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const schema = `
CREATE TABLE IF NOT EXISTS watchlist (
	id              TEXT PRIMARY KEY,
	description     TEXT NOT NULL,
	url             TEXT NOT NULL UNIQUE,
	keepMonitoring  INTEGER NOT NULL DEFAULT 1,
	dateUpdated     TEXT,
	lowestPrice     INTEGER,
	currentPrice    INTEGER,
	currentDiscount INTEGER
);
CREATE TABLE IF NOT EXISTS scripts (
	domainName TEXT PRIMARY KEY,
	sourceText TEXT NOT NULL
);`

const itemColumns = `id, description, url, keepMonitoring, dateUpdated, lowestPrice, currentPrice, currentDiscount`

// Config controls the SQLite database file.
type Config struct {
	// Path is the database file, or ":memory:" for a private in-memory database.
	Path string
	// BusyTimeoutMillis bounds how long a writer waits on a locked database.
	BusyTimeoutMillis int
}

// Store implements watchlist.ItemStore and watchlist.RoutineStore on SQLite.
type Store struct {
	db    *sql.DB
	idGen watchlist.IDGenerator
}

// Open opens (creating if needed) the database and applies the schema.
func Open(ctx context.Context, cfg Config, idGen watchlist.IDGenerator) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite.path is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db, idGen: idGen}, nil
}

func dsn(cfg Config) string {
	timeout := cfg.BusyTimeoutMillis
	if timeout <= 0 {
		timeout = 10000
	}
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout))
	if cfg.Path != ":memory:" {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + cfg.Path + "?" + params.Encode()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get loads one item.
func (s *Store) Get(ctx context.Context, id string) (watchlist.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM watchlist WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return watchlist.Item{}, fmt.Errorf("item %s: %w", id, watchlist.ErrNotFound)
	}
	if err != nil {
		return watchlist.Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

// List loads every item in insertion order.
func (s *Store) List(ctx context.Context) ([]watchlist.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM watchlist ORDER BY rowid`)
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
func (s *Store) Insert(ctx context.Context, description, rawURL string) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate item id: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist (id, description, url, keepMonitoring) VALUES (?, ?, ?, 1)
		 ON CONFLICT(url) DO NOTHING`,
		id, description, rawURL)
	if err != nil {
		return "", fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert item: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("%s: %w", rawURL, watchlist.ErrDuplicateURL)
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
	for _, f := range fields {
		sets = append(sets, string(f)+" = ?")
		args = append(args, update.Arg(f))
	}
	args = append(args, id)

	query := `UPDATE watchlist SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", id, watchlist.ErrNotFound)
	}
	return nil
}

// Routine loads the routine source for domain.
func (s *Store) Routine(ctx context.Context, domain string) (string, error) {
	var source string
	err := s.db.QueryRowContext(ctx, `SELECT sourceText FROM scripts WHERE domainName = ?`, domain).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("routine %s: %w", domain, watchlist.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get routine %s: %w", domain, err)
	}
	return source, nil
}

// EnsureDefault stores the default routine unless domain already has one.
func (s *Store) EnsureDefault(ctx context.Context, domain string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scripts (domainName, sourceText) VALUES (?, ?) ON CONFLICT(domainName) DO NOTHING`,
		domain, watchlist.DefaultRoutine)
	if err != nil {
		return false, fmt.Errorf("ensure routine %s: %w", domain, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure routine %s: %w", domain, err)
	}
	return n == 1, nil
}

// Upsert replaces the routine for domain.
func (s *Store) Upsert(ctx context.Context, domain, source string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scripts (domainName, sourceText) VALUES (?, ?)
		 ON CONFLICT(domainName) DO UPDATE SET sourceText = excluded.sourceText`,
		domain, source)
	if err != nil {
		return fmt.Errorf("upsert routine %s: %w", domain, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (watchlist.Item, error) {
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
