package watchlist

import (
	"context"
	"io"
	"time"
)

// ItemStore persists watchlist items.
type ItemStore interface {
	Get(ctx context.Context, id string) (Item, error)
	List(ctx context.Context) ([]Item, error)
	Insert(ctx context.Context, description, url string) (string, error)
	UpdatePartial(ctx context.Context, id string, update Update) error
}

// RoutineStore persists extraction routine source keyed by domain name.
type RoutineStore interface {
	Routine(ctx context.Context, domain string) (string, error)
	EnsureDefault(ctx context.Context, domain string) (bool, error)
	Upsert(ctx context.Context, domain, source string) error
}

// Renderer opens rendered pages. Every Page it returns must be closed.
type Renderer interface {
	Open(ctx context.Context, url string) (Page, error)
}

// Element is an opaque handle to a node on a rendered page. Handles are only
// meaningful to the Page that returned them.
type Element interface {
	Selector() string
}

// Page is a rendered document the extraction routine can query.
// Query returns a nil Element and a nil error when nothing matches.
type Page interface {
	URL() string
	Query(ctx context.Context, selector string) (Element, error)
	Text(ctx context.Context, el Element) (string, error)
	Attribute(ctx context.Context, el Element, name string) (string, bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// BlobStore writes artifacts such as screenshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes refresh events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier receives refresh events after they are persisted.
type Notifier interface {
	Notify(ctx context.Context, event RefreshEvent)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces item IDs.
type IDGenerator interface {
	NewID() (string, error)
}
