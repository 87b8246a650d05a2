// Package static renders pages without JavaScript: the HTML is fetched with
// colly and queried with goquery.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

// ErrScreenshotUnsupported is returned by Page.Screenshot.
var ErrScreenshotUnsupported = errors.New("static pages cannot be screenshotted")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Renderer implements watchlist.Renderer with plain HTTP fetches.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Renderer.
func New(cfg Config) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Renderer{cfg: cfg, baseCollector: c}
}

// Open fetches url and parses the response body.
func (r *Renderer) Open(ctx context.Context, url string) (watchlist.Page, error) {
	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	collector.SetRequestTimeout(r.cfg.Timeout)
	collector.OnResponse(func(resp *colly.Response) {
		body = append([]byte(nil), resp.Body...)
		finalURL = resp.Request.URL.String()
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return nil, err
	}
	if finalURL == "" {
		finalURL = url
	}
	return NewPage(finalURL, body)
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", url, *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Page is a parsed HTML document.
type Page struct {
	url    string
	doc    *goquery.Document
	closed atomic.Bool
}

type element struct {
	selector string
	sel      *goquery.Selection
}

func (e *element) Selector() string {
	return e.selector
}

// NewPage parses html as the document served at url.
func NewPage(url string, html []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{url: url, doc: doc}, nil
}

// URL returns the final document URL.
func (p *Page) URL() string {
	return p.url
}

// Query returns the first element matching selector, or nil.
func (p *Page) Query(ctx context.Context, selector string) (watchlist.Element, error) {
	if err := p.usable(ctx); err != nil {
		return nil, err
	}
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	sel := p.doc.FindMatcher(matcher).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return &element{selector: selector, sel: sel}, nil
}

// Text returns the element's text content.
func (p *Page) Text(ctx context.Context, el watchlist.Element) (string, error) {
	if err := p.usable(ctx); err != nil {
		return "", err
	}
	e, err := asElement(el)
	if err != nil {
		return "", err
	}
	return e.sel.Text(), nil
}

// Attribute returns the named attribute of el.
func (p *Page) Attribute(ctx context.Context, el watchlist.Element, name string) (string, bool, error) {
	if err := p.usable(ctx); err != nil {
		return "", false, err
	}
	e, err := asElement(el)
	if err != nil {
		return "", false, err
	}
	value, ok := e.sel.Attr(name)
	return value, ok, nil
}

// Screenshot always fails.
func (p *Page) Screenshot(context.Context) ([]byte, error) {
	return nil, ErrScreenshotUnsupported
}

// Close marks the page unusable. It is safe to call more than once.
func (p *Page) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *Page) usable(ctx context.Context) error {
	if p.closed.Load() {
		return errors.New("page is closed")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("page call canceled: %w", err)
	}
	return nil
}

func asElement(el watchlist.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, fmt.Errorf("element %T does not belong to a static page", el)
	}
	return e, nil
}
