// Package chromedp renders pages in headless Chrome. Every Open launches an
// isolated browser bounded by a shared slot limiter; Page.Close tears it down.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const (
	defaultNavTimeout = 10 * time.Second
	defaultWidth      = 1080
	defaultHeight     = 1024
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	ViewportWidth     int64
	ViewportHeight    int64
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Renderer implements watchlist.Renderer using chromedp and headless Chrome.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless renderer. It does not start Chrome until Open.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = defaultWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = defaultHeight
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, killing any browser still running.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Open waits for a free slot, launches a browser and navigates to url.
// The returned Page holds the slot until it is closed.
func (r *Renderer) Open(ctx context.Context, url string) (watchlist.Page, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	page := &Page{
		url:     url,
		tab:     tabCtx,
		cancel:  tabCancel,
		release: r.release,
	}
	if err := r.navigate(ctx, page); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

func (r *Renderer) navigate(ctx context.Context, page *Page) error {
	// The first Run owns the browser lifetime, so it gets the tab context
	// itself rather than a derived one with a deadline.
	if err := chromedp.Run(page.tab); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	meta := newResponseMeta()
	chromedp.ListenTarget(page.tab, meta.captureEvent)

	navCtx, cancel := context.WithTimeout(page.tab, r.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var finalURL string
	actions := []chromedp.Action{
		r.setupAction(),
		chromedp.Navigate(page.url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("navigate %s: %w", page.url, ctxErr)
		}
		return fmt.Errorf("navigate %s: %w", page.url, err)
	}
	status, url := meta.snapshotWithFallbacks(page.url, finalURL)
	if status >= http.StatusBadRequest {
		return fmt.Errorf("navigate %s: HTTP %d", page.url, status)
	}
	page.url = url
	return nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(r.cfg.ViewportWidth, r.cfg.ViewportHeight, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("renderer slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// ErrForeignElement is returned when an element from another page is used.
var ErrForeignElement = errors.New("element does not belong to this page")

type element struct {
	page     *Page
	selector string
	nodeID   cdp.NodeID
}

func (e *element) Selector() string {
	return e.selector
}

// Page is one browser tab navigated to a product URL.
type Page struct {
	url     string
	tab     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

// URL returns the URL after redirects.
func (p *Page) URL() string {
	return p.url
}

// run executes actions in the tab, bounded by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Query returns the first node matching selector, or nil without waiting.
func (p *Page) Query(ctx context.Context, selector string) (watchlist.Element, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &element{page: p, selector: selector, nodeID: nodes[0].NodeID}, nil
}

// Text returns the element's textContent.
func (p *Page) Text(ctx context.Context, el watchlist.Element) (string, error) {
	node, err := p.node(el)
	if err != nil {
		return "", err
	}
	var text string
	if err := p.run(ctx, chromedp.TextContent([]cdp.NodeID{node.nodeID}, &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("text of %q: %w", node.selector, err)
	}
	return text, nil
}

// Attribute returns the named attribute and whether it was present.
func (p *Page) Attribute(ctx context.Context, el watchlist.Element, name string) (string, bool, error) {
	node, err := p.node(el)
	if err != nil {
		return "", false, err
	}
	var (
		value string
		ok    bool
	)
	if err := p.run(ctx, chromedp.AttributeValue([]cdp.NodeID{node.nodeID}, name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, fmt.Errorf("attribute %s of %q: %w", name, node.selector, err)
	}
	return value, ok, nil
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down and frees the renderer slot. It is idempotent.
func (p *Page) Close() error {
	p.once.Do(func() {
		p.cancel()
		p.release()
	})
	return nil
}

func (p *Page) node(el watchlist.Element) (*element, error) {
	node, ok := el.(*element)
	if !ok || node.page != p {
		return nil, ErrForeignElement
	}
	return node, nil
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
