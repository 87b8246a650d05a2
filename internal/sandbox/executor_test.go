package sandbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/pricewatch/internal/hash/sha256"
	"github.com/JakeFAU/pricewatch/internal/renderer/static"
	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const productHTML = `<html><body>
<h1>Widget</h1>
<span class="price" data-cents="1999"> $19.99 </span>
<span class="was">$24.99</span>
</body></html>`

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *fakeBlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if contentType != "image/png" {
		return "", errors.New("unexpected content type " + contentType)
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[path] = body
	return "memory://" + path, nil
}

// shotPage adds screenshots to a static page.
type shotPage struct {
	*static.Page
}

func (shotPage) Screenshot(context.Context) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

func newExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	return New(cfg, sha256.New(), &fakeBlobStore{}, fakeClock{now: time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func newPage(t *testing.T) *static.Page {
	t.Helper()
	page, err := static.NewPage("https://shop.example/a", []byte(productHTML))
	require.NoError(t, err)
	return page
}

func TestExecuteExtractsObservation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		source       string
		wantPrice    *int64
		wantDiscount *int64
	}{
		{
			name: "awaited query and parsePrice",
			source: `
				const el = await page.query(".price");
				return { price: util.parsePrice(page.text(el)), discount: undefined };`,
			wantPrice: watchlist.Cents(1999),
		},
		{
			name: "attribute with transform",
			source: `
				const el = page.$(".price");
				return { price: util.selectAttribute(el, "data-cents", v => Number(v)), discount: 10 };`,
			wantPrice:    watchlist.Cents(1999),
			wantDiscount: watchlist.Cents(10),
		},
		{
			name: "element methods and minCoalesce",
			source: `
				const now = util.parsePrice(page.query(".price").text());
				const was = util.parsePrice(page.query(".was").text());
				const sale = page.query(".sale");
				return { price: util.minCoalesce(now, was, undefined), discount: sale ? 1 : null };`,
			wantPrice: watchlist.Cents(1999),
		},
		{
			name:   "fractional cents are rounded",
			source: `return { price: 1999.4, discount: 0.6 };`,
			wantPrice:    watchlist.Cents(1999),
			wantDiscount: watchlist.Cents(1),
		},
		{
			name:   "default routine finds nothing",
			source: `return { price: undefined, discount: undefined };`,
		},
		{
			name: "waitForSelector resolves present element",
			source: `
				const el = await page.waitForSelector(".price", 500);
				return { price: util.selectTextContent(el, t => util.parsePrice(t)), discount: undefined };`,
			wantPrice: watchlist.Cents(1999),
		},
	}

	exec := newExecutor(t, Config{Timeout: 2 * time.Second, CacheSize: 8})
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			obs, err := exec.Execute(context.Background(), "shop.example", tc.source, newPage(t))
			require.NoError(t, err)
			require.Equal(t, tc.wantPrice, obs.Price)
			require.Equal(t, tc.wantDiscount, obs.Discount)
		})
	}
}

func TestExecuteRejectsMalformedResults(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"number":                  `return 5;`,
		"undefined":               `return;`,
		"array":                   `return [1999, 10];`,
		"missing discount":        `return { price: 1999 };`,
		"extra key":               `return { price: 1999, discount: 1, currency: "USD" };`,
		"string price":            `return { price: "19.99", discount: undefined };`,
		"negative price":          `return { price: -1, discount: undefined };`,
		"NaN discount":            `return { price: 1, discount: NaN };`,
		"thrown error":            `throw new Error("layout changed");`,
		"rejected promise":        `return Promise.reject(new Error("nope"));`,
		"never settles":           `await new Promise(() => {}); return { price: 1, discount: 1 };`,
		"syntax error":            `return { price: ;`,
		"missing element":         `return { price: page.query(".nope").text(), discount: undefined };`,
		"bad selector":            `return { price: page.query("[[["), discount: undefined };`,
		"no screenshots":          `page.screenshot("x"); return { price: 1, discount: 1 };`,
		"throwing getter":         `return { get price() { throw new Error("boom"); }, discount: 1 };`,
		"throwing ownKeys":        `return new Proxy({}, { ownKeys() { throw new Error("x"); } });`,
		"throwing get trap":       `return new Proxy({ price: 1, discount: 1 }, { get() { throw new Error("trap"); } });`,
		"revoked proxy":           `const { proxy, revoke } = Proxy.revocable({}, {}); revoke(); return proxy;`,
		"throwing toString":       `throw { toString() { throw new Error("nested"); } };`,
		"hidden extra key":        `const r = { price: 1, discount: 1 }; Object.defineProperty(r, "extra", { value: 1 }); return r;`,
		"symbol key":              `return { price: 1, discount: 1, [Symbol("note")]: 1 };`,
		"symbol named like a key": `return { price: 1, [Symbol("discount")]: 1 };`,
		"replaced Reflect":        `Reflect.ownKeys = () => ["price", "discount"]; return { price: 1, discount: 1, extra: 2 };`,
	}

	exec := newExecutor(t, Config{Timeout: time.Second, CacheSize: 8})
	for name, source := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			obs, err := exec.Execute(context.Background(), "shop.example", source, newPage(t))
			require.ErrorIs(t, err, watchlist.ErrExtractionFailed)
			require.NotEmpty(t, err.Error())
			require.Equal(t, watchlist.Observation{}, obs)
		})
	}
}

func TestExecuteEnforcesDeadline(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"busy loop":          `while (true) {}`,
		"caught wait":        `try { await page.waitForSelector(".never"); } catch (e) {} while (true) {}`,
		"caught in callback": `try { util.selectTextContent(page.query(".price"), () => { while (true) {} }); } catch (e) {} return { price: 1, discount: 1 };`,
		"looping getter":     `return { get price() { while (true) {} }, discount: 1 };`,
		"looping toString":   `throw { toString() { while (true) {} } };`,
	}

	exec := newExecutor(t, Config{Timeout: 100 * time.Millisecond})
	for name, source := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			start := time.Now()
			_, err := exec.Execute(context.Background(), "shop.example", source, newPage(t))
			require.ErrorIs(t, err, watchlist.ErrExtractionFailed)
			require.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestExecuteHonorsCallerCancellation(t *testing.T) {
	t.Parallel()

	exec := newExecutor(t, Config{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := exec.Execute(ctx, "shop.example", `while (true) {}`, newPage(t))
	require.ErrorIs(t, err, watchlist.ErrExtractionFailed)
	require.ErrorIs(t, err, context.Canceled)
}

// panickingPage fails inside a host call the way a buggy renderer would.
type panickingPage struct {
	*static.Page
}

func (panickingPage) Query(context.Context, string) (watchlist.Element, error) {
	panic("renderer bug")
}

func TestExecuteRecoversHostPanics(t *testing.T) {
	t.Parallel()

	exec := newExecutor(t, Config{Timeout: time.Second})
	obs, err := exec.Execute(context.Background(), "shop.example", `return { price: page.query(".price"), discount: null };`, panickingPage{newPage(t)})
	require.ErrorIs(t, err, watchlist.ErrExtractionFailed)
	require.ErrorContains(t, err, "renderer bug")
	require.Equal(t, watchlist.Observation{}, obs)

	// The executor stays usable afterwards.
	obs, err = exec.Execute(context.Background(), "shop.example", `return { price: 5, discount: null };`, newPage(t))
	require.NoError(t, err)
	require.Equal(t, int64(5), *obs.Price)
}

func TestExecuteUsesFreshRuntimePerCall(t *testing.T) {
	t.Parallel()

	source := `
		globalThis.calls = (globalThis.calls || 0) + 1;
		const isolated = typeof require === "undefined" && typeof process === "undefined" && typeof setTimeout === "undefined";
		return { price: globalThis.calls, discount: isolated ? 1 : 0 };`

	exec := newExecutor(t, Config{Timeout: time.Second, CacheSize: 4})
	for range 3 {
		obs, err := exec.Execute(context.Background(), "shop.example", source, newPage(t))
		require.NoError(t, err)
		require.Equal(t, int64(1), *obs.Price)
		require.Equal(t, int64(1), *obs.Discount)
	}
	require.Equal(t, 1, exec.cache.len())
}

func TestExecuteWithoutCacheCompilesEveryCall(t *testing.T) {
	t.Parallel()

	exec := newExecutor(t, Config{Timeout: time.Second})
	obs, err := exec.Execute(context.Background(), "shop.example", `return { price: 5, discount: null };`, newPage(t))
	require.NoError(t, err)
	require.Equal(t, int64(5), *obs.Price)
	require.Equal(t, 0, exec.cache.len())
}

func TestExecuteFormatDateUsesLocation(t *testing.T) {
	t.Parallel()

	exec := newExecutor(t, Config{Timeout: time.Second, Location: time.FixedZone("UTC-5", -5*3600)})
	source := `
		const today = util.formatDate() === "2026-10-14";
		const epoch = util.formatDate(new Date(Date.UTC(2020, 0, 2, 12))) === "2020-01-02";
		return { price: today ? 1 : 0, discount: epoch ? 1 : 0 };`

	obs, err := exec.Execute(context.Background(), "shop.example", source, newPage(t))
	require.NoError(t, err)
	require.Equal(t, int64(1), *obs.Price)
	require.Equal(t, int64(1), *obs.Discount)
}

func TestExecuteScreenshotStoresBlob(t *testing.T) {
	t.Parallel()

	blobs := &fakeBlobStore{}
	clock := fakeClock{now: time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)}
	exec := New(Config{Timeout: time.Second, ScreenshotPrefix: "shots"}, sha256.New(), blobs, clock, zap.NewNop())
	source := `
		const uri = page.screenshot("before price");
		return { price: uri === "memory://shots/shop.example/20261015T093000Z-before_price.png" ? 1 : 0, discount: undefined };`

	obs, err := exec.Execute(context.Background(), "shop.example", source, shotPage{newPage(t)})
	require.NoError(t, err)
	require.Equal(t, int64(1), *obs.Price)
	require.Len(t, blobs.objects, 1)
}

func TestExecuteLogsFailuresWithRoutine(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	exec := New(Config{Timeout: time.Second}, sha256.New(), nil, fakeClock{now: time.Now()}, zap.New(core))
	source := `console.log("looking for price"); throw new Error("layout changed");`

	_, err := exec.Execute(context.Background(), "shop.example", source, newPage(t))
	require.ErrorIs(t, err, watchlist.ErrExtractionFailed)
	require.Contains(t, err.Error(), "layout changed")

	consoleLogs := logs.FilterMessage("routine console").All()
	require.Len(t, consoleLogs, 1)
	require.Equal(t, "looking for price", consoleLogs[0].ContextMap()["message"])

	failures := logs.FilterMessage("extraction routine failed").All()
	require.Len(t, failures, 1)
	fields := failures[0].ContextMap()
	require.Equal(t, "shop.example", fields["domain"])
	require.Equal(t, source, fields["routine"])
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"19.99", 1999, true},
		{" $19.99 ", 1999, true},
		{"$1,299.50", 129950, true},
		{"USD 7", 700, true},
		{"0.005", 1, true},
		{"£12.30", 1230, true},
		{"", 0, false},
		{"free", 0, false},
		{"-3.00", 0, false},
		{strings.Repeat("9", 3), 99900, true},
	}
	for _, tc := range testCases {
		got, ok := ParsePrice(tc.in)
		require.Equal(t, tc.wantOK, ok, "input %q", tc.in)
		if tc.wantOK {
			require.Equal(t, tc.want, got, "input %q", tc.in)
		}
	}
}
