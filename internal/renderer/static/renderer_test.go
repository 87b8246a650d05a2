package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const productHTML = `<html><body>
<h1 class="title">Widget</h1>
<span class="price" data-cents="1999"> $19.99 </span>
</body></html>`

func TestPageQueryTextAttribute(t *testing.T) {
	t.Parallel()

	page, err := NewPage("https://shop.example/a", []byte(productHTML))
	require.NoError(t, err)
	ctx := context.Background()

	el, err := page.Query(ctx, ".price")
	require.NoError(t, err)
	require.NotNil(t, el)
	require.Equal(t, ".price", el.Selector())

	text, err := page.Text(ctx, el)
	require.NoError(t, err)
	require.Equal(t, " $19.99 ", text)

	cents, ok, err := page.Attribute(ctx, el, "data-cents")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1999", cents)

	_, ok, err = page.Attribute(ctx, el, "data-missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPageQueryNoMatchIsNotAnError(t *testing.T) {
	t.Parallel()

	page, err := NewPage("https://shop.example/a", []byte(productHTML))
	require.NoError(t, err)

	el, err := page.Query(context.Background(), ".discount")
	require.NoError(t, err)
	require.Nil(t, el)

	_, err = page.Query(context.Background(), "[[[")
	require.Error(t, err)
}

func TestPageCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	page, err := NewPage("https://shop.example/a", []byte(productHTML))
	require.NoError(t, err)
	require.NoError(t, page.Close())
	require.NoError(t, page.Close())

	_, err = page.Query(context.Background(), ".price")
	require.Error(t, err)

	_, err = page.Screenshot(context.Background())
	require.ErrorIs(t, err, ErrScreenshotUnsupported)
}

func TestRendererOpenFetchesDocument(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() != "pricewatch-test" {
			http.Error(w, "unexpected user agent", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(productHTML))
	}))
	defer srv.Close()

	renderer := New(Config{UserAgent: "pricewatch-test", Timeout: 5 * time.Second})
	page, err := renderer.Open(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	defer func() { require.NoError(t, page.Close()) }()

	require.Equal(t, srv.URL+"/a", page.URL())

	again, err := renderer.Open(context.Background(), srv.URL+"/a")
	require.NoError(t, err, "the same url must be fetchable on every refresh")
	require.NoError(t, again.Close())

	el, err := page.Query(context.Background(), "h1.title")
	require.NoError(t, err)
	text, err := page.Text(context.Background(), el)
	require.NoError(t, err)
	require.Equal(t, "Widget", text)
}

func TestRendererOpenReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := New(Config{}).Open(context.Background(), srv.URL)
	require.Error(t, err)
}
