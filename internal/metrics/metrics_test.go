package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if refreshTotal == nil || extractionDurationSeconds == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveRefresh(t *testing.T) {
	before := testutil.ToFloat64(refreshTotal.WithLabelValues("no_routine"))
	ObserveRefresh("no_routine", 20*time.Millisecond)
	ObserveRefresh("no_routine", 30*time.Millisecond)
	if got := testutil.ToFloat64(refreshTotal.WithLabelValues("no_routine")) - before; got != 2 {
		t.Errorf("expected 2 no_routine refreshes, got %f", got)
	}
}

func TestObserveExtractionSanitizesSite(t *testing.T) {
	ObserveExtraction("Shop.Example", true, 10*time.Millisecond)
	ObserveExtraction("https://shop.example/a", false, 10*time.Millisecond)
	if n := testutil.CollectAndCount(extractionDurationSeconds); n < 2 {
		t.Errorf("expected ok and failed series, got %d", n)
	}
}

func TestGauges(t *testing.T) {
	IncOpenPages()
	IncOpenPages()
	DecOpenPages()
	if got := testutil.ToFloat64(openPages); got != 1 {
		t.Errorf("expected 1 open page, got %f", got)
	}
	DecOpenPages()

	SetStaleItems(7)
	if got := testutil.ToFloat64(staleItems); got != 7 {
		t.Errorf("expected 7 stale items, got %f", got)
	}

	before := testutil.ToFloat64(eventsDroppedTotal)
	ObserveEventDropped()
	if got := testutil.ToFloat64(eventsDroppedTotal) - before; got != 1 {
		t.Errorf("expected one dropped event, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
