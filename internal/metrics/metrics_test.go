package metrics

import (
	"testing"

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

func TestInitAndObserve(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(queueItemsTotal.WithLabelValues("unit", "completed"))
	ObserveQueueItem("unit", "completed")
	if val := testutil.ToFloat64(queueItemsTotal.WithLabelValues("unit", "completed")); val != before+1 {
		t.Errorf("Expected queue counter to grow by 1, got %f -> %f", before, val)
	}

	ObserveFetch("https://Metrics.test/manga/x/", "GET", "ok", 128, 0)
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics.test")); val != 128 {
		t.Errorf("Expected 128 fetched bytes, got %f", val)
	}

	ObserveAssets("stored", 0)
	ObserveAssets("stored", 3)
	if val := testutil.ToFloat64(assetsTotal.WithLabelValues("stored")); val < 3 {
		t.Errorf("Expected at least 3 stored assets, got %f", val)
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
