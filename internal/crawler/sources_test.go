package crawler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

func TestAddSourceValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sources := crawler.NewSources(h.deps())

	tests := []struct {
		name string
		site string
		url  string
	}{
		{name: "blank name", site: "  ", url: "https://other.test/"},
		{name: "bad scheme", site: "Other", url: "ftp://other.test/"},
		{name: "no host", site: "Other", url: "https:///manga"},
		{name: "unreachable", site: "Other", url: "https://other.test/"},
	}
	for _, tc := range tests {
		_, err := sources.AddSource(context.Background(), tc.site, tc.url)
		assert.True(t, crawler.IsValidation(err), tc.name)
	}
}

func TestAddSourceRejectsNonMadaraSite(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.fetcher.get("https://other.test/", `<html><body><p>plain blog</p></body></html>`)

	_, err := crawler.NewSources(h.deps()).AddSource(context.Background(), "Other", "https://other.test")

	assert.True(t, crawler.IsValidation(err))
	assert.True(t, h.observer.saw("source rejected"))
}

func TestAddSourceNormalizesAndDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.get("https://other.test/", page(""))
	sources := crawler.NewSources(h.deps())

	id, err := sources.AddSource(ctx, "Other", "HTTPS://Other.TEST:443/?utm=1#top")
	require.NoError(t, err)
	src, err := sources.GetSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://other.test/", src.URL)
	assert.True(t, src.Active)

	again, err := sources.AddSource(ctx, "Other again", "https://other.test")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, h.fetcher.calls, 1)

	existing, err := sources.AddSource(ctx, "Example", siteURL)
	require.NoError(t, err)
	assert.Equal(t, h.src.ID, existing)
}

func TestUpdateSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	sources := crawler.NewSources(h.deps())

	renamed, err := sources.UpdateSource(ctx, h.src.ID, "Renamed", "")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Name)
	assert.Equal(t, siteURL, renamed.URL)
	assert.Empty(t, h.fetcher.calls)

	_, err = sources.UpdateSource(ctx, h.src.ID, "", "https://moved.test/")
	assert.True(t, crawler.IsValidation(err))

	h.fetcher.get("https://moved.test/", page(""))
	moved, err := sources.UpdateSource(ctx, h.src.ID, "", "https://moved.test")
	require.NoError(t, err)
	assert.Equal(t, "https://moved.test/", moved.URL)
	assert.Equal(t, "Renamed", moved.Name)
}

func TestSetActiveAndDeleteSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	sources := crawler.NewSources(h.deps())

	require.NoError(t, sources.SetActive(ctx, h.src.ID, false))
	active := true
	list, err := sources.ListSources(ctx, crawler.SourceFilter{Active: &active})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, sources.DeleteSource(ctx, h.src.ID))
	assert.True(t, crawler.IsNotFound(sources.DeleteSource(ctx, h.src.ID)))
	assert.True(t, crawler.IsNotFound(sources.SetActive(ctx, h.src.ID, true)))
}
