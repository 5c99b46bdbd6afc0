package crawler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

func newDispatcher(h *harness) *crawler.Dispatcher {
	d := h.deps()
	return crawler.NewDispatcher(h.repo, crawler.NewCollectionCrawler(d), crawler.NewUnitCrawler(d))
}

func TestDispatcherRejectsMalformedItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	d := newDispatcher(h)

	tests := []struct {
		name string
		item crawler.QueueItem
	}{
		{name: "missing source", item: crawler.QueueItem{Kind: crawler.KindCollection, NativeID: "alpha", SourceID: 999}},
		{name: "bad unit id", item: crawler.QueueItem{Kind: crawler.KindUnit, NativeID: "chapter-1", SourceID: h.src.ID}},
		{name: "unknown kind", item: crawler.QueueItem{Kind: "volume", NativeID: "alpha", SourceID: h.src.ID}},
	}
	for _, tc := range tests {
		err := d.Execute(context.Background(), tc.item)
		assert.True(t, crawler.IsValidation(err), tc.name)
	}
	assert.Empty(t, h.fetcher.calls)
}

func TestQueueProcessRunsDispatcher(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	coll := seedCollection(t, h, true)
	images := imageURLs(10)
	h.fetcher.get(unitURL, readerPage(images...))
	for i, img := range images {
		if i != 6 {
			h.fetcher.image(img)
		}
	}

	unitItem, err := h.queue.Enqueue(ctx, crawler.KindUnit, crawler.UnitItemID("alpha", "chapter-1"), h.src.ID, 5)
	require.NoError(t, err)
	orphan, err := h.queue.Enqueue(ctx, crawler.KindCollection, "alpha", 999, 5)
	require.NoError(t, err)

	report, err := h.queue.Process(ctx, 5, newDispatcher(h))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Failed)

	done, err := h.queue.Get(ctx, unitItem)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, done.Status)

	failed, err := h.queue.Get(ctx, orphan)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusFailed, failed.Status)
	assert.True(t, failed.Exhausted())

	unit, err := h.repo.FindUnit(ctx, coll.ID, "chapter-1")
	require.NoError(t, err)
	assert.True(t, unit.Downloaded)
	assert.Len(t, h.mem.Keys(), 9)
}
