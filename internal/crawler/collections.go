package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/madara-crawler/internal/extract"
	"github.com/JakeFAU/madara-crawler/internal/metrics"
	"github.com/JakeFAU/madara-crawler/internal/telemetry"
)

// CollectionCrawler walks listing pages and scrapes collection detail pages.
type CollectionCrawler struct {
	d Deps
}

// NewCollectionCrawler builds a CollectionCrawler. Catalog, Fetcher and Queue are required.
func NewCollectionCrawler(d Deps) *CollectionCrawler {
	return &CollectionCrawler{d: d.withDefaults()}
}

// ScrapeAll walks the source's paged directory and enqueues every collection it
// finds. The walk ends when a page has no next-page control, after MaxPages, or
// after MaxEmptyPages consecutive pages that failed or yielded nothing.
func (c *CollectionCrawler) ScrapeAll(ctx context.Context, src Source) (report CrawlReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "crawler.ScrapeAll", attribute.Int64("source_id", src.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	settings, err := c.d.settings(ctx)
	if err != nil {
		return report, err
	}
	if err := c.d.Catalog.TouchSource(ctx, src.ID, c.d.now()); err != nil {
		return report, err
	}
	c.d.Observer.Log(ctx, LevelInfo, "collection walk started", map[string]any{"source_id": src.ID, "url": src.URL})

	maxPages := settings.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultSettings().MaxPages
	}
	maxEmpty := settings.MaxEmptyPages
	if maxEmpty <= 0 {
		maxEmpty = DefaultSettings().MaxEmptyPages
	}

	empty := 0
	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := c.d.Pauser.Pause(ctx, settings.RequestDelay); err != nil {
				return report, err
			}
		}
		pageURL := extract.ListingPageURL(src.URL, page)
		resp, err := c.d.Fetcher.Fetch(ctx, FetchRequest{URL: pageURL})
		report.Pages++
		if err != nil {
			if isCanceled(ctx, err) {
				return report, ctx.Err()
			}
			report.Failures++
			empty++
			c.d.Observer.Log(ctx, LevelWarning, "listing page failed", map[string]any{"url": pageURL, "error": err.Error()})
			if empty >= maxEmpty {
				break
			}
			continue
		}

		entries := extract.ParseListing(resp.Body, pageURL)
		if len(entries) == 0 {
			empty++
			c.d.Observer.Log(ctx, LevelWarning, "listing page had no collections", map[string]any{"url": pageURL})
		} else {
			empty = 0
		}
		for _, entry := range entries {
			if _, err := c.d.Queue.Enqueue(ctx, KindCollection, entry.NativeID, src.ID, settings.DefaultPriority); err != nil {
				if IsValidation(err) {
					continue
				}
				return report, fmt.Errorf("enqueue collection %s: %w", entry.NativeID, err)
			}
			report.Enqueued++
			metrics.ObserveQueueItem(string(KindCollection), "discovered")
		}
		if empty >= maxEmpty || !extract.HasNextPage(resp.Body) {
			break
		}
	}

	c.d.Observer.Log(ctx, LevelInfo, "collection walk finished", map[string]any{
		"source_id": src.ID, "pages": report.Pages, "enqueued": report.Enqueued, "failures": report.Failures,
	})
	return report, nil
}

// CheckNewCollections reads the first listing page and enqueues up to max
// collections that are not cataloged yet. It returns how many were enqueued.
func (c *CollectionCrawler) CheckNewCollections(ctx context.Context, src Source, max int) (int, error) {
	settings, err := c.d.settings(ctx)
	if err != nil {
		return 0, err
	}
	pageURL := extract.ListingPageURL(src.URL, 1)
	resp, err := c.d.Fetcher.Fetch(ctx, FetchRequest{URL: pageURL})
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, entry := range extract.ParseListing(resp.Body, pageURL) {
		if max > 0 && enqueued >= max {
			break
		}
		_, err := c.d.Catalog.FindCollection(ctx, src.ID, entry.NativeID)
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return enqueued, err
		}
		if _, err := c.d.Queue.Enqueue(ctx, KindCollection, entry.NativeID, src.ID, settings.DefaultPriority); err != nil {
			return enqueued, fmt.Errorf("enqueue collection %s: %w", entry.NativeID, err)
		}
		enqueued++
	}
	if enqueued > 0 {
		c.d.Observer.Log(ctx, LevelInfo, "new collections found", map[string]any{"source_id": src.ID, "count": enqueued})
	}
	return enqueued, nil
}

// ScrapeCollection fetches one detail page, upserts the collection and syncs its unit list.
// Units already cataloged are left untouched.
func (c *CollectionCrawler) ScrapeCollection(ctx context.Context, src Source, nativeID string) (coll Collection, report UnitReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "crawler.ScrapeCollection",
		attribute.Int64("source_id", src.ID), attribute.String("native_id", nativeID))
	defer func() { telemetry.EndSpan(span, err) }()

	if nativeID == "" {
		return coll, report, Invalid("native_id", "must not be empty")
	}
	settings, err := c.d.settings(ctx)
	if err != nil {
		return coll, report, err
	}
	detailURL := extract.CollectionURL(src.URL, nativeID)
	resp, err := c.d.Fetcher.Fetch(ctx, FetchRequest{URL: detailURL})
	if err != nil {
		return coll, report, err
	}
	detail, err := extract.ParseDetail(resp.Body)
	if errors.Is(err, extract.ErrMissingTitle) {
		c.d.Observer.Log(ctx, LevelWarning, "collection page has no title", map[string]any{
			"url": detailURL, "snippet": extract.Snippet(resp.Body),
		})
		return coll, report, &ParseError{What: "title", URL: detailURL}
	}
	if err != nil {
		return coll, report, err
	}

	slug := extract.Slugify(detail.Title)
	if slug == "" {
		slug = nativeID
	}
	coll, err = c.d.Catalog.UpsertCollection(ctx, Collection{
		SourceID:    src.ID,
		NativeID:    nativeID,
		Title:       detail.Title,
		Slug:        slug,
		Description: detail.Description,
		CoverURL:    detail.CoverURL,
		Status:      detail.Status,
		Genres:      detail.Genres,
		Authors:     detail.Authors,
		Artists:     detail.Artists,
	})
	if err != nil {
		return coll, report, err
	}

	refs := c.resolveUnits(ctx, src, nativeID, detailURL, resp.Body)
	report, err = c.syncUnits(ctx, src, coll, refs, 0, settings.DefaultPriority)
	if err != nil {
		return coll, report, err
	}

	if c.d.Publisher != nil && coll.ExternalRef == "" {
		downloaded := true
		n, err := c.d.Catalog.CountUnits(ctx, UnitFilter{CollectionID: coll.ID, Downloaded: &downloaded})
		if err != nil {
			return coll, report, err
		}
		if n > 0 {
			if ref, perr := c.d.Publisher.PublishCollection(ctx, coll); perr != nil {
				c.d.fail(ctx, string(KindCollection), nativeID, "publish collection failed", perr)
			} else if err := c.d.Catalog.UpdateCollectionRef(ctx, coll.ID, ref); err != nil {
				return coll, report, err
			} else {
				coll.ExternalRef = ref
			}
		}
	}

	c.d.Observer.Log(ctx, LevelInfo, "collection scraped", map[string]any{
		"source_id": src.ID, "native_id": nativeID, "title": coll.Title, "units": report.Found, "new_units": report.New,
	})
	return coll, report, nil
}

// CheckNewUnits re-reads a cataloged collection's unit list and enqueues at most
// maxNew units that are not cataloged yet.
func (c *CollectionCrawler) CheckNewUnits(ctx context.Context, src Source, coll Collection, maxNew int) (UnitReport, error) {
	settings, err := c.d.settings(ctx)
	if err != nil {
		return UnitReport{}, err
	}
	detailURL := extract.CollectionURL(src.URL, coll.NativeID)
	resp, err := c.d.Fetcher.Fetch(ctx, FetchRequest{URL: detailURL})
	if err != nil {
		return UnitReport{}, err
	}
	refs := c.resolveUnits(ctx, src, coll.NativeID, detailURL, resp.Body)
	return c.syncUnits(ctx, src, coll, refs, maxNew, settings.DefaultPriority)
}

// resolveUnits tries the admin-ajax endpoint, then the per-collection endpoint,
// then the links printed in the detail page itself.
func (c *CollectionCrawler) resolveUnits(ctx context.Context, src Source, nativeID, detailURL string, body []byte) []extract.UnitRef {
	log := c.d.Logger.With(zap.String("collection", nativeID))

	tokens, ok := extract.ExtractTokens(body)
	if ok {
		refs, err := c.fetchUnits(ctx, FetchRequest{
			URL:    extract.AjaxURL(src.URL),
			Method: http.MethodPost,
			Form:   tokens.Form(),
		}, detailURL)
		if err == nil && len(refs) > 0 {
			log.Debug("units resolved", zap.String("strategy", "admin-ajax"), zap.Int("count", len(refs)))
			return refs
		}
		log.Debug("admin-ajax unit list unusable", zap.Error(err))
	} else {
		c.d.Observer.Log(ctx, LevelWarning, "unit list tokens not found", map[string]any{
			"url": detailURL, "snippet": extract.Snippet(body),
		})
	}

	refs, err := c.fetchUnits(ctx, FetchRequest{
		URL:    extract.CollectionAjaxURL(src.URL, nativeID),
		Method: http.MethodPost,
	}, detailURL)
	if err == nil && len(refs) > 0 {
		log.Debug("units resolved", zap.String("strategy", "collection-ajax"), zap.Int("count", len(refs)))
		return refs
	}

	refs = extract.ParseUnitList(body, detailURL)
	log.Debug("units resolved", zap.String("strategy", "direct"), zap.Int("count", len(refs)))
	return refs
}

// fetchUnits posts to a chapter endpoint. The Referer stays the fetcher's
// default, the site origin; pageURL only resolves relative unit links.
func (c *CollectionCrawler) fetchUnits(ctx context.Context, req FetchRequest, pageURL string) ([]extract.UnitRef, error) {
	req.Headers = http.Header{"X-Requested-With": {"XMLHttpRequest"}}
	resp, err := c.d.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return extract.ParseUnitsAJAX(resp.Body, pageURL)
}

// syncUnits inserts unseen units and enqueues their downloads. maxNew of zero means no cap.
func (c *CollectionCrawler) syncUnits(ctx context.Context, src Source, coll Collection, refs []extract.UnitRef, maxNew, priority int) (UnitReport, error) {
	report := UnitReport{Found: len(refs)}
	if len(refs) == 0 {
		return report, nil
	}
	for _, ref := range refs {
		if maxNew > 0 && report.New >= maxNew {
			break
		}
		_, err := c.d.Catalog.FindUnit(ctx, coll.ID, ref.NativeID)
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return report, err
		}
		slug := extract.UnitSlug(ref.Number, ref.Title)
		if ref.Number == "" {
			slug = ref.NativeID
		}
		_, err = c.d.Catalog.InsertUnit(ctx, Unit{
			CollectionID: coll.ID,
			NativeID:     ref.NativeID,
			Number:       ref.Number,
			Title:        ref.Title,
			Slug:         slug,
			PublishedAt:  ref.PublishedAt,
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return report, err
		}
		report.New++
		if _, err := c.d.Queue.Enqueue(ctx, KindUnit, UnitItemID(coll.NativeID, ref.NativeID), src.ID, priority); err != nil {
			return report, fmt.Errorf("enqueue unit %s: %w", ref.NativeID, err)
		}
		report.Enqueued++
		metrics.ObserveQueueItem(string(KindUnit), "discovered")
	}

	newest := refs[0]
	if err := c.d.Catalog.UpdateLastUnit(ctx, coll.ID, newest.Number, newest.PublishedAt); err != nil {
		return report, err
	}
	return report, nil
}

// DeleteCollectionCascade removes a collection, its units and its stored assets.
// Assets are removed by the paths recorded on the units and by the
// collection's own directory, never by anything derived from the title.
func (c *CollectionCrawler) DeleteCollectionCascade(ctx context.Context, id int64) error {
	coll, err := c.d.Catalog.GetCollection(ctx, id)
	if err != nil {
		return err
	}
	stored, err := c.d.Catalog.ListUnits(ctx, UnitFilter{CollectionID: id})
	if err != nil {
		return err
	}
	units, err := c.d.Catalog.DeleteUnits(ctx, id)
	if err != nil {
		return err
	}
	if _, err := c.d.Catalog.DeleteCollection(ctx, id); err != nil {
		return err
	}
	if c.d.Blobs != nil {
		for _, dir := range assetDirs(coll, stored) {
			if err := c.d.Blobs.DeletePrefix(ctx, dir+"/"); err != nil {
				return &StorageError{Op: "delete assets", Err: err}
			}
		}
	}
	c.d.Observer.Log(ctx, LevelInfo, "collection deleted", map[string]any{
		"collection_id": id, "native_id": coll.NativeID, "units": units,
	})
	return nil
}

// assetDirs lists the directories to purge for coll. Unit paths already under
// the collection directory are covered by it.
func assetDirs(coll Collection, units []Unit) []string {
	root := CollectionAssetDir(coll)
	dirs := []string{root}
	for _, u := range units {
		dir := strings.TrimSuffix(u.AssetPath, "/")
		if dir == "" || dir == root || strings.HasPrefix(dir, root+"/") || slices.Contains(dirs, dir) {
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// CollectionAssetDir is the storage prefix holding every unit of coll. It is
// keyed on the source and the collection's native id, which never change
// with the title.
func CollectionAssetDir(coll Collection) string {
	return path.Join("manga", strconv.FormatInt(coll.SourceID, 10), coll.NativeID)
}
