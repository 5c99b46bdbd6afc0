package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/madara-crawler/internal/extract"
	"github.com/JakeFAU/madara-crawler/internal/metrics"
	"github.com/JakeFAU/madara-crawler/internal/telemetry"
)

// UnitItemID is the queue native id of a unit: "<collection>/<unit>".
func UnitItemID(collectionNativeID, unitNativeID string) string {
	return collectionNativeID + "/" + unitNativeID
}

// ParseUnitItemID splits a unit queue id back into its collection and unit parts.
func ParseUnitItemID(id string) (string, string, error) {
	c, u, ok := strings.Cut(id, "/")
	if !ok || c == "" || u == "" || strings.Contains(u, "/") {
		return "", "", Invalid("native_id", fmt.Sprintf("unit id %q is not collection/unit", id))
	}
	return c, u, nil
}

// UnitAssetDir is the storage prefix of one unit's assets.
func UnitAssetDir(coll Collection, u Unit) string {
	return path.Join(CollectionAssetDir(coll), u.NativeID)
}

// UnitCrawler downloads a unit's assets and hands them to the merge and publish collaborators.
type UnitCrawler struct {
	d Deps
}

// NewUnitCrawler builds a UnitCrawler. Catalog, Fetcher and Blobs are required.
func NewUnitCrawler(d Deps) *UnitCrawler {
	return &UnitCrawler{d: d.withDefaults()}
}

// GetUnits lists cataloged units.
func (c *UnitCrawler) GetUnits(ctx context.Context, filter UnitFilter) ([]Unit, error) {
	return c.d.Catalog.ListUnits(ctx, filter)
}

// ScrapeUnit downloads every asset of one unit. Individual asset failures are
// tolerated; the call fails only when nothing could be stored.
func (c *UnitCrawler) ScrapeUnit(ctx context.Context, src Source, collectionNativeID, unitNativeID string) (report DownloadReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "crawler.ScrapeUnit",
		attribute.Int64("source_id", src.ID),
		attribute.String("collection", collectionNativeID),
		attribute.String("unit", unitNativeID))
	defer func() { telemetry.EndSpan(span, err) }()

	if collectionNativeID == "" || unitNativeID == "" {
		return report, Invalid("native_id", "collection and unit ids are required")
	}
	settings, err := c.d.settings(ctx)
	if err != nil {
		return report, err
	}
	coll, err := c.d.Catalog.FindCollection(ctx, src.ID, collectionNativeID)
	if err != nil {
		return report, fmt.Errorf("collection %s: %w", collectionNativeID, err)
	}
	if coll.Slug == "" {
		coll.Slug = collectionNativeID
	}

	unitURL := extract.UnitURL(src.URL, collectionNativeID, unitNativeID)
	unit, err := c.ensureUnit(ctx, coll, unitNativeID, unitURL)
	if err != nil {
		return report, err
	}

	resp, err := c.d.Fetcher.Fetch(ctx, FetchRequest{URL: unitURL})
	if err != nil {
		return report, err
	}
	assets := extract.ParseAssets(resp.Body, unitURL)
	report.Discovered = len(assets)
	if len(assets) == 0 {
		c.d.Observer.Log(ctx, LevelWarning, "unit page has no assets", map[string]any{
			"url": unitURL, "snippet": extract.Snippet(resp.Body),
		})
		return report, &ParseError{What: "assets", URL: unitURL}
	}

	dir := UnitAssetDir(coll, unit)
	var lastErr error
	for i, assetURL := range assets {
		if i > 0 {
			if err := c.d.Pauser.Pause(ctx, settings.AssetDelay); err != nil {
				return report, err
			}
		}
		name := fmt.Sprintf("%03d.%s", i+1, extract.FileExtension(assetURL))
		stored, err := c.download(ctx, assetURL, path.Join(dir, name))
		if err != nil {
			if isCanceled(ctx, err) {
				return report, ctx.Err()
			}
			report.Failed++
			lastErr = err
			c.d.Observer.Log(ctx, LevelWarning, "asset download failed", map[string]any{
				"unit": UnitItemID(collectionNativeID, unitNativeID), "asset": assetURL, "error": err.Error(),
			})
			continue
		}
		report.Stored = append(report.Stored, stored)
	}
	metrics.ObserveAssets("stored", len(report.Stored))
	metrics.ObserveAssets("failed", report.Failed)

	if len(report.Stored) == 0 {
		return report, fmt.Errorf("unit %s: none of %d assets downloaded: %w",
			UnitItemID(collectionNativeID, unitNativeID), len(assets), lastErr)
	}
	if err := c.d.Catalog.MarkUnitDownloaded(ctx, unit.ID, dir); err != nil {
		return report, err
	}
	unit.Downloaded = true
	unit.AssetPath = dir

	if settings.MergeAssets {
		report.Merged = c.merge(ctx, unit, report.Stored, dir, settings.MergeFormat)
	}
	if c.d.Publisher != nil {
		report.Published = c.publish(ctx, coll, unit, report)
	}

	c.d.Observer.Log(ctx, LevelInfo, "unit downloaded", map[string]any{
		"unit":   UnitItemID(collectionNativeID, unitNativeID),
		"stored": len(report.Stored),
		"failed": report.Failed,
		"path":   dir,
	})
	return report, nil
}

// ensureUnit loads the unit row, creating it from the URL for direct triggers.
func (c *UnitCrawler) ensureUnit(ctx context.Context, coll Collection, nativeID, unitURL string) (Unit, error) {
	unit, err := c.d.Catalog.FindUnit(ctx, coll.ID, nativeID)
	if err == nil {
		if unit.Slug == "" {
			unit.Slug = nativeID
		}
		return unit, nil
	}
	if !IsNotFound(err) {
		return Unit{}, err
	}
	number := extract.UnitNumber("", unitURL)
	slug := nativeID
	if number != "" {
		slug = extract.UnitSlug(number, "")
	}
	unit = Unit{CollectionID: coll.ID, NativeID: nativeID, Number: number, Slug: slug}
	id, err := c.d.Catalog.InsertUnit(ctx, unit)
	if errors.Is(err, ErrConflict) {
		return c.d.Catalog.FindUnit(ctx, coll.ID, nativeID)
	}
	if err != nil {
		return Unit{}, err
	}
	unit.ID = id
	return unit, nil
}

func (c *UnitCrawler) download(ctx context.Context, assetURL, key string) (string, error) {
	resp, err := c.d.Fetcher.Fetch(ctx, FetchRequest{URL: assetURL})
	if err != nil {
		return "", err
	}
	if len(resp.Body) == 0 {
		return "", &FetchError{URL: assetURL, StatusCode: resp.StatusCode, Cause: errors.New("empty body")}
	}
	contentType := resp.ContentType()
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	if _, err := c.d.Blobs.PutObject(ctx, key, contentType, bytes.NewReader(resp.Body)); err != nil {
		return "", &StorageError{Op: "put asset", Err: err}
	}
	return key, nil
}

// merge is skipped unless a post-processor is configured and assets live on local disk.
func (c *UnitCrawler) merge(ctx context.Context, unit Unit, stored []string, dir, format string) string {
	if c.d.Merger == nil {
		return ""
	}
	local, ok := c.d.Blobs.(LocalPather)
	if !ok {
		c.d.Logger.Debug("merge skipped: asset storage is not local", zap.Int64("unit_id", unit.ID))
		return ""
	}
	paths := make([]string, 0, len(stored))
	for _, key := range stored {
		p, ok := local.LocalPath(key)
		if !ok {
			return ""
		}
		paths = append(paths, p)
	}
	stem, ok := local.LocalPath(path.Join(dir, "merged"))
	if !ok {
		return ""
	}
	out, err := c.d.Merger.Merge(ctx, paths, stem, format)
	if err != nil {
		c.d.fail(ctx, string(KindUnit), unit.NativeID, "merge failed", err)
		return ""
	}
	name := path.Base(strings.ReplaceAll(out, "\\", "/"))
	if err := c.d.Catalog.SetUnitMerged(ctx, unit.ID, name); err != nil {
		c.d.fail(ctx, string(KindUnit), unit.NativeID, "record merged asset failed", err)
		return ""
	}
	return name
}

// publish materializes the collection first when it has no ref yet, then the unit.
func (c *UnitCrawler) publish(ctx context.Context, coll Collection, unit Unit, report DownloadReport) string {
	if coll.ExternalRef == "" {
		ref, err := c.d.Publisher.PublishCollection(ctx, coll)
		if err != nil {
			c.d.fail(ctx, string(KindCollection), coll.NativeID, "publish collection failed", err)
			return ""
		}
		if err := c.d.Catalog.UpdateCollectionRef(ctx, coll.ID, ref); err != nil {
			c.d.fail(ctx, string(KindCollection), coll.NativeID, "record collection ref failed", err)
			return ""
		}
		coll.ExternalRef = ref
	}

	assets := report.Stored
	if report.Merged != "" {
		assets = []string{path.Join(unit.AssetPath, report.Merged)}
	}
	ref, err := c.d.Publisher.PublishUnit(ctx, unit, assets, coll.ExternalRef)
	if err != nil {
		c.d.fail(ctx, string(KindUnit), unit.NativeID, "publish unit failed", err)
		return ""
	}
	if err := c.d.Catalog.MarkUnitProcessed(ctx, unit.ID, ref); err != nil {
		c.d.fail(ctx, string(KindUnit), unit.NativeID, "record unit ref failed", err)
		return ""
	}
	return ref
}
