package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

// Repository maps domain records onto a generic Store.
type Repository struct {
	store Store
	clock crawler.Clock
}

var _ crawler.Catalog = (*Repository)(nil)

// NewRepository wraps s. A nil clock defaults to UTC wall time.
func NewRepository(s Store, clock crawler.Clock) *Repository {
	if clock == nil {
		clock = utcClock{}
	}
	return &Repository{store: s, clock: clock}
}

// Store exposes the underlying generic store.
func (r *Repository) Store() Store {
	return r.store
}

func (r *Repository) now() time.Time {
	return r.clock.Now().UTC()
}

// --- sources ---

// GetSource loads one source by id.
func (r *Repository) GetSource(ctx context.Context, id int64) (crawler.Source, error) {
	row, err := r.store.GetOne(ctx, Sources, Match{"id": id})
	if err != nil {
		return crawler.Source{}, wrap("get source", err)
	}
	return sourceFromRow(row), nil
}

// FindSourceByURL loads one source by its normalized URL.
func (r *Repository) FindSourceByURL(ctx context.Context, url string) (crawler.Source, error) {
	row, err := r.store.GetOne(ctx, Sources, Match{"url": url})
	if err != nil {
		return crawler.Source{}, wrap("find source", err)
	}
	return sourceFromRow(row), nil
}

// ListSources returns sources ordered by name.
func (r *Repository) ListSources(ctx context.Context, filter crawler.SourceFilter) ([]crawler.Source, error) {
	match := Match{}
	if filter.Active != nil {
		match["active"] = *filter.Active
	}
	rows, err := r.store.GetMany(ctx, Sources, Query{
		Match:  match,
		Order:  []Order{{Column: "name"}, {Column: "id"}},
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, wrap("list sources", err)
	}
	out := make([]crawler.Source, 0, len(rows))
	for _, row := range rows {
		out = append(out, sourceFromRow(row))
	}
	return out, nil
}

// InsertSource creates a source row.
func (r *Repository) InsertSource(ctx context.Context, s crawler.Source) (int64, error) {
	id, err := r.store.Insert(ctx, Sources, Fields{
		"name":       s.Name,
		"url":        s.URL,
		"active":     s.Active,
		"created_at": r.now(),
	})
	if err != nil {
		return 0, wrap("insert source", err)
	}
	return id, nil
}

// UpdateSource overwrites name, url and active flag.
func (r *Repository) UpdateSource(ctx context.Context, s crawler.Source) error {
	n, err := r.store.Update(ctx, Sources, Fields{
		"name":       s.Name,
		"url":        s.URL,
		"active":     s.Active,
		"updated_at": r.now(),
	}, Match{"id": s.ID})
	if err != nil {
		return wrap("update source", err)
	}
	if n == 0 {
		return wrap("update source", ErrNotFound)
	}
	return nil
}

// SetSourceActive flips the active flag.
func (r *Repository) SetSourceActive(ctx context.Context, id int64, active bool) error {
	n, err := r.store.Update(ctx, Sources, Fields{"active": active, "updated_at": r.now()}, Match{"id": id})
	if err != nil {
		return wrap("set source active", err)
	}
	if n == 0 {
		return wrap("set source active", ErrNotFound)
	}
	return nil
}

// TouchSource records a completed check.
func (r *Repository) TouchSource(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.store.Update(ctx, Sources, Fields{"last_checked": at.UTC()}, Match{"id": id}); err != nil {
		return wrap("touch source", err)
	}
	return nil
}

// DeleteSource removes the source record only.
func (r *Repository) DeleteSource(ctx context.Context, id int64) (int64, error) {
	n, err := r.store.Delete(ctx, Sources, Match{"id": id})
	if err != nil {
		return 0, wrap("delete source", err)
	}
	return n, nil
}

// --- collections ---

// GetCollection loads one collection by id.
func (r *Repository) GetCollection(ctx context.Context, id int64) (crawler.Collection, error) {
	row, err := r.store.GetOne(ctx, Collections, Match{"id": id})
	if err != nil {
		return crawler.Collection{}, wrap("get collection", err)
	}
	return collectionFromRow(row), nil
}

// FindCollection loads a collection by its source-native id.
func (r *Repository) FindCollection(ctx context.Context, sourceID int64, nativeID string) (crawler.Collection, error) {
	row, err := r.store.GetOne(ctx, Collections, Match{"source_id": sourceID, "native_id": nativeID})
	if err != nil {
		return crawler.Collection{}, wrap("find collection", err)
	}
	return collectionFromRow(row), nil
}

// ListCollections returns collections, newest first.
func (r *Repository) ListCollections(ctx context.Context, filter crawler.CollectionFilter) ([]crawler.Collection, error) {
	rows, err := r.store.GetMany(ctx, Collections, Query{
		Match:  collectionMatch(filter),
		Order:  []Order{{Column: "id", Desc: true}},
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, wrap("list collections", err)
	}
	out := make([]crawler.Collection, 0, len(rows))
	for _, row := range rows {
		out = append(out, collectionFromRow(row))
	}
	return out, nil
}

// CountCollections counts collections matching filter.
func (r *Repository) CountCollections(ctx context.Context, filter crawler.CollectionFilter) (int64, error) {
	n, err := r.store.Count(ctx, Collections, collectionMatch(filter))
	if err != nil {
		return 0, wrap("count collections", err)
	}
	return n, nil
}

// UpsertCollection inserts or overwrites the scraped fields keyed by (source_id, native_id).
func (r *Repository) UpsertCollection(ctx context.Context, c crawler.Collection) (crawler.Collection, error) {
	fields := Fields{
		"title":       c.Title,
		"slug":        c.Slug,
		"description": c.Description,
		"cover_url":   c.CoverURL,
		"status":      c.Status,
		"genres":      EncodeStrings(c.Genres),
		"authors":     EncodeStrings(c.Authors),
		"artists":     EncodeStrings(c.Artists),
	}
	match := Match{"source_id": c.SourceID, "native_id": c.NativeID}
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := r.store.GetOne(ctx, Collections, match)
		switch {
		case err == nil:
			fields["updated_at"] = r.now()
			if _, err := r.store.Update(ctx, Collections, fields, Match{"id": existing.Int64("id")}); err != nil {
				return crawler.Collection{}, wrap("update collection", err)
			}
			return r.GetCollection(ctx, existing.Int64("id"))
		case !errors.Is(err, ErrNotFound):
			return crawler.Collection{}, wrap("find collection", err)
		}
		insert := Fields{"source_id": c.SourceID, "native_id": c.NativeID, "created_at": r.now()}
		for k, v := range fields {
			insert[k] = v
		}
		id, err := r.store.Insert(ctx, Collections, insert)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return crawler.Collection{}, wrap("insert collection", err)
		}
		return r.GetCollection(ctx, id)
	}
	return crawler.Collection{}, wrap("upsert collection", ErrConflict)
}

// UpdateCollectionRef stores the external publish reference.
func (r *Repository) UpdateCollectionRef(ctx context.Context, id int64, ref string) error {
	if _, err := r.store.Update(ctx, Collections, Fields{"external_ref": ref, "updated_at": r.now()}, Match{"id": id}); err != nil {
		return wrap("update collection ref", err)
	}
	return nil
}

// UpdateLastUnit stores the newest known unit number and date.
func (r *Repository) UpdateLastUnit(ctx context.Context, id int64, number string, date *time.Time) error {
	if _, err := r.store.Update(ctx, Collections, Fields{
		"last_unit_number": NullString(number),
		"last_unit_date":   NullTime(date),
		"updated_at":       r.now(),
	}, Match{"id": id}); err != nil {
		return wrap("update last unit", err)
	}
	return nil
}

// DeleteCollection removes the collection row only.
func (r *Repository) DeleteCollection(ctx context.Context, id int64) (int64, error) {
	n, err := r.store.Delete(ctx, Collections, Match{"id": id})
	if err != nil {
		return 0, wrap("delete collection", err)
	}
	return n, nil
}

// --- units ---

// GetUnit loads one unit by id.
func (r *Repository) GetUnit(ctx context.Context, id int64) (crawler.Unit, error) {
	row, err := r.store.GetOne(ctx, Units, Match{"id": id})
	if err != nil {
		return crawler.Unit{}, wrap("get unit", err)
	}
	return unitFromRow(row), nil
}

// FindUnit loads a unit by its collection and native id.
func (r *Repository) FindUnit(ctx context.Context, collectionID int64, nativeID string) (crawler.Unit, error) {
	row, err := r.store.GetOne(ctx, Units, Match{"collection_id": collectionID, "native_id": nativeID})
	if err != nil {
		return crawler.Unit{}, wrap("find unit", err)
	}
	return unitFromRow(row), nil
}

// ListUnits returns units in insertion order.
func (r *Repository) ListUnits(ctx context.Context, filter crawler.UnitFilter) ([]crawler.Unit, error) {
	rows, err := r.store.GetMany(ctx, Units, Query{
		Match:  unitMatch(filter),
		Order:  []Order{{Column: "id"}},
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, wrap("list units", err)
	}
	out := make([]crawler.Unit, 0, len(rows))
	for _, row := range rows {
		out = append(out, unitFromRow(row))
	}
	return out, nil
}

// CountUnits counts units matching filter.
func (r *Repository) CountUnits(ctx context.Context, filter crawler.UnitFilter) (int64, error) {
	n, err := r.store.Count(ctx, Units, unitMatch(filter))
	if err != nil {
		return 0, wrap("count units", err)
	}
	return n, nil
}

// InsertUnit creates a unit row; ErrConflict means it already exists.
func (r *Repository) InsertUnit(ctx context.Context, u crawler.Unit) (int64, error) {
	id, err := r.store.Insert(ctx, Units, Fields{
		"collection_id": u.CollectionID,
		"native_id":     u.NativeID,
		"number":        u.Number,
		"title":         u.Title,
		"slug":          u.Slug,
		"published_at":  NullTime(u.PublishedAt),
		"downloaded":    false,
		"processed":     false,
		"created_at":    r.now(),
	})
	if err != nil {
		return 0, wrap("insert unit", err)
	}
	return id, nil
}

// MarkUnitDownloaded records the asset directory and sets downloaded.
func (r *Repository) MarkUnitDownloaded(ctx context.Context, id int64, assetPath string) error {
	if _, err := r.store.Update(ctx, Units, Fields{
		"downloaded": true,
		"asset_path": assetPath,
		"updated_at": r.now(),
	}, Match{"id": id}); err != nil {
		return wrap("mark unit downloaded", err)
	}
	return nil
}

// SetUnitMerged records the merged artifact name.
func (r *Repository) SetUnitMerged(ctx context.Context, id int64, merged string) error {
	if _, err := r.store.Update(ctx, Units, Fields{"merged_asset": merged, "updated_at": r.now()}, Match{"id": id}); err != nil {
		return wrap("set unit merged", err)
	}
	return nil
}

// MarkUnitProcessed records the external ref and sets processed.
func (r *Repository) MarkUnitProcessed(ctx context.Context, id int64, ref string) error {
	if _, err := r.store.Update(ctx, Units, Fields{
		"external_ref": ref,
		"processed":    true,
		"updated_at":   r.now(),
	}, Match{"id": id}); err != nil {
		return wrap("mark unit processed", err)
	}
	return nil
}

// DeleteUnits removes every unit of a collection.
func (r *Repository) DeleteUnits(ctx context.Context, collectionID int64) (int64, error) {
	n, err := r.store.Delete(ctx, Units, Match{"collection_id": collectionID})
	if err != nil {
		return 0, wrap("delete units", err)
	}
	return n, nil
}

// --- observability records ---

// InsertLog appends a log entry.
func (r *Repository) InsertLog(ctx context.Context, e crawler.LogEntry) error {
	at := e.CreatedAt
	if at.IsZero() {
		at = r.now()
	}
	if _, err := r.store.Insert(ctx, Logs, Fields{
		"level":      string(e.Level),
		"message":    e.Message,
		"context":    EncodeJSON(e.Context),
		"created_at": at.UTC(),
	}); err != nil {
		return wrap("insert log", err)
	}
	return nil
}

// InsertError appends an error record.
func (r *Repository) InsertError(ctx context.Context, e crawler.ErrorRecord) error {
	at := e.CreatedAt
	if at.IsZero() {
		at = r.now()
	}
	if _, err := r.store.Insert(ctx, Errors, Fields{
		"item_kind":  e.ItemKind,
		"item_id":    e.ItemID,
		"message":    e.Message,
		"trace":      NullString(e.Trace),
		"created_at": at.UTC(),
	}); err != nil {
		return wrap("insert error", err)
	}
	return nil
}

// ListLogs returns log entries newest first, optionally filtered by level.
func (r *Repository) ListLogs(ctx context.Context, level crawler.LogLevel, limit, offset int) ([]crawler.LogEntry, error) {
	match := Match{}
	if level != "" {
		match["level"] = string(level)
	}
	rows, err := r.store.GetMany(ctx, Logs, Query{Match: match, Order: []Order{{Column: "id", Desc: true}}, Limit: limit, Offset: offset})
	if err != nil {
		return nil, wrap("list logs", err)
	}
	out := make([]crawler.LogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, crawler.LogEntry{
			ID:        row.Int64("id"),
			Level:     crawler.LogLevel(row.String("level")),
			Message:   row.String("message"),
			Context:   row.JSONMap("context"),
			CreatedAt: row.Time("created_at"),
		})
	}
	return out, nil
}

// ListErrors returns error records newest first, optionally filtered by item kind.
func (r *Repository) ListErrors(ctx context.Context, itemKind string, limit, offset int) ([]crawler.ErrorRecord, error) {
	match := Match{}
	if itemKind != "" {
		match["item_kind"] = itemKind
	}
	rows, err := r.store.GetMany(ctx, Errors, Query{Match: match, Order: []Order{{Column: "id", Desc: true}}, Limit: limit, Offset: offset})
	if err != nil {
		return nil, wrap("list errors", err)
	}
	out := make([]crawler.ErrorRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, crawler.ErrorRecord{
			ID:        row.Int64("id"),
			ItemKind:  row.String("item_kind"),
			ItemID:    row.String("item_id"),
			Message:   row.String("message"),
			Trace:     row.String("trace"),
			CreatedAt: row.Time("created_at"),
		})
	}
	return out, nil
}

// ClearLogs deletes log entries, optionally only one level.
func (r *Repository) ClearLogs(ctx context.Context, level crawler.LogLevel) (int64, error) {
	match := Match{}
	if level != "" {
		match["level"] = string(level)
	}
	n, err := r.store.Delete(ctx, Logs, match)
	if err != nil {
		return 0, wrap("clear logs", err)
	}
	return n, nil
}

// ClearErrors deletes error records, optionally only one item kind.
func (r *Repository) ClearErrors(ctx context.Context, itemKind string) (int64, error) {
	match := Match{}
	if itemKind != "" {
		match["item_kind"] = itemKind
	}
	n, err := r.store.Delete(ctx, Errors, match)
	if err != nil {
		return 0, wrap("clear errors", err)
	}
	return n, nil
}

// --- settings ---

// LoadSettings returns every stored override.
func (r *Repository) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.store.GetMany(ctx, Settings, Query{Order: []Order{{Column: "name"}}})
	if err != nil {
		return nil, wrap("load settings", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.String("name")] = row.String("value")
	}
	return out, nil
}

// SaveSetting inserts or replaces one override.
func (r *Repository) SaveSetting(ctx context.Context, name, value string) error {
	n, err := r.store.Update(ctx, Settings, Fields{"value": value, "updated_at": r.now()}, Match{"name": name})
	if err != nil {
		return wrap("save setting", err)
	}
	if n > 0 {
		return nil
	}
	_, err = r.store.Insert(ctx, Settings, Fields{"name": name, "value": value, "updated_at": r.now()})
	if errors.Is(err, ErrConflict) {
		_, err = r.store.Update(ctx, Settings, Fields{"value": value, "updated_at": r.now()}, Match{"name": name})
	}
	if err != nil {
		return wrap("save setting", err)
	}
	return nil
}

// DeleteSetting drops one override so the configured default applies again.
func (r *Repository) DeleteSetting(ctx context.Context, name string) error {
	if _, err := r.store.Delete(ctx, Settings, Match{"name": name}); err != nil {
		return wrap("delete setting", err)
	}
	return nil
}

// --- row mapping ---

func sourceFromRow(row Row) crawler.Source {
	return crawler.Source{
		ID:          row.Int64("id"),
		Name:        row.String("name"),
		URL:         row.String("url"),
		Active:      row.Bool("active"),
		LastChecked: row.TimePtr("last_checked"),
		CreatedAt:   row.Time("created_at"),
		UpdatedAt:   row.TimePtr("updated_at"),
	}
}

func collectionFromRow(row Row) crawler.Collection {
	return crawler.Collection{
		ID:             row.Int64("id"),
		SourceID:       row.Int64("source_id"),
		NativeID:       row.String("native_id"),
		ExternalRef:    row.String("external_ref"),
		Title:          row.String("title"),
		Slug:           row.String("slug"),
		Description:    row.String("description"),
		CoverURL:       row.String("cover_url"),
		Status:         row.String("status"),
		Genres:         row.Strings("genres"),
		Authors:        row.Strings("authors"),
		Artists:        row.Strings("artists"),
		LastUnitNumber: row.String("last_unit_number"),
		LastUnitDate:   row.TimePtr("last_unit_date"),
		CreatedAt:      row.Time("created_at"),
		UpdatedAt:      row.TimePtr("updated_at"),
	}
}

func unitFromRow(row Row) crawler.Unit {
	return crawler.Unit{
		ID:           row.Int64("id"),
		CollectionID: row.Int64("collection_id"),
		NativeID:     row.String("native_id"),
		ExternalRef:  row.String("external_ref"),
		Number:       row.String("number"),
		Title:        row.String("title"),
		Slug:         row.String("slug"),
		AssetPath:    row.String("asset_path"),
		MergedAsset:  row.String("merged_asset"),
		PublishedAt:  row.TimePtr("published_at"),
		Downloaded:   row.Bool("downloaded"),
		Processed:    row.Bool("processed"),
		CreatedAt:    row.Time("created_at"),
		UpdatedAt:    row.TimePtr("updated_at"),
	}
}

func collectionMatch(filter crawler.CollectionFilter) Match {
	m := Match{}
	if filter.SourceID != 0 {
		m["source_id"] = filter.SourceID
	}
	return m
}

func unitMatch(filter crawler.UnitFilter) Match {
	m := Match{}
	if filter.CollectionID != 0 {
		m["collection_id"] = filter.CollectionID
	}
	if filter.Downloaded != nil {
		m["downloaded"] = *filter.Downloaded
	}
	if filter.Processed != nil {
		m["processed"] = *filter.Processed
	}
	return m
}

// wrap keeps ErrNotFound and ErrConflict matchable and marks everything else as a storage failure.
func wrap(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &crawler.StorageError{Op: op, Err: err}
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
