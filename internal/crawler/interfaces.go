package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher executes a single HTTP exchange without retrying.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// BlobStore persists downloaded assets.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// LocalPather is implemented by blob stores whose objects live on the local disk.
type LocalPather interface {
	LocalPath(path string) (string, bool)
}

// PostProcessor combines a unit's ordered assets into one artifact.
type PostProcessor interface {
	Merge(ctx context.Context, paths []string, stem string, format string) (string, error)
}

// Publisher materializes scraped records in an external system and returns opaque refs.
type Publisher interface {
	PublishCollection(ctx context.Context, c Collection) (string, error)
	PublishUnit(ctx context.Context, u Unit, assets []string, collectionRef string) (string, error)
}

// Observer is the leveled log and error-record sink.
type Observer interface {
	Log(ctx context.Context, level LogLevel, message string, fields map[string]any)
	RecordError(ctx context.Context, rec ErrorRecord)
}

// Enqueuer accepts deferred work.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind ItemKind, nativeID string, sourceID int64, priority int) (int64, error)
}

// SettingsSource returns the runtime-adjustable knobs; callers read it on every run.
type SettingsSource interface {
	Current(ctx context.Context) (Settings, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates opaque correlation identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Catalog is the typed persistence the crawlers work against.
type Catalog interface {
	GetSource(ctx context.Context, id int64) (Source, error)
	FindSourceByURL(ctx context.Context, url string) (Source, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]Source, error)
	InsertSource(ctx context.Context, s Source) (int64, error)
	UpdateSource(ctx context.Context, s Source) error
	SetSourceActive(ctx context.Context, id int64, active bool) error
	TouchSource(ctx context.Context, id int64, at time.Time) error
	DeleteSource(ctx context.Context, id int64) (int64, error)

	GetCollection(ctx context.Context, id int64) (Collection, error)
	FindCollection(ctx context.Context, sourceID int64, nativeID string) (Collection, error)
	ListCollections(ctx context.Context, filter CollectionFilter) ([]Collection, error)
	CountCollections(ctx context.Context, filter CollectionFilter) (int64, error)
	UpsertCollection(ctx context.Context, c Collection) (Collection, error)
	UpdateCollectionRef(ctx context.Context, id int64, ref string) error
	UpdateLastUnit(ctx context.Context, id int64, number string, date *time.Time) error
	DeleteCollection(ctx context.Context, id int64) (int64, error)

	GetUnit(ctx context.Context, id int64) (Unit, error)
	FindUnit(ctx context.Context, collectionID int64, nativeID string) (Unit, error)
	ListUnits(ctx context.Context, filter UnitFilter) ([]Unit, error)
	CountUnits(ctx context.Context, filter UnitFilter) (int64, error)
	InsertUnit(ctx context.Context, u Unit) (int64, error)
	MarkUnitDownloaded(ctx context.Context, id int64, assetPath string) error
	SetUnitMerged(ctx context.Context, id int64, merged string) error
	MarkUnitProcessed(ctx context.Context, id int64, ref string) error
	DeleteUnits(ctx context.Context, collectionID int64) (int64, error)
}

// SourceFilter narrows source listings.
type SourceFilter struct {
	Active *bool
	Limit  int
	Offset int
}

// CollectionFilter narrows collection listings.
type CollectionFilter struct {
	SourceID int64
	Limit    int
	Offset   int
}

// UnitFilter narrows unit listings.
type UnitFilter struct {
	CollectionID int64
	Downloaded   *bool
	Processed    *bool
	Limit        int
	Offset       int
}
