package crawler

import (
	"net/http"
	"net/url"
	"time"
)

// ItemKind discriminates the two kinds of deferred crawl work.
type ItemKind string

// Queue item kinds.
const (
	KindCollection ItemKind = "collection"
	KindUnit       ItemKind = "unit"
)

// Valid reports whether k is a known kind.
func (k ItemKind) Valid() bool {
	return k == KindCollection || k == KindUnit
}

// QueueStatus represents the lifecycle state of a queue item.
type QueueStatus string

// Queue status values persisted in the queue entity.
const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// Valid reports whether s is a known status.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Source is a registered Madara site.
type Source struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Active      bool       `json:"active"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Collection is a cataloged work (a manga) discovered on a source.
type Collection struct {
	ID             int64      `json:"id"`
	SourceID       int64      `json:"source_id"`
	NativeID       string     `json:"native_id"`
	ExternalRef    string     `json:"external_ref,omitempty"`
	Title          string     `json:"title"`
	Slug           string     `json:"slug"`
	Description    string     `json:"description"`
	CoverURL       string     `json:"cover_url"`
	Status         string     `json:"status"`
	Genres         []string   `json:"genres"`
	Authors        []string   `json:"authors"`
	Artists        []string   `json:"artists"`
	LastUnitNumber string     `json:"last_unit_number,omitempty"`
	LastUnitDate   *time.Time `json:"last_unit_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Unit is one ordered sub-item (a chapter) of a Collection.
type Unit struct {
	ID           int64      `json:"id"`
	CollectionID int64      `json:"collection_id"`
	NativeID     string     `json:"native_id"`
	ExternalRef  string     `json:"external_ref,omitempty"`
	Number       string     `json:"number"`
	Title        string     `json:"title"`
	Slug         string     `json:"slug"`
	AssetPath    string     `json:"asset_path,omitempty"`
	MergedAsset  string     `json:"merged_asset,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Downloaded   bool       `json:"downloaded"`
	Processed    bool       `json:"processed"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// QueueItem is one durable, retryable, prioritized unit of deferred work.
type QueueItem struct {
	ID           int64       `json:"id"`
	Kind         ItemKind    `json:"kind"`
	NativeID     string      `json:"native_id"`
	SourceID     int64       `json:"source_id"`
	Priority     int         `json:"priority"`
	Status       QueueStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"max_attempts"`
	LastAttempt  *time.Time  `json:"last_attempt,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    *time.Time  `json:"updated_at,omitempty"`
}

// Exhausted reports whether the item has used up its attempts.
func (q QueueItem) Exhausted() bool {
	return q.MaxAttempts != 0 && q.Attempts >= q.MaxAttempts
}

// LogLevel is the severity of an observability log entry.
type LogLevel string

// Supported log levels.
const (
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogEntry is a persisted observability log line.
type LogEntry struct {
	ID        int64          `json:"id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ErrorRecord is a persisted per-item failure record.
type ErrorRecord struct {
	ID        int64     `json:"id"`
	ItemKind  string    `json:"item_kind"`
	ItemID    string    `json:"item_id"`
	Message   string    `json:"message"`
	Trace     string    `json:"trace,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Method  string
	Form    url.Values
	Headers http.Header
}

// FetchResponse stores the fetch output.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// ContentType returns the response content type header.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// CrawlReport summarizes a listing walk.
type CrawlReport struct {
	Pages    int `json:"pages"`
	Enqueued int `json:"enqueued"`
	Failures int `json:"failures"`
}

// UnitReport summarizes a unit check for one collection.
type UnitReport struct {
	Found    int `json:"found"`
	New      int `json:"new"`
	Enqueued int `json:"enqueued"`
}

// DownloadReport summarizes one unit asset download.
type DownloadReport struct {
	Discovered int      `json:"discovered"`
	Stored     []string `json:"stored"`
	Failed     int      `json:"failed"`
	Merged     string   `json:"merged,omitempty"`
	Published  string   `json:"published,omitempty"`
}
