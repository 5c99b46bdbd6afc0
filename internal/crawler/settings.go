package crawler

import (
	"context"
	"time"
)

// Settings are the runtime-adjustable knobs read at the start of every run.
type Settings struct {
	RequestDelay          time.Duration `json:"request_delay"`
	AssetDelay            time.Duration `json:"asset_delay"`
	MaxPages              int           `json:"max_pages"`
	MaxEmptyPages         int           `json:"max_empty_pages"`
	DefaultPriority       int           `json:"default_priority"`
	MaxAttempts           int           `json:"max_attempts"`
	BatchSize             int           `json:"batch_size"`
	CheckInterval         time.Duration `json:"check_interval"`
	QueueInterval         time.Duration `json:"queue_interval"`
	CheckNewCollections   bool          `json:"check_new_collections"`
	CheckNewUnits         bool          `json:"check_new_units"`
	MaxNewCollections     int           `json:"max_new_collections"`
	MaxCollectionsChecked int           `json:"max_collections_checked"`
	MaxNewUnits           int           `json:"max_new_units"`
	RetryFailedEachTick   bool          `json:"retry_failed_each_tick"`
	MergeAssets           bool          `json:"merge_assets"`
	MergeFormat           string        `json:"merge_format"`
}

// DefaultSettings mirrors the stock plugin configuration.
func DefaultSettings() Settings {
	return Settings{
		RequestDelay:          2 * time.Second,
		AssetDelay:            500 * time.Millisecond,
		MaxPages:              100,
		MaxEmptyPages:         3,
		DefaultPriority:       5,
		MaxAttempts:           3,
		BatchSize:             5,
		CheckInterval:         24 * time.Hour,
		QueueInterval:         5 * time.Minute,
		CheckNewCollections:   true,
		CheckNewUnits:         true,
		MaxNewCollections:     10,
		MaxCollectionsChecked: 10,
		MaxNewUnits:           5,
		MergeAssets:           true,
		MergeFormat:           "avif",
	}
}

// StaticSettings serves fixed settings; tests and one-shot commands use it.
type StaticSettings Settings

// Current returns the fixed settings.
func (s StaticSettings) Current(_ context.Context) (Settings, error) {
	return Settings(s), nil
}
