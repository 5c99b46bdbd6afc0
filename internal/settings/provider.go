// Package settings serves the runtime-adjustable crawl knobs: configuration
// defaults overlaid with operator overrides stored in the settings table.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

// Store persists overrides. store.Repository satisfies it.
type Store interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, name, value string) error
}

// Provider implements crawler.SettingsSource. Nothing is cached: every call
// re-reads the overrides so changes apply on the next run.
type Provider struct {
	defaults crawler.Settings
	store    Store
}

var _ crawler.SettingsSource = (*Provider)(nil)

// NewProvider builds a Provider. A nil store serves the defaults only.
func NewProvider(defaults crawler.Settings, store Store) *Provider {
	return &Provider{defaults: defaults, store: store}
}

// Defaults returns the configured baseline.
func (p *Provider) Defaults() crawler.Settings {
	return p.defaults
}

// Current returns the defaults with stored overrides applied. A stored value
// that no longer decodes is ignored rather than failing the run.
func (p *Provider) Current(ctx context.Context) (crawler.Settings, error) {
	if p.store == nil {
		return p.defaults, nil
	}
	overrides, err := p.store.LoadSettings(ctx)
	if err != nil {
		return crawler.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	current := p.defaults
	for name, value := range overrides {
		next := current
		if err := decode(map[string]string{name: value}, &next); err != nil {
			continue
		}
		current = next
	}
	return current, nil
}

// Update validates and stores overrides, returning the resulting settings.
// Unknown names and out-of-range values are validation errors; nothing is
// written unless every value is valid.
func (p *Provider) Update(ctx context.Context, overrides map[string]string) (crawler.Settings, error) {
	if p.store == nil {
		return crawler.Settings{}, crawler.Invalid("settings", "no settings store configured")
	}
	current, err := p.Current(ctx)
	if err != nil {
		return crawler.Settings{}, err
	}
	if err := decode(overrides, &current); err != nil {
		return crawler.Settings{}, crawler.Invalid("settings", err.Error())
	}
	if err := Validate(current); err != nil {
		return crawler.Settings{}, err
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := p.store.SaveSetting(ctx, name, strings.TrimSpace(overrides[name])); err != nil {
			return crawler.Settings{}, fmt.Errorf("save setting %s: %w", name, err)
		}
	}
	return current, nil
}

// Validate checks the ranges the engine relies on.
func Validate(s crawler.Settings) error {
	switch {
	case s.RequestDelay < 0:
		return crawler.Invalid("request_delay", "must be >= 0")
	case s.AssetDelay < 0:
		return crawler.Invalid("asset_delay", "must be >= 0")
	case s.MaxPages < 1:
		return crawler.Invalid("max_pages", "must be >= 1")
	case s.MaxEmptyPages < 1:
		return crawler.Invalid("max_empty_pages", "must be >= 1")
	case s.MaxAttempts < 1:
		return crawler.Invalid("max_attempts", "must be >= 1")
	case s.BatchSize < 1:
		return crawler.Invalid("batch_size", "must be >= 1")
	case s.CheckInterval <= 0:
		return crawler.Invalid("check_interval", "must be > 0")
	case s.QueueInterval <= 0:
		return crawler.Invalid("queue_interval", "must be > 0")
	case s.MaxNewCollections < 0, s.MaxCollectionsChecked < 0, s.MaxNewUnits < 0:
		return crawler.Invalid("max_new", "limits must be >= 0")
	}
	switch s.MergeFormat {
	case "avif", "webp", "png", "jpeg", "jpg":
	default:
		return crawler.Invalid("merge_format", fmt.Sprintf("unsupported format %q", s.MergeFormat))
	}
	return nil
}

// decode applies string overrides onto out using the json field names.
// Durations accept Go syntax ("90s", "24h").
func decode(overrides map[string]string, out *crawler.Settings) error {
	input := make(map[string]any, len(overrides))
	for k, v := range overrides {
		input[k] = strings.TrimSpace(v)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("settings decoder: %w", err)
	}
	return dec.Decode(input)
}
