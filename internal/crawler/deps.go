package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Deps are the collaborators shared by the crawl components. Merger and
// Publisher are optional; the rest default to inert implementations.
type Deps struct {
	Catalog   Catalog
	Fetcher   Fetcher
	Queue     Enqueuer
	Blobs     BlobStore
	Merger    PostProcessor
	Publisher Publisher
	Observer  Observer
	Settings  SettingsSource
	Pauser    Pauser
	Clock     Clock
	Logger    *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Observer == nil {
		d.Observer = NopObserver{}
	}
	if d.Settings == nil {
		d.Settings = StaticSettings(DefaultSettings())
	}
	if d.Pauser == nil {
		d.Pauser = TimerPauser{}
	}
	if d.Clock == nil {
		d.Clock = utcClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Clock.Now().UTC()
}

func (d Deps) settings(ctx context.Context) (Settings, error) {
	s, err := d.Settings.Current(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// fail logs err at error level and records it against the item.
func (d Deps) fail(ctx context.Context, kind, itemID, message string, err error) {
	d.Observer.Log(ctx, LevelError, message, map[string]any{"item_kind": kind, "item_id": itemID, "error": err.Error()})
	d.Observer.RecordError(ctx, ErrorRecord{ItemKind: kind, ItemID: itemID, Message: message + ": " + err.Error()})
}

// NopObserver discards everything.
type NopObserver struct{}

// Log does nothing.
func (NopObserver) Log(context.Context, LogLevel, string, map[string]any) {}

// RecordError does nothing.
func (NopObserver) RecordError(context.Context, ErrorRecord) {}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// isCanceled reports whether err came from ctx being done.
func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
