package crawler

import (
	"context"
	"fmt"
)

// Dispatcher executes claimed queue items against the crawlers.
type Dispatcher struct {
	catalog     Catalog
	collections *CollectionCrawler
	units       *UnitCrawler
}

// NewDispatcher wires the two crawl kinds behind one executor.
func NewDispatcher(catalog Catalog, collections *CollectionCrawler, units *UnitCrawler) *Dispatcher {
	return &Dispatcher{catalog: catalog, collections: collections, units: units}
}

// Execute runs one item. A vanished source or malformed id is a validation
// error, which the queue treats as terminal.
func (d *Dispatcher) Execute(ctx context.Context, item QueueItem) error {
	src, err := d.catalog.GetSource(ctx, item.SourceID)
	if IsNotFound(err) {
		return Invalid("source_id", fmt.Sprintf("source %d no longer exists", item.SourceID))
	}
	if err != nil {
		return err
	}

	switch item.Kind {
	case KindCollection:
		_, _, err := d.collections.ScrapeCollection(ctx, src, item.NativeID)
		return err
	case KindUnit:
		collectionID, unitID, err := ParseUnitItemID(item.NativeID)
		if err != nil {
			return err
		}
		_, err = d.units.ScrapeUnit(ctx, src, collectionID, unitID)
		return err
	default:
		return Invalid("kind", fmt.Sprintf("unknown kind %q", item.Kind))
	}
}
