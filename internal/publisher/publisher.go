// Package publisher turns cataloged collections and units into outbound
// messages and hands them to a topic transport (Pub/Sub or in-memory).
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/extract"
)

// Sender delivers one payload to a topic and returns the transport's message id.
type Sender interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Topics names the destination of each record kind.
type Topics struct {
	Collections string `mapstructure:"collection_topic"`
	Units       string `mapstructure:"unit_topic"`
}

// CollectionMessage is the payload announcing a collection.
type CollectionMessage struct {
	SourceID    int64    `json:"source_id"`
	NativeID    string   `json:"native_id"`
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	Description string   `json:"description,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Status      string   `json:"status"`
	Genres      []string `json:"genres,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Artists     []string `json:"artists,omitempty"`
}

// UnitMessage is the payload announcing a downloaded unit.
type UnitMessage struct {
	CollectionRef string     `json:"collection_ref"`
	NativeID      string     `json:"native_id"`
	Number        string     `json:"number"`
	Label         string     `json:"label"`
	Slug          string     `json:"slug"`
	Assets        []string   `json:"assets"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

// Publisher implements crawler.Publisher on top of a Sender; the returned
// message ids become the external refs.
type Publisher struct {
	sender Sender
	topics Topics
}

var _ crawler.Publisher = (*Publisher)(nil)

// New validates topics and builds a Publisher.
func New(sender Sender, topics Topics) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("publisher: sender is required")
	}
	if topics.Collections == "" || topics.Units == "" {
		return nil, errors.New("publisher: collection and unit topics are required")
	}
	return &Publisher{sender: sender, topics: topics}, nil
}

// PublishCollection announces c with its status normalized.
func (p *Publisher) PublishCollection(ctx context.Context, c crawler.Collection) (string, error) {
	id, err := p.sender.Publish(ctx, p.topics.Collections, CollectionMessage{
		SourceID:    c.SourceID,
		NativeID:    c.NativeID,
		Title:       c.Title,
		Slug:        c.Slug,
		Description: c.Description,
		CoverURL:    c.CoverURL,
		Status:      extract.MapStatus(c.Status),
		Genres:      c.Genres,
		Authors:     c.Authors,
		Artists:     c.Artists,
	})
	if err != nil {
		return "", fmt.Errorf("publish collection %s: %w", c.NativeID, err)
	}
	return id, nil
}

// PublishUnit announces u under the collection identified by collectionRef.
func (p *Publisher) PublishUnit(ctx context.Context, u crawler.Unit, assets []string, collectionRef string) (string, error) {
	if collectionRef == "" {
		return "", crawler.Invalid("collection_ref", "unit cannot be published before its collection")
	}
	id, err := p.sender.Publish(ctx, p.topics.Units, UnitMessage{
		CollectionRef: collectionRef,
		NativeID:      u.NativeID,
		Number:        u.Number,
		Label:         extract.UnitLabel(u.Number, u.Title),
		Slug:          u.Slug,
		Assets:        assets,
		PublishedAt:   u.PublishedAt,
	})
	if err != nil {
		return "", fmt.Errorf("publish unit %s: %w", u.NativeID, err)
	}
	return id, nil
}
