// Package pubsub implements the topic transport on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// Publisher routes payloads to one Pub/Sub publisher per topic.
type Publisher struct {
	publishers map[string]*pubsub.Publisher
}

// New creates a Publisher for the provided topic publishers, keyed by topic.
func New(publishers map[string]*pubsub.Publisher) *Publisher {
	return &Publisher{publishers: publishers}
}

// Open creates one publisher per topic from client.
func Open(client *pubsub.Client, topics ...string) *Publisher {
	publishers := make(map[string]*pubsub.Publisher, len(topics))
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if _, ok := publishers[topic]; !ok {
			publishers[topic] = client.Publisher(topic)
		}
	}
	return New(publishers)
}

// Publish marshals the payload to JSON and publishes it, returning the server message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	publisher := p.publishers[topic]
	if publisher == nil {
		return "", fmt.Errorf("pubsub publisher for topic %q is not configured", topic)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	msg.Attributes = make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes and stops every topic publisher.
func (p *Publisher) Stop() {
	for _, publisher := range p.publishers {
		publisher.Stop()
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
