package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

// PubSubNotifier publishes order completion events to a Pub/Sub topic.
type PubSubNotifier struct {
	topic *pubsub.Topic
	now   func() time.Time
}

var _ services.OrderNotifier = (*PubSubNotifier)(nil)

// NewPubSubNotifier constructs a notifier publishing to topic.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	return &PubSubNotifier{topic: topic, now: time.Now}, nil
}

// OrderCompleted blocks until Pub/Sub acknowledges the publish so callers can report failures.
func (n *PubSubNotifier) OrderCompleted(ctx context.Context, order domain.Order) error {
	data, err := encodeOrderCompleted(order, n.now())
	if err != nil {
		return fmt.Errorf("pubsub notifier: marshal event: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"eventType":  EventTypeOrderCompleted,
			"orderId":    order.ID,
			"storefront": order.Storefront.String(),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub notifier: publish %s: %w", order.ID, err)
	}
	return nil
}

// Close flushes pending publishes.
func (n *PubSubNotifier) Close() error {
	n.topic.Stop()
	return nil
}
