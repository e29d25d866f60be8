package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes order completion events keyed by order id, so every event for an order lands
// on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	now    func() time.Time
}

var _ services.OrderNotifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier constructs a synchronous writer against brokers.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka notifier: brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka notifier: topic is required")
	}
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}), nil
}

func newKafkaNotifier(writer messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, now: time.Now}
}

func (n *KafkaNotifier) OrderCompleted(ctx context.Context, order domain.Order) error {
	data, err := encodeOrderCompleted(order, n.now())
	if err != nil {
		return fmt.Errorf("kafka notifier: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(order.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(EventTypeOrderCompleted)},
			{Key: "storefront", Value: []byte(order.Storefront.String())},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka notifier: write %s: %w", order.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
