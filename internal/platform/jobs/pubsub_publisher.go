package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/shopfront/api/internal/services"
)

// PubSubStatusPublisher publishes order status changes to a Pub/Sub topic for durable consumers.
type PubSubStatusPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.StatusPublisher = (*PubSubStatusPublisher)(nil)

// NewPubSubStatusPublisher constructs a Pub/Sub backed status publisher.
func NewPubSubStatusPublisher(topic *pubsub.Topic) (*PubSubStatusPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub status publisher: topic is required")
	}
	return &PubSubStatusPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishStatus sends the event and waits for the server acknowledgement.
func (p *PubSubStatusPublisher) PublishStatus(ctx context.Context, event services.OrderStatusEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub status publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "channel", event.Channel)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.Status)
	setAttr(attrs, "previousStatus", event.PreviousStatus)

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	// Keeps updates for one order in publish order when the topic has ordering enabled.
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.OrderID
	}

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubStatusPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
