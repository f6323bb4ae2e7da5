package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/Francovarelav/pickpackpromx/internal/services"
)

// PubSubEventPublisher publishes fulfillment events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.FulfillmentEventPublisher = (*PubSubEventPublisher)(nil)

// NewPubSubEventPublisher constructs a Pub/Sub backed fulfillment event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	// Events for one cart are delivered in publish order.
	topic.EnableMessageOrdering = true
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishFulfillmentEvent publishes the event and waits for the server acknowledgement.
func (p *PubSubEventPublisher) PublishFulfillmentEvent(ctx context.Context, event services.FulfillmentEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if strings.TrimSpace(event.CartID) == "" {
		return errors.New("pubsub event publisher: cart id is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal fulfillment event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", string(event.Type))
	setAttr(attrs, "cartId", event.CartID)
	setAttr(attrs, "phase", string(event.Phase))
	setAttr(attrs, "status", string(event.Status))
	setAttr(attrs, "operator", event.Operator)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(event.CartID),
	})

	if _, err := result.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		p.topic.ResumePublish(strings.TrimSpace(event.CartID))
		return fmt.Errorf("publish fulfillment event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
