package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/atelier-sucre/api/internal/services"
)

// PubSubEventPublisher publishes domain events to a Pub/Sub topic consumed by
// notification and analytics workers.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var (
	_ services.OrderEventPublisher       = (*PubSubEventPublisher)(nil)
	_ services.TestimonialEventPublisher = (*PubSubEventPublisher)(nil)
)

// NewPubSubEventPublisher constructs a Pub/Sub backed domain event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type orderEventPayload struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent enqueues an order lifecycle event on the configured topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(orderEventPayload{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt,
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", event.CurrentStatus)

	return p.publish(ctx, data, attrs)
}

type testimonialEventPayload struct {
	Type          string    `json:"type"`
	TestimonialID string    `json:"testimonialId"`
	Rating        int       `json:"rating,omitempty"`
	ActorID       string    `json:"actorId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PublishTestimonialEvent enqueues a testimonial lifecycle event on the configured topic.
func (p *PubSubEventPublisher) PublishTestimonialEvent(ctx context.Context, event services.TestimonialEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(testimonialEventPayload{
		Type:          event.Type,
		TestimonialID: event.TestimonialID,
		Rating:        event.Rating,
		ActorID:       event.ActorID,
		OccurredAt:    event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal testimonial event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "testimonialId", event.TestimonialID)

	return p.publish(ctx, data, attrs)
}

func (p *PubSubEventPublisher) publish(ctx context.Context, data []byte, attrs map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
