// Package events publishes order lifecycle events to Pub/Sub so back of
// house systems can react to placements, payments, and abandonments.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
)

// Event types emitted over the order lifecycle topic.
const (
	EventOrderPlaced    = "order.placed"
	EventOrderPaid      = "order.paid"
	EventOrderAbandoned = "order.abandoned"
)

// OrderEvent is the JSON payload published for each lifecycle transition.
type OrderEvent struct {
	EventID       string    `json:"eventId"`
	Type          string    `json:"type"`
	TenantID      string    `json:"tenantId"`
	CustomerID    string    `json:"customerId"`
	OrderID       string    `json:"orderId"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
	Total         string    `json:"total,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PubSubOrderPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// PublishOrderEvent enqueues a lifecycle event on the configured topic.
// A missing EventID is filled in with a fresh ULID.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" {
		return "", errors.New("pubsub order publisher: event type is required")
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return "", errors.New("pubsub order publisher: order id is required")
	}

	if strings.TrimSpace(event.EventID) == "" {
		event.EventID = p.newEventID(event.OccurredAt)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "tenantId", event.TenantID)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "paymentMethod", event.PaymentMethod)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

func (p *PubSubOrderPublisher) newEventID(at time.Time) string {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), p.entropy).String()
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
