package events

import (
	"context"
	"time"

	domain "github.com/tableside/ordering/internal/domain"
)

// OrderEventSink adapts the Pub/Sub publisher to the lifecycle hook the
// payment flow calls. It owns the mapping from domain orders to wire events.
type OrderEventSink struct {
	publisher *PubSubOrderPublisher
	tenantID  string
}

// NewOrderEventSink wraps a publisher for one tenant.
func NewOrderEventSink(publisher *PubSubOrderPublisher, tenantID string) *OrderEventSink {
	return &OrderEventSink{publisher: publisher, tenantID: tenantID}
}

// PublishOrderEvent maps the order to an OrderEvent and publishes it.
func (s *OrderEventSink) PublishOrderEvent(ctx context.Context, eventType string, customerID string, order domain.Order, at time.Time) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	_, err := s.publisher.PublishOrderEvent(ctx, OrderEvent{
		Type:          eventType,
		TenantID:      s.tenantID,
		CustomerID:    customerID,
		OrderID:       order.ID,
		PaymentMethod: string(order.PaymentMethod),
		Total:         domain.FormatAmount(order.Total),
		OccurredAt:    at,
	})
	return err
}
