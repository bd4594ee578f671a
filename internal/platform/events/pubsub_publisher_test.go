package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPubSubOrderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-lifecycle")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}

	event := OrderEvent{
		Type:          EventOrderPaid,
		TenantID:      "tenant-1",
		CustomerID:    "kiosk-3",
		OrderID:       "ORD-20260831-0042",
		PaymentMethod: "cash",
		Total:         "18.20",
		OccurredAt:    time.Date(2026, 8, 31, 12, 30, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.Type != EventOrderPaid {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.EventID == "" {
		t.Fatal("expected generated event id")
	}
	if attr := messages[0].Attributes["orderId"]; attr != event.OrderID {
		t.Fatalf("expected orderId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["type"]; attr != EventOrderPaid {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestPubSubOrderPublisherValidatesEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-lifecycle")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}

	if _, err := publisher.PublishOrderEvent(ctx, OrderEvent{OrderID: "ORD-20260831-0001"}); err == nil {
		t.Fatal("expected error for missing event type")
	}
	if _, err := publisher.PublishOrderEvent(ctx, OrderEvent{Type: EventOrderPlaced}); err == nil {
		t.Fatal("expected error for missing order id")
	}
}
