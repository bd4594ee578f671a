package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	domain "github.com/tableside/ordering/internal/domain"
)

func TestTrackingFeedStreamsSnapshots(t *testing.T) {
	snapshots := make(chan []domain.TrackedOrder, 2)
	tracking := &stubTrackingService{
		startFn: func(_ context.Context, customerID string) (<-chan []domain.TrackedOrder, error) {
			if customerID != "kiosk-1" {
				t.Fatalf("unexpected customer id %q", customerID)
			}
			return snapshots, nil
		},
	}

	r := chi.NewRouter()
	r.Route("/tracking", NewTrackingHandlers(tracking, "kiosk-1").Routes)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/tracking/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close()

	delivered := time.Date(2026, 8, 31, 11, 58, 0, 0, time.UTC)
	snapshots <- []domain.TrackedOrder{
		{
			Order:         domain.Order{ID: "ORD-20260831-0042", Status: domain.OrderStatusDelivered},
			DisplayStatus: domain.OrderStatusDelivered,
			DeliveredAt:   &delivered,
		},
	}

	var payload []trackedOrderPayload
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(payload) != 1 || payload[0].Order.ID != "ORD-20260831-0042" {
		t.Fatalf("unexpected snapshot %#v", payload)
	}
	if payload[0].DisplayStatus != "delivered" || payload[0].DeliveredAt == "" {
		t.Fatalf("unexpected delivered view %#v", payload[0])
	}

	snapshots <- nil
	var empty []trackedOrderPayload
	if err := conn.ReadJSON(&empty); err != nil {
		t.Fatalf("read empty snapshot: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty snapshot, got %#v", empty)
	}

	close(snapshots)
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected feed to close after the subscription ends")
	}
}
