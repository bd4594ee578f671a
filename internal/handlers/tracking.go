package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tableside/ordering/internal/platform/httpx"
	"github.com/tableside/ordering/internal/services"
)

// TrackingHandlers streams order status snapshots to the kiosk UI.
type TrackingHandlers struct {
	tracking   services.TrackingService
	customerID string
	upgrader   websocket.Upgrader
}

// NewTrackingHandlers constructs the tracking feed handlers bound to the
// kiosk's customer identity.
func NewTrackingHandlers(tracking services.TrackingService, customerID string) *TrackingHandlers {
	return &TrackingHandlers{
		tracking:   tracking,
		customerID: customerID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes wires the /tracking endpoints onto the provided router.
func (h *TrackingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/feed", h.feed)
}

type trackedOrderPayload struct {
	Order         orderPayload `json:"order"`
	DisplayStatus string       `json:"displayStatus"`
	DeliveredAt   string       `json:"deliveredAt,omitempty"`
}

// feed upgrades to a websocket and writes one snapshot per record change.
// Closing the socket cancels the subscription and its hide timers.
func (h *TrackingHandlers) feed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tracking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("tracking_unavailable", "tracking is unavailable", http.StatusServiceUnavailable))
		return
	}

	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshots, err := h.tracking.Start(feedCtx, h.customerID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("tracking_unavailable", "tracking subscription failed", http.StatusServiceUnavailable))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reader goroutine: the UI sends nothing, but a read error is how we
	// learn the socket is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snapshot := range snapshots {
		payload := make([]trackedOrderPayload, 0, len(snapshot))
		for _, tracked := range snapshot {
			payload = append(payload, trackedOrderPayload{
				Order:         buildOrderPayload(tracked.Order),
				DisplayStatus: string(tracked.DisplayStatus),
				DeliveredAt:   formatTimePtr(tracked.DeliveredAt),
			})
		}
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "feed ended"),
		time.Now().Add(time.Second))
}
