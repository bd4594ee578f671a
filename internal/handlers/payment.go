package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tableside/ordering/internal/platform/httpx"
	"github.com/tableside/ordering/internal/services"
)

// PaymentHandlers bridges the embedded online payment surface: it hands out
// the surface URL and relays surface messages arriving over a websocket.
type PaymentHandlers struct {
	channel  services.EmbeddedChannel
	upgrader websocket.Upgrader
}

// NewPaymentHandlers constructs the embedded payment bridge handlers.
func NewPaymentHandlers(channel services.EmbeddedChannel) *PaymentHandlers {
	return &PaymentHandlers{
		channel: channel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			// The bridge is only reachable from the kiosk's own UI; the
			// surface origin check happens per message in the channel.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes wires the /payment endpoints onto the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/embedded", h.mount)
	r.Post("/embedded/back", h.back)
	r.Get("/embedded/bridge", h.bridge)
}

func (h *PaymentHandlers) mount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.channel == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "embedded payment is unavailable", http.StatusServiceUnavailable))
		return
	}

	surfaceURL, err := h.channel.Mount(ctx)
	if err != nil {
		if errors.Is(err, services.ErrEmbeddedNoOrder) {
			httpx.WriteError(ctx, w, httpx.NewError("no_recoverable_order", "no order is available for embedded payment", http.StatusConflict))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "embedded payment could not be prepared", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"url": surfaceURL})
}

func (h *PaymentHandlers) back(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.channel == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "embedded payment is unavailable", http.StatusServiceUnavailable))
		return
	}
	if err := h.channel.Back(ctx); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_back_failed", "back navigation cleanup failed", http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bridgeFrame is one relayed surface message: the reported origin plus the
// raw message payload, forwarded verbatim.
type bridgeFrame struct {
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

type signalFrame struct {
	Kind    string `json:"kind"`
	DelayMs int64  `json:"delayMs,omitempty"`
	Message string `json:"message,omitempty"`
}

// bridge relays embedded surface messages to the channel and streams the
// resulting signals back to the kiosk UI.
func (h *PaymentHandlers) bridge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.channel == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "embedded payment is unavailable", http.StatusServiceUnavailable))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		signal, err := h.channel.HandleMessage(ctx, frame.Origin, frame.Message)
		if err != nil {
			continue
		}
		if signal.Kind == services.SignalNone {
			continue
		}

		out := signalFrame{
			Kind:    string(signal.Kind),
			DelayMs: signal.Delay.Milliseconds(),
			Message: signal.Message,
		}
		if err := conn.WriteJSON(out); err != nil {
			return
		}
		if signal.Kind == services.SignalSuccess {
			// Let the surface finish teardown, then end the bridge session.
			deadline := time.Now().Add(signal.Delay)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "payment resolved"), deadline)
			return
		}
	}
}
