package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/httpx"
	"github.com/tableside/ordering/internal/services"
)

// OrderHandlers drives order placement, counter verification, and recovery.
type OrderHandlers struct {
	router       services.PaymentRouter
	verification services.VerificationService
	customerID   string
}

const maxOrderBodySize = 32 * 1024

// NewOrderHandlers constructs handlers bound to the kiosk's customer identity.
func NewOrderHandlers(router services.PaymentRouter, verification services.VerificationService, customerID string) *OrderHandlers {
	return &OrderHandlers{router: router, verification: verification, customerID: customerID}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.placeOrder)
	r.Get("/current", h.currentOrder)
	r.Post("/current/verification", h.verify)
	r.Post("/current/abandon", h.abandon)
	r.Post("/recovery", h.recover)
}

type billingPayload struct {
	CustomerName string `json:"customerName"`
	Phone        string `json:"phone"`
	TableNumber  string `json:"tableNumber"`
	Notes        string `json:"notes"`
}

type placeOrderRequest struct {
	PaymentMethod string         `json:"paymentMethod"`
	Billing       billingPayload `json:"billing"`
}

type orderPayload struct {
	ID            string `json:"id"`
	Subtotal      string `json:"subtotal"`
	TaxAmount     string `json:"taxAmount"`
	Total         string `json:"total"`
	PaymentMethod string `json:"paymentMethod"`
	PaymentStatus string `json:"paymentStatus"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	PaidAt        string `json:"paidAt,omitempty"`
}

type placementResponse struct {
	Order    orderPayload `json:"order"`
	NextStep string       `json:"nextStep"`
	Degraded bool         `json:"degraded,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	return orderPayload{
		ID:            order.ID,
		Subtotal:      domain.FormatAmount(order.Subtotal),
		TaxAmount:     domain.FormatAmount(order.TaxAmount),
		Total:         domain.FormatAmount(order.Total),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		Status:        string(order.Status),
		CreatedAt:     formatTime(order.CreatedAt),
		PaidAt:        formatTimePtr(order.PaidAt),
	}
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.router == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentMethod must be one of online, card, cash", http.StatusBadRequest))
		return
	}

	result, err := h.router.PlaceOrder(ctx, services.PlaceOrderRequest{
		CustomerID: h.customerID,
		Method:     method,
		Billing: domain.BillingDetails{
			CustomerName: strings.TrimSpace(req.Billing.CustomerName),
			Phone:        strings.TrimSpace(req.Billing.Phone),
			TableNumber:  strings.TrimSpace(req.Billing.TableNumber),
			Notes:        strings.TrimSpace(req.Billing.Notes),
		},
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, placementResponse{
		Order:    buildOrderPayload(result.Order),
		NextStep: string(result.NextStep),
		Degraded: result.Degraded,
	})
}

func (h *OrderHandlers) currentOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.router == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID, ok := h.router.CurrentOrderID()
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("no_current_order", "no order is in flight", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"orderId": orderID,
		"state":   string(h.router.State()),
	})
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (h *OrderHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verification == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "verification service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req verifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	outcome, err := h.verification.Submit(ctx, req.Code)
	if err != nil {
		var mismatch *services.VerificationMismatchError
		switch {
		case errors.As(err, &mismatch):
			// Retries are unlimited; the mismatch carries what was compared.
			httpx.WriteError(ctx, w, httpx.NewError("verification_mismatch", "entered code does not match", http.StatusUnprocessableEntity).
				WithDetails(map[string]any{"entered": mismatch.Entered, "source": mismatch.Source}))
		case errors.Is(err, services.ErrVerificationNoOrder):
			httpx.WriteError(ctx, w, httpx.NewError("no_current_order", "no order is awaiting verification", http.StatusConflict))
		case errors.Is(err, services.ErrVerificationUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "no expected code is available", http.StatusConflict))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("verification_failed", "verification could not be completed", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"orderId": outcome.OrderID,
		"source":  outcome.Source,
	})
}

func (h *OrderHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.router == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if err := h.router.Abandon(ctx); err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) recover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.router == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	state, ok := h.router.Recover(ctx)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"orderId": state.OrderID,
		"state":   string(h.router.State()),
	})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrRouterEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no lines to order", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrRouterInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRouterInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_state_conflict", "order is not in a state that allows this action", http.StatusConflict))
	case errors.Is(err, services.ErrRouterPersistence):
		httpx.WriteError(ctx, w, httpx.NewError("order_persistence_failed", "order state could not be persisted", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_failed", "order operation failed", http.StatusInternalServerError))
	}
}
