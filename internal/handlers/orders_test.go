package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/services"
)

func newOrderServer(t *testing.T, router *stubPaymentRouter, verification *stubVerificationService) *httptest.Server {
	t.Helper()
	if router == nil {
		router = &stubPaymentRouter{}
	}
	if verification == nil {
		verification = &stubVerificationService{}
	}
	r := chi.NewRouter()
	r.Route("/orders", NewOrderHandlers(router, verification, "kiosk-1").Routes)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestPlaceOrderReturnsPlacement(t *testing.T) {
	created := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	router := &stubPaymentRouter{
		placeFn: func(_ context.Context, req services.PlaceOrderRequest) (services.PlacementResult, error) {
			if req.CustomerID != "kiosk-1" {
				t.Fatalf("expected kiosk identity, got %q", req.CustomerID)
			}
			if req.Method != domain.PaymentMethodCash {
				t.Fatalf("expected cash, got %q", req.Method)
			}
			return services.PlacementResult{
				Order: domain.Order{
					ID:            "ORD-20260831-0042",
					Subtotal:      decimal.RequireFromString("100.00"),
					TaxAmount:     decimal.RequireFromString("4.00"),
					Total:         decimal.RequireFromString("104.00"),
					PaymentMethod: domain.PaymentMethodCash,
					PaymentStatus: domain.PaymentStatusUnpaid,
					Status:        domain.OrderStatusPending,
					CreatedAt:     created,
				},
				NextStep: services.PaymentStepVerification,
			}, nil
		},
	}
	server := newOrderServer(t, router, nil)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/orders",
		`{"paymentMethod":"CASH","billing":{"customerName":"Ada","phone":"555-0101","tableNumber":"4"}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if payload["nextStep"] != "verification" {
		t.Fatalf("expected verification step, got %v", payload["nextStep"])
	}
	order := payload["order"].(map[string]any)
	if order["total"] != "104.00" || order["id"] != "ORD-20260831-0042" {
		t.Fatalf("unexpected order payload %v", order)
	}
}

func TestPlaceOrderRejectsUnknownMethod(t *testing.T) {
	server := newOrderServer(t, nil, nil)
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/orders",
		`{"paymentMethod":"barter","billing":{"customerName":"Ada"}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if payload["error"] != "invalid_request" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
}

func TestPlaceOrderEmptyCartMapsToUnprocessable(t *testing.T) {
	router := &stubPaymentRouter{
		placeFn: func(context.Context, services.PlaceOrderRequest) (services.PlacementResult, error) {
			return services.PlacementResult{}, services.ErrRouterEmptyCart
		},
	}
	server := newOrderServer(t, router, nil)
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/orders",
		`{"paymentMethod":"cash","billing":{"customerName":"Ada"}}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if payload["error"] != "cart_empty" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
}

func TestVerifyMismatchCarriesEnteredAndSource(t *testing.T) {
	verification := &stubVerificationService{
		submitFn: func(_ context.Context, entered string) (services.VerificationOutcome, error) {
			return services.VerificationOutcome{}, &services.VerificationMismatchError{Entered: "9999", Source: "session"}
		},
	}
	server := newOrderServer(t, nil, verification)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/orders/current/verification", `{"code":"9999"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if payload["error"] != "verification_mismatch" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
	if payload["entered"] != "9999" || payload["source"] != "session" {
		t.Fatalf("expected mismatch details, got %v", payload)
	}
}

func TestVerifySuccessReturnsOutcome(t *testing.T) {
	verification := &stubVerificationService{
		submitFn: func(context.Context, string) (services.VerificationOutcome, error) {
			return services.VerificationOutcome{OrderID: "ORD-20260831-0042", Source: "record"}, nil
		},
	}
	server := newOrderServer(t, nil, verification)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/orders/current/verification", `{"code":"1234"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["orderId"] != "ORD-20260831-0042" || payload["source"] != "record" {
		t.Fatalf("unexpected outcome %v", payload)
	}
}

func TestVerifyWithoutOrderConflicts(t *testing.T) {
	verification := &stubVerificationService{
		submitFn: func(context.Context, string) (services.VerificationOutcome, error) {
			return services.VerificationOutcome{}, services.ErrVerificationNoOrder
		},
	}
	server := newOrderServer(t, nil, verification)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/orders/current/verification", `{"code":"1234"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if payload["error"] != "no_current_order" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
}

func TestAbandonReturnsNoContent(t *testing.T) {
	abandoned := false
	router := &stubPaymentRouter{
		abandonFn: func(context.Context) error {
			abandoned = true
			return nil
		},
	}
	server := newOrderServer(t, router, nil)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/orders/current/abandon", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if !abandoned {
		t.Fatal("expected abandon forwarded to the router")
	}
}

func TestRecoveryWithoutStateReturnsNoContent(t *testing.T) {
	server := newOrderServer(t, nil, nil)
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/orders/recovery", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestRecoveryReturnsRestoredOrder(t *testing.T) {
	router := &stubPaymentRouter{
		recoverFn: func(context.Context) (domain.PendingOrderState, bool) {
			return domain.PendingOrderState{OrderID: "ORD-20260831-0042"}, true
		},
		state: services.RouterStateAwaitingVerification,
	}
	server := newOrderServer(t, router, nil)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/orders/recovery", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["orderId"] != "ORD-20260831-0042" || payload["state"] != "awaiting_verification" {
		t.Fatalf("unexpected recovery payload %v", payload)
	}
}

func TestCurrentOrderReportsState(t *testing.T) {
	router := &stubPaymentRouter{currentID: "ORD-20260831-0042", state: services.RouterStateAwaitingEmbeddedResult}
	server := newOrderServer(t, router, nil)

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/orders/current", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["state"] != "awaiting_embedded_result" {
		t.Fatalf("unexpected state %v", payload["state"])
	}
}
