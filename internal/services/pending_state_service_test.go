package services

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/kvstore"
)

func newTestPendingState(t *testing.T) (PendingStateService, kvstore.Store, kvstore.Store) {
	t.Helper()
	durable := kvstore.NewMemoryStore()
	session := kvstore.NewMemoryStore()
	svc, err := NewPendingStateService(PendingStateServiceDeps{Durable: durable, Session: session})
	if err != nil {
		t.Fatalf("NewPendingStateService: %v", err)
	}
	return svc, durable, session
}

func samplePendingState() domain.PendingOrderState {
	return domain.PendingOrderState{
		OrderID: "ORD-20260831-0001",
		Cart: []domain.CartLine{
			{ProductName: "ramen", UnitPrice: decimal.RequireFromString("11.50"), Quantity: 2, Instructions: "no egg"},
		},
		Billing:       domain.BillingDetails{CustomerName: "Ada", Phone: "555-0101", TableNumber: "4"},
		CustomerID:    "kiosk-1",
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusUnpaid,
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	svc, _, session := newTestPendingState(t)
	saved := samplePendingState()

	if err := svc.Save(saved); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, ok, err := svc.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected recoverable state")
	}
	if loaded.OrderID != saved.OrderID || loaded.PaymentStatus != saved.PaymentStatus {
		t.Fatalf("unexpected loaded state %#v", loaded)
	}
	if loaded.CustomerID != saved.CustomerID || loaded.PaymentMethod != saved.PaymentMethod {
		t.Fatalf("customer/method mismatch: %#v", loaded)
	}
	if !reflect.DeepEqual(loaded.Billing, saved.Billing) {
		t.Fatalf("billing mismatch: %#v", loaded.Billing)
	}
	if len(loaded.Cart) != 1 || !loaded.Cart[0].UnitPrice.Equal(saved.Cart[0].UnitPrice) {
		t.Fatalf("cart mismatch: %#v", loaded.Cart)
	}

	if id, ok := svc.PendingOrderID(); !ok || id != saved.OrderID {
		t.Fatalf("expected session order id %q, got %q (%v)", saved.OrderID, id, ok)
	}
	if _, err := session.Get("pendingOrderId"); err != nil {
		t.Fatalf("expected session key to be set: %v", err)
	}
}

func TestClearThenLoadReportsNothing(t *testing.T) {
	svc, _, _ := newTestPendingState(t)
	if err := svc.Save(samplePendingState()); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := svc.SetPendingVerificationCode("0412"); err != nil {
		t.Fatalf("SetPendingVerificationCode returned error: %v", err)
	}

	if err := svc.Clear(); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	if _, ok, err := svc.Load(); err != nil || ok {
		t.Fatalf("expected no recoverable state, got ok=%v err=%v", ok, err)
	}
	if _, ok := svc.PendingOrderID(); ok {
		t.Fatal("expected session order id cleared")
	}
	if _, ok := svc.PendingVerificationCode(); ok {
		t.Fatal("expected session code cleared")
	}
}

func TestLoadIgnoresIncompleteState(t *testing.T) {
	svc, durable, _ := newTestPendingState(t)

	// Missing billing name makes the triple incomplete.
	if err := durable.Set("temporaryOrderState", `{"orderId":"ORD-20260831-0002","cart":[{"productName":"tea","unitPrice":"2.00","quantity":1}],"billing":{},"paymentStatus":"unpaid"}`); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if _, ok, err := svc.Load(); err != nil || ok {
		t.Fatalf("expected incomplete state to be unrecoverable, got ok=%v err=%v", ok, err)
	}
}

func TestSaveOverwritesPriorSlot(t *testing.T) {
	svc, _, _ := newTestPendingState(t)
	first := samplePendingState()
	if err := svc.Save(first); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	second := samplePendingState()
	second.OrderID = "ORD-20260831-0002"
	if err := svc.Save(second); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, ok, err := svc.Load()
	if err != nil || !ok {
		t.Fatalf("Load failed: ok=%v err=%v", ok, err)
	}
	if loaded.OrderID != second.OrderID {
		t.Fatalf("expected newest slot, got %q", loaded.OrderID)
	}
	if id, _ := svc.PendingOrderID(); id != second.OrderID {
		t.Fatalf("expected session id updated, got %q", id)
	}
}

func TestVerificationCodeSessionScope(t *testing.T) {
	svc, _, _ := newTestPendingState(t)

	if _, ok := svc.PendingVerificationCode(); ok {
		t.Fatal("expected no code initially")
	}
	if err := svc.SetPendingVerificationCode("1234"); err != nil {
		t.Fatalf("SetPendingVerificationCode returned error: %v", err)
	}
	if code, ok := svc.PendingVerificationCode(); !ok || code != "1234" {
		t.Fatalf("expected stored code, got %q (%v)", code, ok)
	}
	if err := svc.ClearPendingVerificationCode(); err != nil {
		t.Fatalf("ClearPendingVerificationCode returned error: %v", err)
	}
	if _, ok := svc.PendingVerificationCode(); ok {
		t.Fatal("expected code cleared")
	}
}
