package firestore

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
)

func TestToOrderParsesStoredAmountsExactly(t *testing.T) {
	created := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	doc := orderDocument{
		ID: "ORD-20260831-0007",
		Items: []orderLineDocument{
			{ProductName: "iced latte", UnitPrice: "4.5", Quantity: 2},
		},
		Subtotal:      "9",
		TaxAmount:     "0.36",
		Total:         "9.36",
		PaymentMethod: "cash",
		PaymentStatus: "unpaid",
		Status:        "pending",
		CreatedAt:     created,
	}

	order, err := toOrder(doc)
	if err != nil {
		t.Fatalf("toOrder returned error: %v", err)
	}
	if !order.Total.Equal(decimal.RequireFromString("9.36")) {
		t.Fatalf("expected total 9.36, got %s", order.Total)
	}
	if !order.Items[0].UnitPrice.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("expected unit price 4.5, got %s", order.Items[0].UnitPrice)
	}
	if order.PaymentMethod != domain.PaymentMethodCash {
		t.Fatalf("expected cash method, got %q", order.PaymentMethod)
	}
}

func TestToOrderRejectsMalformedAmounts(t *testing.T) {
	doc := orderDocument{ID: "ORD-20260831-0008", Subtotal: "nine dollars"}
	if _, err := toOrder(doc); err == nil {
		t.Fatal("expected parse error for malformed subtotal")
	} else if !strings.Contains(err.Error(), "ORD-20260831-0008") {
		t.Fatalf("expected error to name the order, got %v", err)
	}
}

func TestToOrderTreatsBlankAmountsAsZero(t *testing.T) {
	order, err := toOrder(orderDocument{ID: "ORD-20260831-0009"})
	if err != nil {
		t.Fatalf("toOrder returned error: %v", err)
	}
	if !order.Subtotal.IsZero() || !order.Total.IsZero() {
		t.Fatalf("expected zero amounts, got %s / %s", order.Subtotal, order.Total)
	}
}

func TestOrderRoundTripPreservesPaidMarker(t *testing.T) {
	paidAt := time.Date(2026, 8, 31, 12, 15, 0, 0, time.UTC)
	order := domain.Order{
		ID:            "ORD-20260831-0010",
		Subtotal:      decimal.RequireFromString("12.00"),
		TaxAmount:     decimal.RequireFromString("0.48"),
		Total:         decimal.RequireFromString("12.48"),
		PaymentMethod: domain.PaymentMethodOnline,
		PaymentStatus: domain.PaymentStatusPaid,
		Status:        domain.OrderStatusPaid,
		PaidAt:        &paidAt,
	}

	restored, err := toOrder(fromOrder(order))
	if err != nil {
		t.Fatalf("toOrder returned error: %v", err)
	}
	if restored.PaidAt == nil || !restored.PaidAt.Equal(paidAt) {
		t.Fatalf("expected paidAt %v, got %v", paidAt, restored.PaidAt)
	}
	if restored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid status, got %q", restored.PaymentStatus)
	}
}

func TestBillingConversionHandlesNil(t *testing.T) {
	if toBilling(nil) != nil {
		t.Fatal("expected nil billing for nil document")
	}
	if fromBilling(nil) != nil {
		t.Fatal("expected nil document for nil billing")
	}

	billing := &domain.BillingDetails{CustomerName: "Ada", TableNumber: "12"}
	restored := toBilling(fromBilling(billing))
	if restored == nil || restored.CustomerName != "Ada" || restored.TableNumber != "12" {
		t.Fatalf("unexpected billing round trip: %#v", restored)
	}
}
