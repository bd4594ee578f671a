package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
)

func unpaidOrder(id string) domain.Order {
	return domain.Order{
		ID:            id,
		Total:         decimal.RequireFromString("10.40"),
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Status:        domain.OrderStatusPending,
	}
}

func paidOrder(id string) domain.Order {
	order := unpaidOrder(id)
	order.PaymentStatus = domain.PaymentStatusPaid
	return order
}

func TestReconcileRemovesOnlyUnpaidOrders(t *testing.T) {
	repo := &stubRecordRepository{orders: []domain.Order{
		paidOrder("ORD-20260831-0001"),
		unpaidOrder("ORD-20260831-0002"),
		unpaidOrder("ORD-20260831-0003"),
	}}
	sink := &stubEventSink{}

	svc, err := NewJanitorService(JanitorServiceDeps{
		Records: repo,
		Events:  sink,
		Clock:   fixedClock(time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewJanitorService: %v", err)
	}

	removed, err := svc.ReconcileUnpaidOrders(context.Background(), "kiosk-1")
	if err != nil {
		t.Fatalf("ReconcileUnpaidOrders returned error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	remaining := repo.snapshot()
	if len(remaining) != 1 || remaining[0].ID != "ORD-20260831-0001" {
		t.Fatalf("expected only the paid order to remain, got %#v", remaining)
	}

	published := sink.published()
	if len(published) != 2 {
		t.Fatalf("expected 2 abandoned events, got %d", len(published))
	}
	for _, event := range published {
		if event.Type != "order.abandoned" {
			t.Fatalf("expected abandoned event, got %q", event.Type)
		}
	}
}

func TestReconcileOnEmptySetIsANoOp(t *testing.T) {
	repo := &stubRecordRepository{orders: []domain.Order{paidOrder("ORD-20260831-0001")}}

	svc, err := NewJanitorService(JanitorServiceDeps{Records: repo, Clock: time.Now})
	if err != nil {
		t.Fatalf("NewJanitorService: %v", err)
	}

	for i := 0; i < 2; i++ {
		removed, err := svc.ReconcileUnpaidOrders(context.Background(), "kiosk-1")
		if err != nil {
			t.Fatalf("pass %d returned error: %v", i, err)
		}
		if removed != 0 {
			t.Fatalf("pass %d removed %d orders", i, removed)
		}
	}
	if len(repo.snapshot()) != 1 {
		t.Fatal("paid order must survive repeated reconciliation")
	}
}

func TestReconcileLogsAndReturnsBackendFailure(t *testing.T) {
	repo := &stubRecordRepository{
		transformFn: func(context.Context, string, func([]domain.Order) ([]domain.Order, bool)) error {
			return errors.New("store offline")
		},
	}

	var loggedEvent string
	svc, err := NewJanitorService(JanitorServiceDeps{
		Records: repo,
		Clock:   time.Now,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			loggedEvent = event
		},
	})
	if err != nil {
		t.Fatalf("NewJanitorService: %v", err)
	}

	if _, err := svc.ReconcileUnpaidOrders(context.Background(), "kiosk-1"); err == nil {
		t.Fatal("expected error to be reported")
	}
	if loggedEvent != "janitor.reconcile_failed" {
		t.Fatalf("expected failure log event, got %q", loggedEvent)
	}
}

func TestReconcileValidatesCustomerID(t *testing.T) {
	svc, err := NewJanitorService(JanitorServiceDeps{Records: &stubRecordRepository{}, Clock: time.Now})
	if err != nil {
		t.Fatalf("NewJanitorService: %v", err)
	}
	if _, err := svc.ReconcileUnpaidOrders(context.Background(), "  "); !errors.Is(err, ErrJanitorInvalidInput) {
		t.Fatalf("expected ErrJanitorInvalidInput, got %v", err)
	}
}
