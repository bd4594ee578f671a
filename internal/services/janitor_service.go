package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/events"
	"github.com/tableside/ordering/internal/repositories"
)

var (
	errJanitorRecordsRequired = errors.New("janitor service: record repository is required")
	errJanitorClockRequired   = errors.New("janitor service: clock is required")
)

// ErrJanitorInvalidInput indicates the caller supplied invalid input.
var ErrJanitorInvalidInput = errors.New("janitor service: invalid input")

// JanitorServiceDeps wires the record repository and optional event sink.
type JanitorServiceDeps struct {
	Records repositories.CustomerRecordRepository
	Events  OrderEventSink
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type janitorService struct {
	records repositories.CustomerRecordRepository
	events  OrderEventSink
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewJanitorService constructs a JanitorService enforcing dependency validation.
func NewJanitorService(deps JanitorServiceDeps) (JanitorService, error) {
	if deps.Records == nil {
		return nil, errJanitorRecordsRequired
	}
	if deps.Clock == nil {
		return nil, errJanitorClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &janitorService{
		records: deps.Records,
		events:  deps.Events,
		now:     func() time.Time { return deps.Clock().UTC() },
		logger:  logger,
	}, nil
}

// ReconcileUnpaidOrders removes every unpaid order from the customer's
// record. An unpaid order has no terminal failed state; it is deleted.
// Failures are logged; callers proceed regardless.
func (s *janitorService) ReconcileUnpaidOrders(ctx context.Context, customerID string) (int, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return 0, ErrJanitorInvalidInput
	}

	var removed []domain.Order
	err := s.records.TransformOrders(ctx, id, func(orders []domain.Order) ([]domain.Order, bool) {
		removed = removed[:0]
		kept := make([]domain.Order, 0, len(orders))
		for _, order := range orders {
			if order.PaymentStatus == domain.PaymentStatusUnpaid {
				removed = append(removed, order)
				continue
			}
			kept = append(kept, order)
		}
		return kept, len(removed) > 0
	})
	if err != nil {
		// Worst case is a harmless orphan the next pass will remove.
		s.logger(ctx, "janitor.reconcile_failed", map[string]any{
			"customerId": id,
			"error":      err.Error(),
		})
		return 0, err
	}

	if len(removed) > 0 {
		s.logger(ctx, "janitor.unpaid_orders_removed", map[string]any{
			"customerId": id,
			"count":      len(removed),
		})
		s.publishAbandoned(ctx, id, removed)
	}
	return len(removed), nil
}

func (s *janitorService) publishAbandoned(ctx context.Context, customerID string, orders []domain.Order) {
	if s.events == nil {
		return
	}
	now := s.now()
	for _, order := range orders {
		if err := s.events.PublishOrderEvent(ctx, events.EventOrderAbandoned, customerID, order, now); err != nil {
			s.logger(ctx, "janitor.event_publish_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
}
