package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tableside/ordering/internal/repositories"
)

var (
	errOrderNumberCountersRequired = errors.New("order number service: counter repository is required")
	errOrderNumberClockRequired    = errors.New("order number service: clock is required")
)

// ErrOrderNumberUnavailable indicates the sequence counter could not be read or written.
var ErrOrderNumberUnavailable = errors.New("order number service: unavailable")

const (
	orderNumberPrefix     = "ORD"
	orderCounterPrefix    = "orders"
	orderNumberDateLayout = "20060102"
)

// OrderNumberServiceDeps wires the counter repository used for allocation.
type OrderNumberServiceDeps struct {
	Counters repositories.CounterRepository
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type orderNumberService struct {
	counters repositories.CounterRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewOrderNumberService constructs an OrderNumberService enforcing dependency validation.
func NewOrderNumberService(deps OrderNumberServiceDeps) (OrderNumberService, error) {
	if deps.Counters == nil {
		return nil, errOrderNumberCountersRequired
	}
	if deps.Clock == nil {
		return nil, errOrderNumberClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderNumberService{
		counters: deps.Counters,
		now:      func() time.Time { return deps.Clock().UTC() },
		logger:   logger,
	}, nil
}

// Allocate reserves the next value of today's counter and formats it as
// ORD-YYYYMMDD-NNNN. The counter resets daily by keying on the date.
func (s *orderNumberService) Allocate(ctx context.Context) (string, error) {
	if s == nil || s.counters == nil {
		return "", ErrOrderNumberUnavailable
	}

	date := s.now().Format(orderNumberDateLayout)
	counterID := fmt.Sprintf("%s-%s", orderCounterPrefix, date)

	value, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOrderNumberUnavailable, err)
	}
	return fmt.Sprintf("%s-%s-%04d", orderNumberPrefix, date, value), nil
}

// AllocateOrFallback degrades to a timestamp-derived identifier when the
// counter is unreachable. Order placement never aborts on id allocation.
func (s *orderNumberService) AllocateOrFallback(ctx context.Context) (string, bool) {
	id, err := s.Allocate(ctx)
	if err == nil {
		return id, false
	}

	now := s.now()
	fallback := fmt.Sprintf("%s-%s-T%s%03d",
		orderNumberPrefix,
		now.Format(orderNumberDateLayout),
		now.Format("150405"),
		now.Nanosecond()/int(time.Millisecond),
	)
	s.logger(ctx, "order_number.degraded", map[string]any{
		"fallbackId": fallback,
		"error":      err.Error(),
	})
	return fallback, true
}
