package services

import (
	"context"
	"sync"
	"time"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/kvstore"
	"github.com/tableside/ordering/internal/repositories"
)

// unavailableError stands in for a repository whose backend is unreachable.
type unavailableError struct{ msg string }

func (e *unavailableError) Error() string       { return e.msg }
func (e *unavailableError) IsNotFound() bool    { return false }
func (e *unavailableError) IsConflict() bool    { return false }
func (e *unavailableError) IsUnavailable() bool { return true }

// failingStore rejects every write, standing in for broken local storage.
type failingStore struct{ err error }

func (s *failingStore) Get(string) (string, error) { return "", kvstore.ErrNotFound }
func (s *failingStore) Set(string, string) error   { return s.err }
func (s *failingStore) Delete(string) error        { return s.err }

// stubRecordRepository implements repositories.CustomerRecordRepository with
// overridable func fields and an in-memory order list for the defaults.
type stubRecordRepository struct {
	mu      sync.Mutex
	orders  []domain.Order
	billing *domain.BillingDetails

	getFn       func(ctx context.Context, customerID string) (domain.CustomerRecord, error)
	appendFn    func(ctx context.Context, customerID string, order domain.Order) error
	transformFn func(ctx context.Context, customerID string, transform func([]domain.Order) ([]domain.Order, bool)) error
	watchFn     func(ctx context.Context, customerID string) (<-chan repositories.CustomerRecordEvent, error)
}

func (s *stubRecordRepository) Get(ctx context.Context, customerID string) (domain.CustomerRecord, error) {
	if s.getFn != nil {
		return s.getFn(ctx, customerID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]domain.Order, len(s.orders))
	copy(orders, s.orders)
	return domain.CustomerRecord{CustomerID: customerID, Orders: orders, Billing: s.billing}, nil
}

func (s *stubRecordRepository) SaveBilling(_ context.Context, _ string, billing domain.BillingDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.billing = &billing
	return nil
}

func (s *stubRecordRepository) AppendOrder(ctx context.Context, customerID string, order domain.Order) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, customerID, order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	return nil
}

func (s *stubRecordRepository) TransformOrders(ctx context.Context, customerID string, transform func([]domain.Order) ([]domain.Order, bool)) error {
	if s.transformFn != nil {
		return s.transformFn(ctx, customerID, transform)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result, changed := transform(s.orders)
	if changed {
		s.orders = result
	}
	return nil
}

func (s *stubRecordRepository) Watch(ctx context.Context, customerID string) (<-chan repositories.CustomerRecordEvent, error) {
	if s.watchFn != nil {
		return s.watchFn(ctx, customerID)
	}
	ch := make(chan repositories.CustomerRecordEvent)
	close(ch)
	return ch, nil
}

func (s *stubRecordRepository) snapshot() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]domain.Order, len(s.orders))
	copy(orders, s.orders)
	return orders
}

// stubEventSink records published lifecycle events.
type stubEventSink struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

type publishedEvent struct {
	Type       string
	CustomerID string
	OrderID    string
	At         time.Time
}

func (s *stubEventSink) PublishOrderEvent(_ context.Context, eventType, customerID string, order domain.Order, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, publishedEvent{Type: eventType, CustomerID: customerID, OrderID: order.ID, At: at})
	return nil
}

func (s *stubEventSink) published() []publishedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]publishedEvent, len(s.events))
	copy(out, s.events)
	return out
}
