package repositories

import (
	"context"

	domain "github.com/tableside/ordering/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CustomerRecordEvent carries one realtime observation of a customer record.
// Exists is false when the record has been deleted or never created.
type CustomerRecordEvent struct {
	Record domain.CustomerRecord
	Exists bool
	Err    error
}

// CustomerRecordRepository persists the per-customer document holding the
// order history and billing details.
type CustomerRecordRepository interface {
	// Get fetches the customer record. A missing record yields a
	// RepositoryError with IsNotFound.
	Get(ctx context.Context, customerID string) (domain.CustomerRecord, error)

	// SaveBilling merges the billing details into the record, creating it
	// when absent.
	SaveBilling(ctx context.Context, customerID string, billing domain.BillingDetails) error

	// AppendOrder transactionally appends a new order to the record's
	// order history.
	AppendOrder(ctx context.Context, customerID string, order domain.Order) error

	// TransformOrders reads the order history inside a transaction, applies
	// transform, and writes the result back when changed is true. A missing
	// record is treated as an empty history and left absent when unchanged.
	TransformOrders(ctx context.Context, customerID string, transform func(orders []domain.Order) (result []domain.Order, changed bool)) error

	// Watch streams record updates until ctx is cancelled. The channel is
	// closed when the listener stops.
	Watch(ctx context.Context, customerID string) (<-chan CustomerRecordEvent, error)
}

// CounterRepository provides atomic sequence allocation for order numbers.
type CounterRepository interface {
	// Next atomically increments the counter identified by counterID by
	// step (or the stored step when step is zero) and returns the value.
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// MenuRepository reads the tenant's menu.
type MenuRepository interface {
	ListItems(ctx context.Context) ([]domain.MenuItem, error)
}

// HealthRepository aggregates dependency probes into a readiness report.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
