// Package services implements the order and payment lifecycle: cart,
// order placement, payment channel routing, verification, cleanup of
// abandoned orders, and the realtime tracking feed.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/repositories"
)

// OrderNumberService allocates human readable order identifiers.
type OrderNumberService interface {
	// Allocate reserves the next sequence value and formats it as an
	// order number. Fails when the counter cannot be read or written.
	Allocate(ctx context.Context) (string, error)

	// AllocateOrFallback never fails: when the counter is unreachable it
	// synthesises a timestamp-derived identifier and logs degraded mode.
	AllocateOrFallback(ctx context.Context) (id string, degraded bool)
}

// CartService owns the cart line items and their local persistence.
type CartService interface {
	// Add merges the line into the cart by normalised product name.
	// An existing entry gains quantity; instructions are replaced only
	// when the new value is non-empty.
	Add(productName string, unitPrice decimal.Decimal, quantity int, instructions string) error

	// UpdateQuantity sets the quantity for the keyed line, clamped to a
	// minimum of one. Removal is a separate explicit operation.
	UpdateQuantity(key string, quantity int) error

	// UpdateInstructions replaces the instructions for the keyed line.
	UpdateInstructions(key, text string) error

	// Remove deletes the keyed line.
	Remove(key string) error

	// Clear empties the cart.
	Clear() error

	// Lines returns a copy of the current cart lines.
	Lines() []domain.CartLine

	// Subtotal sums unit price times quantity over all lines without rounding.
	Subtotal() decimal.Decimal
}

// PendingStateService persists the in-flight order snapshot between
// "created" and "resolved" so a restart can recover the checkout.
type PendingStateService interface {
	// Save overwrites any prior unresolved state. There is at most one
	// in-flight order.
	Save(state domain.PendingOrderState) error

	// Load returns the recoverable state when the stored triple is
	// complete. An absent or partial record reports ok=false, not an error.
	Load() (state domain.PendingOrderState, ok bool, err error)

	// Clear removes the in-flight state and the session-scoped keys.
	Clear() error

	// PendingOrderID returns the session-scoped order id, if any.
	PendingOrderID() (string, bool)

	// PendingVerificationCode returns the session-scoped code, if any.
	PendingVerificationCode() (string, bool)

	// SetPendingVerificationCode stores the session-scoped expected code.
	SetPendingVerificationCode(code string) error

	// ClearPendingVerificationCode drops the session-scoped code.
	ClearPendingVerificationCode() error
}

// JanitorService removes abandoned unpaid orders from the remote record.
type JanitorService interface {
	// ReconcileUnpaidOrders removes every unpaid order from the customer's
	// record. Failures are logged and reported but callers are expected to
	// proceed regardless; cleanup never blocks navigation.
	ReconcileUnpaidOrders(ctx context.Context, customerID string) (removed int, err error)
}

// PaymentStep tells the caller which payment surface to enter after placement.
type PaymentStep string

const (
	// PaymentStepVerification routes to the counter code entry screen.
	PaymentStepVerification PaymentStep = "verification"
	// PaymentStepEmbedded routes to the embedded online payment surface.
	PaymentStepEmbedded PaymentStep = "embedded"
)

// RouterState enumerates the payment router's lifecycle states.
type RouterState string

const (
	RouterStateIdle                   RouterState = "idle"
	RouterStateCreating               RouterState = "creating"
	RouterStateAwaitingVerification   RouterState = "awaiting_verification"
	RouterStateAwaitingEmbeddedResult RouterState = "awaiting_embedded_result"
	RouterStateResolved               RouterState = "resolved"
)

// PlaceOrderRequest carries the checkout inputs for order placement.
type PlaceOrderRequest struct {
	CustomerID string
	Method     domain.PaymentMethod
	Billing    domain.BillingDetails
}

// PlacementResult reports the created order and the next payment step.
type PlacementResult struct {
	Order    domain.Order
	NextStep PaymentStep
	// Degraded is set when the order id came from the local fallback or
	// the remote write failed after the id was obtained.
	Degraded bool
}

// PaymentRouter drives an order from placement to a terminal state.
type PaymentRouter interface {
	// PlaceOrder runs cleanup, allocates an id, snapshots the cart, writes
	// the order and in-flight state, and enters the selected channel.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlacementResult, error)

	// Resolve flips the remote order to paid, clears the cart and the
	// in-flight state, and moves the router to resolved.
	Resolve(ctx context.Context) error

	// Abandon returns the router to idle, clears in-flight state, and runs
	// the janitor. The cart is left intact.
	Abandon(ctx context.Context) error

	// Recover restores the router's in-flight order after a restart.
	// Reports ok=false when no complete recoverable state exists.
	Recover(ctx context.Context) (domain.PendingOrderState, bool)

	// State returns the router's current lifecycle state.
	State() RouterState

	// CurrentOrderID returns the in-flight order id, if any.
	CurrentOrderID() (string, bool)
}

// VerificationOutcome reports a successful counter verification.
type VerificationOutcome struct {
	OrderID string
	// Source names which expected value matched: "session" or "record".
	Source string
}

// VerificationService matches entered counter codes against the expected value.
type VerificationService interface {
	// Submit normalises the entered code and compares it against the
	// session-scoped pending code first, then the code stored on the
	// remote order. A mismatch yields a *VerificationMismatchError.
	Submit(ctx context.Context, entered string) (VerificationOutcome, error)
}

// TrackingService streams read-only order status views.
type TrackingService interface {
	// Start subscribes to the customer's record and emits a full snapshot
	// of tracked orders on every change. The feed stops when ctx is
	// cancelled; delivered orders age out on per-order timers.
	Start(ctx context.Context, customerID string) (<-chan []domain.TrackedOrder, error)
}

// CatalogService resolves cart and order items back to canonical menu entries.
type CatalogService interface {
	// Resolve looks up a menu item by normalised product name, loading the
	// menu through the read-through cache when stale.
	Resolve(ctx context.Context, productName string) (domain.MenuItem, bool, error)

	// Invalidate drops the cached menu so the next Resolve reloads it.
	Invalidate()
}

// OrderEventSink publishes lifecycle events to interested systems. A nil
// sink disables publishing.
type OrderEventSink interface {
	PublishOrderEvent(ctx context.Context, eventType string, customerID string, order domain.Order, at time.Time) error
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return false
}
