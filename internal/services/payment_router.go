package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/events"
	"github.com/tableside/ordering/internal/repositories"
)

var (
	errRouterCartRequired         = errors.New("payment router: cart service is required")
	errRouterPendingStateRequired = errors.New("payment router: pending state service is required")
	errRouterJanitorRequired      = errors.New("payment router: janitor service is required")
	errRouterOrderNumbersRequired = errors.New("payment router: order number service is required")
	errRouterRecordsRequired      = errors.New("payment router: record repository is required")
	errRouterClockRequired        = errors.New("payment router: clock is required")
)

// ErrRouterInvalidInput indicates the caller supplied invalid checkout input.
var ErrRouterInvalidInput = errors.New("payment router: invalid input")

// ErrRouterEmptyCart indicates placement was attempted with an empty cart.
var ErrRouterEmptyCart = errors.New("payment router: cart is empty")

// ErrRouterInvalidState indicates the operation is not legal in the current state.
var ErrRouterInvalidState = errors.New("payment router: invalid state")

// ErrRouterPersistence indicates no durable copy of the in-flight order
// could be written, or the paid flip could not reach the store. The caller
// may retry; nothing local was cleared.
var ErrRouterPersistence = errors.New("payment router: persistence failed")

// PaymentRouterDeps wires everything the placement flow touches.
type PaymentRouterDeps struct {
	Cart         CartService
	PendingState PendingStateService
	Janitor      JanitorService
	OrderNumbers OrderNumberService
	Records      repositories.CustomerRecordRepository
	Events       OrderEventSink
	TaxRate      decimal.Decimal
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
	// CodeGenerator overrides verification code generation, for tests.
	CodeGenerator func() string
}

type paymentRouter struct {
	cart         CartService
	pendingState PendingStateService
	janitor      JanitorService
	orderNumbers OrderNumberService
	records      repositories.CustomerRecordRepository
	events       OrderEventSink
	taxRate      decimal.Decimal
	now          func() time.Time
	logger       func(context.Context, string, map[string]any)
	newCode      func() string

	mu         sync.Mutex
	state      RouterState
	orderID    string
	customerID string
}

// NewPaymentRouter constructs a PaymentRouter enforcing dependency validation.
func NewPaymentRouter(deps PaymentRouterDeps) (PaymentRouter, error) {
	if deps.Cart == nil {
		return nil, errRouterCartRequired
	}
	if deps.PendingState == nil {
		return nil, errRouterPendingStateRequired
	}
	if deps.Janitor == nil {
		return nil, errRouterJanitorRequired
	}
	if deps.OrderNumbers == nil {
		return nil, errRouterOrderNumbersRequired
	}
	if deps.Records == nil {
		return nil, errRouterRecordsRequired
	}
	if deps.Clock == nil {
		return nil, errRouterClockRequired
	}
	if deps.TaxRate.IsNegative() {
		return nil, fmt.Errorf("payment router: tax rate must not be negative, got %s", deps.TaxRate)
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newCode := deps.CodeGenerator
	if newCode == nil {
		newCode = randomVerificationCode
	}

	return &paymentRouter{
		cart:         deps.Cart,
		pendingState: deps.PendingState,
		janitor:      deps.Janitor,
		orderNumbers: deps.OrderNumbers,
		records:      deps.Records,
		events:       deps.Events,
		taxRate:      deps.TaxRate,
		now:          func() time.Time { return deps.Clock().UTC() },
		logger:       logger,
		newCode:      newCode,
		state:        RouterStateIdle,
	}, nil
}

// PlaceOrder drives idle -> creating -> awaiting_{verification,embedded_result}.
func (r *paymentRouter) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlacementResult, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return PlacementResult{}, fmt.Errorf("%w: customer id is required", ErrRouterInvalidInput)
	}
	if !req.Method.RequiresVerificationCode() && req.Method != domain.PaymentMethodOnline {
		return PlacementResult{}, fmt.Errorf("%w: unknown payment method %q", ErrRouterInvalidInput, req.Method)
	}
	if strings.TrimSpace(req.Billing.CustomerName) == "" {
		return PlacementResult{}, fmt.Errorf("%w: billing name is required", ErrRouterInvalidInput)
	}

	lines := r.cart.Lines()
	if len(lines) == 0 {
		return PlacementResult{}, ErrRouterEmptyCart
	}

	r.mu.Lock()
	if r.state != RouterStateIdle && r.state != RouterStateResolved {
		r.mu.Unlock()
		return PlacementResult{}, fmt.Errorf("%w: cannot place order while %s", ErrRouterInvalidState, r.state)
	}
	r.state = RouterStateCreating
	r.customerID = customerID
	r.mu.Unlock()

	// Pre-emptive cleanup of any stale unpaid order from a prior session.
	// A failure here never blocks the new checkout.
	if _, err := r.janitor.ReconcileUnpaidOrders(ctx, customerID); err != nil {
		r.logger(ctx, "router.precleanup_failed", map[string]any{"error": err.Error()})
	}

	orderID, degraded := r.orderNumbers.AllocateOrFallback(ctx)

	subtotal := r.cart.Subtotal()
	taxAmount := subtotal.Mul(r.taxRate)
	order := domain.Order{
		ID:            orderID,
		Items:         snapshotLines(lines),
		Subtotal:      subtotal,
		TaxAmount:     taxAmount,
		Total:         subtotal.Add(taxAmount),
		PaymentMethod: req.Method,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Status:        domain.OrderStatusPending,
		CreatedAt:     r.now(),
	}
	if req.Method.RequiresVerificationCode() {
		order.VerificationCode = r.newCode()
	}

	if err := r.records.SaveBilling(ctx, customerID, req.Billing); err != nil {
		r.logger(ctx, "router.billing_write_failed", map[string]any{"error": err.Error()})
	}
	appendFailed := false
	if err := r.records.AppendOrder(ctx, customerID, order); err != nil {
		// The id is already known locally, which is enough to continue;
		// the janitor repairs whatever state the failed write left behind.
		appendFailed = true
		degraded = true
		r.logger(ctx, "router.order_write_failed", map[string]any{
			"orderId":     order.ID,
			"unavailable": isRepoUnavailable(err),
			"error":       err.Error(),
		})
	}

	if err := r.pendingState.Save(domain.PendingOrderState{
		OrderID:       order.ID,
		CustomerID:    customerID,
		Cart:          lines,
		Billing:       req.Billing,
		PaymentMethod: req.Method,
		PaymentStatus: domain.PaymentStatusUnpaid,
	}); err != nil {
		if appendFailed {
			// Neither the record nor local storage holds the order, so
			// there is nothing to recover or for the janitor to repair.
			r.mu.Lock()
			r.state = RouterStateIdle
			r.customerID = ""
			r.mu.Unlock()
			return PlacementResult{}, fmt.Errorf("%w: no copy of order %s could be written: %v", ErrRouterPersistence, order.ID, err)
		}
		degraded = true
		r.logger(ctx, "router.pending_state_write_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	next := PaymentStepEmbedded
	nextState := RouterStateAwaitingEmbeddedResult
	if req.Method.RequiresVerificationCode() {
		next = PaymentStepVerification
		nextState = RouterStateAwaitingVerification
		if err := r.pendingState.SetPendingVerificationCode(order.VerificationCode); err != nil {
			r.logger(ctx, "router.session_code_write_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	r.publish(ctx, events.EventOrderPlaced, customerID, order)

	r.mu.Lock()
	r.state = nextState
	r.orderID = order.ID
	r.mu.Unlock()

	r.logger(ctx, "router.order_placed", map[string]any{
		"orderId":  order.ID,
		"method":   string(req.Method),
		"total":    domain.FormatAmount(order.Total),
		"degraded": degraded,
	})

	return PlacementResult{Order: order, NextStep: next, Degraded: degraded}, nil
}

// Resolve flips the remote order to paid and commits the local cleanup.
func (r *paymentRouter) Resolve(ctx context.Context) error {
	r.mu.Lock()
	if r.state != RouterStateAwaitingVerification && r.state != RouterStateAwaitingEmbeddedResult {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot resolve while %s", ErrRouterInvalidState, state)
	}
	orderID := r.orderID
	customerID := r.customerID
	r.mu.Unlock()

	now := r.now()
	var paidOrder domain.Order
	err := r.records.TransformOrders(ctx, customerID, func(orders []domain.Order) ([]domain.Order, bool) {
		for i := range orders {
			if orders[i].ID != orderID {
				continue
			}
			orders[i].PaymentStatus = domain.PaymentStatusPaid
			paidAt := now
			orders[i].PaidAt = &paidAt
			paidOrder = orders[i]
			return orders, true
		}
		return orders, false
	})
	if err != nil {
		// Left unresolved so the caller can retry; nothing is cleared.
		if isRepoUnavailable(err) {
			return fmt.Errorf("%w: mark paid for %s: %v", ErrRouterPersistence, orderID, err)
		}
		return fmt.Errorf("payment router: mark paid: %w", err)
	}

	if err := r.cart.Clear(); err != nil {
		r.logger(ctx, "router.cart_clear_failed", map[string]any{"error": err.Error()})
	}
	if err := r.pendingState.Clear(); err != nil {
		r.logger(ctx, "router.pending_state_clear_failed", map[string]any{"error": err.Error()})
	}

	if paidOrder.ID == "" {
		// The record lost the order (concurrent cleanup); still resolved
		// locally, there is nothing left to pay.
		r.logger(ctx, "router.resolved_without_record", map[string]any{"orderId": orderID})
	} else {
		r.publish(ctx, events.EventOrderPaid, customerID, paidOrder)
	}

	r.mu.Lock()
	r.state = RouterStateResolved
	r.mu.Unlock()

	r.logger(ctx, "router.order_resolved", map[string]any{"orderId": orderID})
	return nil
}

// Abandon returns to idle, clears in-flight state, and runs the janitor.
// The cart is deliberately left intact so the customer can retry.
func (r *paymentRouter) Abandon(ctx context.Context) error {
	r.mu.Lock()
	orderID := r.orderID
	customerID := r.customerID
	r.state = RouterStateIdle
	r.orderID = ""
	r.mu.Unlock()

	if err := r.pendingState.Clear(); err != nil {
		r.logger(ctx, "router.pending_state_clear_failed", map[string]any{"error": err.Error()})
	}
	if customerID != "" {
		if _, err := r.janitor.ReconcileUnpaidOrders(ctx, customerID); err != nil {
			r.logger(ctx, "router.abandon_cleanup_failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
	}

	r.logger(ctx, "router.order_abandoned", map[string]any{"orderId": orderID})
	return nil
}

// Recover restores the in-flight order after a restart.
func (r *paymentRouter) Recover(ctx context.Context) (domain.PendingOrderState, bool) {
	state, ok, err := r.pendingState.Load()
	if err != nil {
		r.logger(ctx, "router.recover_failed", map[string]any{"error": err.Error()})
		return domain.PendingOrderState{}, false
	}
	if !ok {
		return domain.PendingOrderState{}, false
	}

	nextState := RouterStateAwaitingEmbeddedResult
	switch {
	case state.PaymentMethod.RequiresVerificationCode():
		nextState = RouterStateAwaitingVerification
	case state.PaymentMethod == domain.PaymentMethodOnline:
		nextState = RouterStateAwaitingEmbeddedResult
	default:
		// Older snapshots carry no method; the session code is the only hint.
		if _, hasCode := r.pendingState.PendingVerificationCode(); hasCode {
			nextState = RouterStateAwaitingVerification
		}
	}

	r.mu.Lock()
	r.state = nextState
	r.orderID = state.OrderID
	if state.CustomerID != "" {
		r.customerID = state.CustomerID
	}
	r.mu.Unlock()

	r.logger(ctx, "router.order_recovered", map[string]any{"orderId": state.OrderID})
	return state, true
}

// State returns the router's current lifecycle state.
func (r *paymentRouter) State() RouterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CurrentOrderID returns the in-flight order id, if any.
func (r *paymentRouter) CurrentOrderID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderID, r.orderID != ""
}

func (r *paymentRouter) publish(ctx context.Context, eventType, customerID string, order domain.Order) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishOrderEvent(ctx, eventType, customerID, order, r.now()); err != nil {
		r.logger(ctx, "router.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func snapshotLines(lines []domain.CartLine) []domain.OrderLine {
	items := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderLine{
			ProductName:  line.ProductName,
			UnitPrice:    line.UnitPrice,
			Quantity:     line.Quantity,
			Instructions: line.Instructions,
		})
	}
	return items
}

func randomVerificationCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// crypto/rand failing is effectively unreachable; degrade to a
		// time-derived code rather than panic at the counter.
		return fmt.Sprintf("%04d", time.Now().UnixNano()%10000)
	}
	return fmt.Sprintf("%04d", n.Int64())
}
