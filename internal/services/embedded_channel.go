package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/repositories"
)

var (
	errEmbeddedRouterRequired  = errors.New("embedded channel: payment router is required")
	errEmbeddedPendingRequired = errors.New("embedded channel: pending state service is required")
	errEmbeddedRecordsRequired = errors.New("embedded channel: record repository is required")
	errEmbeddedOriginRequired  = errors.New("embedded channel: expected origin is required")
	errEmbeddedURLRequired     = errors.New("embedded channel: surface url is required")
)

// ErrEmbeddedNoOrder indicates no recoverable order exists; the embedded
// surface renders a terminal error with back navigation as the only exit.
var ErrEmbeddedNoOrder = errors.New("embedded channel: no recoverable order")

// Message type discriminators used by the embedded payment surface.
const (
	embeddedTypeMethodSelected = "PAYMENT_METHOD_SELECTED"
	embeddedTypeSuccess        = "PAYMENT_SUCCESS"
	embeddedTypeCancelled      = "PAYMENT_CANCELLED"
	embeddedTypeError          = "PAYMENT_ERROR"
)

// EmbeddedMessage is the closed set of messages the payment surface may send.
type EmbeddedMessage interface {
	embeddedMessage()
}

// MethodSelectedMessage reports the sub-method chosen inside the surface.
type MethodSelectedMessage struct {
	PaymentMethod string
}

// SuccessMessage reports a completed payment.
type SuccessMessage struct{}

// CancelledMessage reports the customer backing out of the surface.
type CancelledMessage struct{}

// ErrorMessage reports a payment failure inside the surface.
type ErrorMessage struct {
	Message string
}

func (MethodSelectedMessage) embeddedMessage() {}
func (SuccessMessage) embeddedMessage()        {}
func (CancelledMessage) embeddedMessage()      {}
func (ErrorMessage) embeddedMessage()          {}

type embeddedEnvelope struct {
	Type    string `json:"type"`
	Payload struct {
		PaymentMethod string `json:"paymentMethod"`
		Message       string `json:"message"`
	} `json:"payload"`
}

// ParseEmbeddedMessage decodes a surface message, rejecting unknown types.
func ParseEmbeddedMessage(data []byte) (EmbeddedMessage, error) {
	var envelope embeddedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("embedded channel: decode message: %w", err)
	}

	switch envelope.Type {
	case embeddedTypeMethodSelected:
		return MethodSelectedMessage{PaymentMethod: strings.TrimSpace(envelope.Payload.PaymentMethod)}, nil
	case embeddedTypeSuccess:
		return SuccessMessage{}, nil
	case embeddedTypeCancelled:
		return CancelledMessage{}, nil
	case embeddedTypeError:
		return ErrorMessage{Message: strings.TrimSpace(envelope.Payload.Message)}, nil
	default:
		return nil, fmt.Errorf("embedded channel: unknown message type %q", envelope.Type)
	}
}

// SignalKind classifies the outcome of a handled surface message.
type SignalKind string

const (
	// SignalNone means the message changed nothing the caller must act on.
	SignalNone SignalKind = "none"
	// SignalSuccess means payment completed; navigate after Delay.
	SignalSuccess SignalKind = "success"
	// SignalAbandoned means the surface was cancelled or failed; navigate
	// back to method selection.
	SignalAbandoned SignalKind = "abandoned"
)

// EmbeddedSignal tells the hosting surface what to do next.
type EmbeddedSignal struct {
	Kind    SignalKind
	Delay   time.Duration
	Message string
}

// EmbeddedChannelDeps wires the embedded online payment flow.
type EmbeddedChannelDeps struct {
	Router       PaymentRouter
	PendingState PendingStateService
	Records      repositories.CustomerRecordRepository
	CustomerID   string

	// ExpectedOrigin is the only origin whose messages are honoured.
	ExpectedOrigin string
	// SurfaceURL is the base address of the embedded payment page.
	SurfaceURL string

	TaxRate        decimal.Decimal
	UseProvidedTax bool
	TenantID       string
	RestaurantName string
	BankRouting    string
	AccountNumber  string

	// TeardownDelay is how long to let the surface finish its own teardown
	// after success before navigating away.
	TeardownDelay time.Duration
	Logger        func(context.Context, string, map[string]any)
}

type embeddedChannel struct {
	router       PaymentRouter
	pendingState PendingStateService
	records      repositories.CustomerRecordRepository
	customerID   string

	expectedOrigin string
	surfaceURL     string

	taxRate        decimal.Decimal
	useProvidedTax bool
	tenantID       string
	restaurantName string
	bankRouting    string
	accountNumber  string

	teardownDelay time.Duration
	logger        func(context.Context, string, map[string]any)
}

// EmbeddedChannel hosts the cross-origin payment surface protocol.
type EmbeddedChannel interface {
	// Mount verifies a recoverable order exists and returns the surface
	// URL carrying the order parameters.
	Mount(ctx context.Context) (string, error)

	// HandleMessage dispatches one surface message. Messages from other
	// origins are ignored with a none signal.
	HandleMessage(ctx context.Context, origin string, data []byte) (EmbeddedSignal, error)

	// Back handles explicit back navigation: the only recovery path when
	// the surface never reports a result.
	Back(ctx context.Context) error
}

// NewEmbeddedChannel constructs an EmbeddedChannel enforcing dependency validation.
func NewEmbeddedChannel(deps EmbeddedChannelDeps) (EmbeddedChannel, error) {
	if deps.Router == nil {
		return nil, errEmbeddedRouterRequired
	}
	if deps.PendingState == nil {
		return nil, errEmbeddedPendingRequired
	}
	if deps.Records == nil {
		return nil, errEmbeddedRecordsRequired
	}
	if strings.TrimSpace(deps.ExpectedOrigin) == "" {
		return nil, errEmbeddedOriginRequired
	}
	if strings.TrimSpace(deps.SurfaceURL) == "" {
		return nil, errEmbeddedURLRequired
	}
	if strings.TrimSpace(deps.CustomerID) == "" {
		return nil, errors.New("embedded channel: customer id is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	delay := deps.TeardownDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	return &embeddedChannel{
		router:         deps.Router,
		pendingState:   deps.PendingState,
		records:        deps.Records,
		customerID:     strings.TrimSpace(deps.CustomerID),
		expectedOrigin: strings.TrimSpace(deps.ExpectedOrigin),
		surfaceURL:     strings.TrimSpace(deps.SurfaceURL),
		taxRate:        deps.TaxRate,
		useProvidedTax: deps.UseProvidedTax,
		tenantID:       strings.TrimSpace(deps.TenantID),
		restaurantName: deps.RestaurantName,
		bankRouting:    deps.BankRouting,
		accountNumber:  deps.AccountNumber,
		teardownDelay:  delay,
		logger:         logger,
	}, nil
}

// Mount checks for a recoverable order and builds the surface URL.
func (c *embeddedChannel) Mount(ctx context.Context) (string, error) {
	orderID, ok := c.router.CurrentOrderID()
	if !ok {
		orderID, ok = c.pendingState.PendingOrderID()
	}
	if !ok {
		return "", ErrEmbeddedNoOrder
	}

	state, recovered, err := c.pendingState.Load()
	if err != nil || !recovered || state.OrderID != orderID {
		// The id alone still lets the surface open; amounts fall back to zero.
		c.logger(ctx, "embedded.state_incomplete", map[string]any{"orderId": orderID})
		state = domain.PendingOrderState{OrderID: orderID}
	}

	return c.buildSurfaceURL(state)
}

// HandleMessage dispatches one message from the embedded surface.
func (c *embeddedChannel) HandleMessage(ctx context.Context, origin string, data []byte) (EmbeddedSignal, error) {
	if origin != c.expectedOrigin {
		c.logger(ctx, "embedded.foreign_origin_ignored", map[string]any{"origin": origin})
		return EmbeddedSignal{Kind: SignalNone}, nil
	}

	message, err := ParseEmbeddedMessage(data)
	if err != nil {
		c.logger(ctx, "embedded.message_rejected", map[string]any{"error": err.Error()})
		return EmbeddedSignal{Kind: SignalNone}, nil
	}

	switch msg := message.(type) {
	case MethodSelectedMessage:
		c.recordSubMethod(ctx, msg.PaymentMethod)
		return EmbeddedSignal{Kind: SignalNone}, nil

	case SuccessMessage:
		if err := c.router.Resolve(ctx); err != nil {
			// Storage is still cleared; the surface reported a completed
			// payment and must not be charged twice over a local error.
			c.logger(ctx, "embedded.resolve_failed", map[string]any{"error": err.Error()})
			if clearErr := c.pendingState.Clear(); clearErr != nil {
				c.logger(ctx, "embedded.state_clear_failed", map[string]any{"error": clearErr.Error()})
			}
		}
		return EmbeddedSignal{Kind: SignalSuccess, Delay: c.teardownDelay}, nil

	case CancelledMessage:
		return c.abandon(ctx, "cancelled")

	case ErrorMessage:
		c.logger(ctx, "embedded.payment_error", map[string]any{"message": msg.Message})
		signal, err := c.abandon(ctx, msg.Message)
		signal.Message = msg.Message
		return signal, err
	}

	return EmbeddedSignal{Kind: SignalNone}, nil
}

// Back runs cleanup for the abandon-by-navigation path.
func (c *embeddedChannel) Back(ctx context.Context) error {
	return c.router.Abandon(ctx)
}

func (c *embeddedChannel) abandon(ctx context.Context, reason string) (EmbeddedSignal, error) {
	if err := c.router.Abandon(ctx); err != nil {
		c.logger(ctx, "embedded.abandon_failed", map[string]any{"reason": reason, "error": err.Error()})
	}
	return EmbeddedSignal{Kind: SignalAbandoned}, nil
}

// recordSubMethod writes the chosen sub-method onto the order, best effort.
func (c *embeddedChannel) recordSubMethod(ctx context.Context, subMethod string) {
	if subMethod == "" {
		return
	}
	orderID, ok := c.router.CurrentOrderID()
	if !ok {
		orderID, ok = c.pendingState.PendingOrderID()
	}
	if !ok {
		return
	}

	err := c.records.TransformOrders(ctx, c.customerID, func(orders []domain.Order) ([]domain.Order, bool) {
		for i := range orders {
			if orders[i].ID == orderID {
				orders[i].OnlinePaymentMethod = subMethod
				return orders, true
			}
		}
		return orders, false
	})
	if err != nil {
		c.logger(ctx, "embedded.submethod_write_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (c *embeddedChannel) buildSurfaceURL(state domain.PendingOrderState) (string, error) {
	base, err := url.Parse(c.surfaceURL)
	if err != nil {
		return "", fmt.Errorf("embedded channel: parse surface url: %w", err)
	}

	subtotal := decimal.Zero
	for _, line := range state.Cart {
		subtotal = subtotal.Add(line.LineTotal())
	}
	taxes := subtotal.Mul(c.taxRate)

	query := base.Query()
	query.Set("orderId", state.OrderID)
	query.Set("subtotal", domain.FormatAmount(subtotal))
	query.Set("taxes", domain.FormatAmount(taxes))
	query.Set("total", domain.FormatAmount(subtotal.Add(taxes)))
	query.Set("taxRate", c.taxRate.String())
	query.Set("useProvidedTax", strconv.FormatBool(c.useProvidedTax))
	query.Set("restaurantId", c.tenantID)
	query.Set("restaurantName", c.restaurantName)
	query.Set("bankRouting", c.bankRouting)
	query.Set("accountNumber", c.accountNumber)
	query.Set("customerPhone", state.Billing.Phone)
	base.RawQuery = query.Encode()

	return base.String(), nil
}
