package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates the payment channels offered at checkout.
type PaymentMethod string

const (
	// PaymentMethodOnline routes payment through the embedded online surface.
	PaymentMethodOnline PaymentMethod = "online"
	// PaymentMethodCard is settled at the counter with card, verified by code.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCash is settled at the counter with cash, verified by code.
	PaymentMethodCash PaymentMethod = "cash"
)

// ParsePaymentMethod normalises raw input into a known payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentMethodOnline:
		return PaymentMethodOnline, true
	case PaymentMethodCard:
		return PaymentMethodCard, true
	case PaymentMethodCash:
		return PaymentMethodCash, true
	}
	return "", false
}

// RequiresVerificationCode reports whether the method is settled at the counter.
func (m PaymentMethod) RequiresVerificationCode() bool {
	return m == PaymentMethodCard || m == PaymentMethodCash
}

// PaymentStatus tracks whether an order has been paid. There is no terminal
// failed state; an unpaid order is either completed or deleted by cleanup.
type PaymentStatus string

const (
	// PaymentStatusUnpaid marks an order awaiting payment resolution.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPaid marks an order whose payment was verified.
	PaymentStatusPaid PaymentStatus = "paid"
)

// OrderStatus is the kitchen/fulfilment lifecycle, independent of payment.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been received.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPreparing indicates the kitchen is working on the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order is ready for pickup or serving.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusPaid is shown when no fulfilment state has been recorded yet.
	OrderStatusPaid OrderStatus = "paid"
)

// DisplayStatus maps a raw status value from the remote record to a known
// lifecycle state, defaulting to pending for anything unrecognised.
func DisplayStatus(raw string) OrderStatus {
	switch OrderStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case OrderStatusPreparing:
		return OrderStatusPreparing
	case OrderStatusReady:
		return OrderStatusReady
	case OrderStatusDelivered:
		return OrderStatusDelivered
	case OrderStatusPaid:
		return OrderStatusPaid
	default:
		return OrderStatusPending
	}
}

// CartLine is a single cart entry keyed by the normalised product name.
type CartLine struct {
	ProductName  string
	UnitPrice    decimal.Decimal
	Quantity     int
	Instructions string
}

// LineTotal multiplies unit price by quantity without rounding.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderLine is the immutable snapshot of a cart line at placement time.
type OrderLine struct {
	ProductName  string
	UnitPrice    decimal.Decimal
	Quantity     int
	Instructions string
}

// Order is created client-side and persisted to the per-customer record's
// order list. From that point it is shared mutable state: both this client
// and the kitchen-side system may update Status; only the creating client
// flips PaymentStatus unpaid to paid, and only after verification.
type Order struct {
	ID                  string
	Items               []OrderLine
	Subtotal            decimal.Decimal
	TaxAmount           decimal.Decimal
	Total               decimal.Decimal
	PaymentMethod       PaymentMethod
	PaymentStatus       PaymentStatus
	Status              OrderStatus
	VerificationCode    string
	OnlinePaymentMethod string
	CreatedAt           time.Time
	PaidAt              *time.Time
}

// BillingDetails captures the customer details collected at checkout.
type BillingDetails struct {
	CustomerName string
	Phone        string
	TableNumber  string
	Notes        string
}

// PendingOrderState is the in-flight order snapshot persisted between
// "created" and "resolved" so a reload can recover the checkout.
type PendingOrderState struct {
	OrderID       string
	CustomerID    string
	Cart          []CartLine
	Billing       BillingDetails
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
}

// Complete reports whether the state carries the full recoverable triple.
func (s PendingOrderState) Complete() bool {
	return strings.TrimSpace(s.OrderID) != "" &&
		len(s.Cart) > 0 &&
		strings.TrimSpace(s.Billing.CustomerName) != ""
}

// CustomerRecord is the per-customer remote document holding the order list.
type CustomerRecord struct {
	CustomerID string
	Orders     []Order
	Billing    *BillingDetails
	UpdatedAt  time.Time
}

// TrackedOrder is the read-only view produced by the tracking feed.
type TrackedOrder struct {
	Order         Order
	DisplayStatus OrderStatus
	DeliveredAt   *time.Time
}

// MenuItem is a canonical menu entry resolved through the catalog cache.
type MenuItem struct {
	Name     string
	Price    decimal.Decimal
	Category string
	ImageURL string
}

// NormalizeProductName produces the de-facto product key: lower-cased,
// trimmed, inner whitespace collapsed.
func NormalizeProductName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// FormatAmount renders a monetary value with two decimal places. Rounding
// happens here, at presentation, never in intermediate storage.
func FormatAmount(v decimal.Decimal) string {
	return v.StringFixed(2)
}
