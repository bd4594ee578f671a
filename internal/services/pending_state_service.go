package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/kvstore"
)

var (
	errPendingDurableRequired = errors.New("pending state service: durable store is required")
	errPendingSessionRequired = errors.New("pending state service: session store is required")
)

// Storage keys. The order id and verification code live in the session
// store so they are not resurrected days later from durable storage.
const (
	pendingStateKey            = "temporaryOrderState"
	pendingOrderIDKey          = "pendingOrderId"
	pendingVerificationCodeKey = "pendingVerificationCode"
)

// PendingStateServiceDeps wires the two storage scopes backing in-flight state.
type PendingStateServiceDeps struct {
	Durable kvstore.Store
	Session kvstore.Store
}

type pendingStateService struct {
	durable kvstore.Store
	session kvstore.Store
}

type pendingStateSnapshot struct {
	OrderID       string             `json:"orderId"`
	CustomerID    string             `json:"customerId,omitempty"`
	Cart          []cartLineSnapshot `json:"cart"`
	Billing       billingSnapshot    `json:"billing"`
	PaymentMethod string             `json:"paymentMethod,omitempty"`
	PaymentStatus string             `json:"paymentStatus"`
}

type billingSnapshot struct {
	CustomerName string `json:"customerName"`
	Phone        string `json:"phone,omitempty"`
	TableNumber  string `json:"tableNumber,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// NewPendingStateService constructs a PendingStateService over the two stores.
func NewPendingStateService(deps PendingStateServiceDeps) (PendingStateService, error) {
	if deps.Durable == nil {
		return nil, errPendingDurableRequired
	}
	if deps.Session == nil {
		return nil, errPendingSessionRequired
	}
	return &pendingStateService{durable: deps.Durable, session: deps.Session}, nil
}

// Save overwrites the single in-flight slot and the session order id.
func (s *pendingStateService) Save(state domain.PendingOrderState) error {
	if strings.TrimSpace(state.OrderID) == "" {
		return errors.New("pending state service: order id is required")
	}

	snapshot := pendingStateSnapshot{
		OrderID:       state.OrderID,
		CustomerID:    state.CustomerID,
		PaymentMethod: string(state.PaymentMethod),
		PaymentStatus: string(state.PaymentStatus),
		Billing: billingSnapshot{
			CustomerName: state.Billing.CustomerName,
			Phone:        state.Billing.Phone,
			TableNumber:  state.Billing.TableNumber,
			Notes:        state.Billing.Notes,
		},
	}
	for _, line := range state.Cart {
		snapshot.Cart = append(snapshot.Cart, cartLineSnapshot{
			ProductName:  line.ProductName,
			UnitPrice:    line.UnitPrice.String(),
			Quantity:     line.Quantity,
			Instructions: line.Instructions,
		})
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("pending state service: encode: %w", err)
	}
	if err := s.durable.Set(pendingStateKey, string(payload)); err != nil {
		return err
	}
	return s.session.Set(pendingOrderIDKey, state.OrderID)
}

// Load returns the recoverable state. Absence of the complete triple is
// "nothing to recover", never an error.
func (s *pendingStateService) Load() (domain.PendingOrderState, bool, error) {
	raw, err := s.durable.Get(pendingStateKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return domain.PendingOrderState{}, false, nil
	}
	if err != nil {
		return domain.PendingOrderState{}, false, err
	}

	var snapshot pendingStateSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return domain.PendingOrderState{}, false, fmt.Errorf("pending state service: decode: %w", err)
	}

	state := domain.PendingOrderState{
		OrderID:       snapshot.OrderID,
		CustomerID:    snapshot.CustomerID,
		PaymentMethod: domain.PaymentMethod(snapshot.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(snapshot.PaymentStatus),
		Billing: domain.BillingDetails{
			CustomerName: snapshot.Billing.CustomerName,
			Phone:        snapshot.Billing.Phone,
			TableNumber:  snapshot.Billing.TableNumber,
			Notes:        snapshot.Billing.Notes,
		},
	}
	for _, line := range snapshot.Cart {
		unitPrice, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			return domain.PendingOrderState{}, false, fmt.Errorf("pending state service: snapshot price %q: %w", line.UnitPrice, err)
		}
		state.Cart = append(state.Cart, domain.CartLine{
			ProductName:  line.ProductName,
			UnitPrice:    unitPrice,
			Quantity:     line.Quantity,
			Instructions: line.Instructions,
		})
	}

	if !state.Complete() {
		return domain.PendingOrderState{}, false, nil
	}
	return state, true, nil
}

// Clear removes the in-flight state and both session-scoped keys.
func (s *pendingStateService) Clear() error {
	if err := s.durable.Delete(pendingStateKey); err != nil {
		return err
	}
	if err := s.session.Delete(pendingOrderIDKey); err != nil {
		return err
	}
	return s.session.Delete(pendingVerificationCodeKey)
}

// PendingOrderID returns the session-scoped order id, if any.
func (s *pendingStateService) PendingOrderID() (string, bool) {
	return s.sessionValue(pendingOrderIDKey)
}

// PendingVerificationCode returns the session-scoped code, if any.
func (s *pendingStateService) PendingVerificationCode() (string, bool) {
	return s.sessionValue(pendingVerificationCodeKey)
}

// SetPendingVerificationCode stores the session-scoped expected code.
func (s *pendingStateService) SetPendingVerificationCode(code string) error {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return errors.New("pending state service: verification code is required")
	}
	return s.session.Set(pendingVerificationCodeKey, trimmed)
}

// ClearPendingVerificationCode drops the session-scoped code.
func (s *pendingStateService) ClearPendingVerificationCode() error {
	return s.session.Delete(pendingVerificationCodeKey)
}

func (s *pendingStateService) sessionValue(key string) (string, bool) {
	value, err := s.session.Get(key)
	if err != nil || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}
