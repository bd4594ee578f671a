package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tableside/ordering/internal/repositories"
)

var (
	errVerificationRecordsRequired = errors.New("verification service: record repository is required")
	errVerificationPendingRequired = errors.New("verification service: pending state service is required")
	errVerificationRouterRequired  = errors.New("verification service: payment router is required")
	errVerificationCustomerNeeded  = errors.New("verification service: customer id is required")
)

// ErrVerificationNoOrder indicates no in-flight order exists to verify against.
var ErrVerificationNoOrder = errors.New("verification service: no pending order")

// ErrVerificationUnavailable indicates no expected code could be determined.
var ErrVerificationUnavailable = errors.New("verification service: no expected code available")

// ErrVerificationMismatch is the sentinel matched by errors.Is for mismatches.
var ErrVerificationMismatch = errors.New("verification service: code mismatch")

// Expected-code sources, in priority order.
const (
	VerificationSourceSession = "session"
	VerificationSourceRecord  = "record"
)

// VerificationMismatchError reports a failed attempt with the entered value
// and which expected source was consulted. Retries are unlimited.
type VerificationMismatchError struct {
	Entered string
	Source  string
}

// Error implements the error interface.
func (e *VerificationMismatchError) Error() string {
	return fmt.Sprintf("verification service: entered code %q does not match the %s code", e.Entered, e.Source)
}

// Is lets errors.Is treat any mismatch as ErrVerificationMismatch.
func (e *VerificationMismatchError) Is(target error) bool {
	return target == ErrVerificationMismatch
}

// VerificationServiceDeps wires the code comparison flow.
type VerificationServiceDeps struct {
	Records      repositories.CustomerRecordRepository
	PendingState PendingStateService
	Router       PaymentRouter
	CustomerID   string
	Logger       func(context.Context, string, map[string]any)
}

type verificationService struct {
	records      repositories.CustomerRecordRepository
	pendingState PendingStateService
	router       PaymentRouter
	customerID   string
	logger       func(context.Context, string, map[string]any)
}

// NewVerificationService constructs a VerificationService enforcing dependency validation.
func NewVerificationService(deps VerificationServiceDeps) (VerificationService, error) {
	if deps.Records == nil {
		return nil, errVerificationRecordsRequired
	}
	if deps.PendingState == nil {
		return nil, errVerificationPendingRequired
	}
	if deps.Router == nil {
		return nil, errVerificationRouterRequired
	}
	customerID := strings.TrimSpace(deps.CustomerID)
	if customerID == "" {
		return nil, errVerificationCustomerNeeded
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &verificationService{
		records:      deps.Records,
		pendingState: deps.PendingState,
		router:       deps.Router,
		customerID:   customerID,
		logger:       logger,
	}, nil
}

// Submit compares the entered code against the session-scoped pending code
// first, then the code stored on the remote order. On match it flips the
// order to paid through the router and clears the session code.
func (s *verificationService) Submit(ctx context.Context, entered string) (VerificationOutcome, error) {
	orderID, ok := s.router.CurrentOrderID()
	if !ok {
		orderID, ok = s.pendingState.PendingOrderID()
	}
	if !ok {
		return VerificationOutcome{}, ErrVerificationNoOrder
	}

	normalized := stripNonDigits(entered)

	expected, source, err := s.expectedCode(ctx, orderID)
	if err != nil {
		return VerificationOutcome{}, err
	}

	if len(normalized) != 4 || normalized != expected {
		s.logger(ctx, "verification.mismatch", map[string]any{
			"orderId": orderID,
			"entered": normalized,
			"source":  source,
		})
		return VerificationOutcome{}, &VerificationMismatchError{Entered: normalized, Source: source}
	}

	if err := s.pendingState.ClearPendingVerificationCode(); err != nil {
		s.logger(ctx, "verification.session_code_clear_failed", map[string]any{"error": err.Error()})
	}
	if err := s.router.Resolve(ctx); err != nil {
		return VerificationOutcome{}, err
	}

	s.logger(ctx, "verification.matched", map[string]any{"orderId": orderID, "source": source})
	return VerificationOutcome{OrderID: orderID, Source: source}, nil
}

// expectedCode prefers the session-scoped value generated by this session
// over the code persisted on the record.
func (s *verificationService) expectedCode(ctx context.Context, orderID string) (string, string, error) {
	if code, ok := s.pendingState.PendingVerificationCode(); ok {
		return code, VerificationSourceSession, nil
	}

	record, err := s.records.Get(ctx, s.customerID)
	if err != nil {
		if isRepoNotFound(err) {
			return "", "", ErrVerificationUnavailable
		}
		return "", "", fmt.Errorf("verification service: load record: %w", err)
	}
	for _, order := range record.Orders {
		if order.ID == orderID && strings.TrimSpace(order.VerificationCode) != "" {
			return order.VerificationCode, VerificationSourceRecord, nil
		}
	}
	return "", "", ErrVerificationUnavailable
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
