package handlers

import (
	"context"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/services"
)

type stubPaymentRouter struct {
	placeFn   func(ctx context.Context, req services.PlaceOrderRequest) (services.PlacementResult, error)
	resolveFn func(ctx context.Context) error
	abandonFn func(ctx context.Context) error
	recoverFn func(ctx context.Context) (domain.PendingOrderState, bool)
	state     services.RouterState
	currentID string
}

func (s *stubPaymentRouter) PlaceOrder(ctx context.Context, req services.PlaceOrderRequest) (services.PlacementResult, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, req)
	}
	return services.PlacementResult{}, nil
}

func (s *stubPaymentRouter) Resolve(ctx context.Context) error {
	if s.resolveFn != nil {
		return s.resolveFn(ctx)
	}
	return nil
}

func (s *stubPaymentRouter) Abandon(ctx context.Context) error {
	if s.abandonFn != nil {
		return s.abandonFn(ctx)
	}
	return nil
}

func (s *stubPaymentRouter) Recover(ctx context.Context) (domain.PendingOrderState, bool) {
	if s.recoverFn != nil {
		return s.recoverFn(ctx)
	}
	return domain.PendingOrderState{}, false
}

func (s *stubPaymentRouter) State() services.RouterState {
	if s.state == "" {
		return services.RouterStateIdle
	}
	return s.state
}

func (s *stubPaymentRouter) CurrentOrderID() (string, bool) {
	return s.currentID, s.currentID != ""
}

type stubVerificationService struct {
	submitFn func(ctx context.Context, entered string) (services.VerificationOutcome, error)
}

func (s *stubVerificationService) Submit(ctx context.Context, entered string) (services.VerificationOutcome, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, entered)
	}
	return services.VerificationOutcome{}, nil
}

type stubEmbeddedChannel struct {
	mountFn  func(ctx context.Context) (string, error)
	handleFn func(ctx context.Context, origin string, data []byte) (services.EmbeddedSignal, error)
	backFn   func(ctx context.Context) error
}

func (s *stubEmbeddedChannel) Mount(ctx context.Context) (string, error) {
	if s.mountFn != nil {
		return s.mountFn(ctx)
	}
	return "", services.ErrEmbeddedNoOrder
}

func (s *stubEmbeddedChannel) HandleMessage(ctx context.Context, origin string, data []byte) (services.EmbeddedSignal, error) {
	if s.handleFn != nil {
		return s.handleFn(ctx, origin, data)
	}
	return services.EmbeddedSignal{Kind: services.SignalNone}, nil
}

func (s *stubEmbeddedChannel) Back(ctx context.Context) error {
	if s.backFn != nil {
		return s.backFn(ctx)
	}
	return nil
}

type stubTrackingService struct {
	startFn func(ctx context.Context, customerID string) (<-chan []domain.TrackedOrder, error)
}

func (s *stubTrackingService) Start(ctx context.Context, customerID string) (<-chan []domain.TrackedOrder, error) {
	if s.startFn != nil {
		return s.startFn(ctx, customerID)
	}
	ch := make(chan []domain.TrackedOrder)
	close(ch)
	return ch, nil
}

type stubHealthRepository struct {
	collectFn func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}
