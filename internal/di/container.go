// Package di assembles the kiosk's repositories and services for runtime
// use. Handlers depend on the service contracts; tests can build the same
// graph over in-memory stores.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tableside/ordering/internal/platform/config"
	pfirestore "github.com/tableside/ordering/internal/platform/firestore"
	"github.com/tableside/ordering/internal/platform/kvstore"
	"github.com/tableside/ordering/internal/repositories"
	firestoreRepo "github.com/tableside/ordering/internal/repositories/firestore"
	"github.com/tableside/ordering/internal/services"
)

const customerIDKey = "customerId"

// Repositories bundles the remote-store contracts the services rely upon.
type Repositories struct {
	Records  repositories.CustomerRecordRepository
	Counters repositories.CounterRepository
	Menu     repositories.MenuRepository
	Health   repositories.HealthRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart         services.CartService
	PendingState services.PendingStateService
	Janitor      services.JanitorService
	OrderNumbers services.OrderNumberService
	Router       services.PaymentRouter
	Verification services.VerificationService
	Embedded     services.EmbeddedChannel
	Tracking     services.TrackingService
	Catalog      services.CatalogService
}

// ContainerDeps carries the platform-level inputs for container construction.
type ContainerDeps struct {
	Provider *pfirestore.Provider
	Durable  kvstore.Store
	Session  kvstore.Store

	// Events is optional; nil disables lifecycle publishing.
	Events services.OrderEventSink

	// ExtraHealthChecks are probed alongside the built-in firestore check.
	ExtraHealthChecks []repositories.DependencyCheck

	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	CustomerID   string
	Repositories Repositories
	Services     Services
}

// NewContainer constructs the runtime dependency graph.
func NewContainer(cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Provider == nil {
		return nil, errors.New("di: firestore provider is required")
	}
	if deps.Durable == nil || deps.Session == nil {
		return nil, errors.New("di: durable and session stores are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	customerID, err := resolveCustomerID(deps.Durable, clock)
	if err != nil {
		return nil, fmt.Errorf("di: resolve customer id: %w", err)
	}

	repos, err := buildRepositories(cfg, deps, clock)
	if err != nil {
		return nil, err
	}
	svcs, err := buildServices(cfg, deps, repos, customerID, clock, logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		CustomerID:   customerID,
		Repositories: repos,
		Services:     svcs,
	}, nil
}

// resolveCustomerID loads the kiosk's durable anonymous identity, minting one
// on first run.
func resolveCustomerID(durable kvstore.Store, clock func() time.Time) (string, error) {
	id, err := durable.Get(customerIDKey)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return "", err
	}

	id = "kiosk-" + ulid.MustNew(ulid.Timestamp(clock().UTC()), ulid.DefaultEntropy()).String()
	if err := durable.Set(customerIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}

func buildRepositories(cfg config.Config, deps ContainerDeps, clock func() time.Time) (Repositories, error) {
	records, err := firestoreRepo.NewCustomerRecordRepository(deps.Provider, cfg.Tenant.ID, clock)
	if err != nil {
		return Repositories{}, fmt.Errorf("di: customer record repository: %w", err)
	}
	counters, err := firestoreRepo.NewCounterRepository(deps.Provider, cfg.Tenant.ID, clock)
	if err != nil {
		return Repositories{}, fmt.Errorf("di: counter repository: %w", err)
	}
	menu, err := firestoreRepo.NewMenuRepository(deps.Provider, cfg.Tenant.ID)
	if err != nil {
		return Repositories{}, fmt.Errorf("di: menu repository: %w", err)
	}

	checks := append([]repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := records.Get(ctx, "readiness-probe")
				if err == nil {
					return nil
				}
				var repoErr repositories.RepositoryError
				if errors.As(err, &repoErr) && repoErr.IsNotFound() {
					return nil
				}
				return err
			},
		},
	}, deps.ExtraHealthChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return Repositories{}, fmt.Errorf("di: health repository: %w", err)
	}

	return Repositories{
		Records:  records,
		Counters: counters,
		Menu:     menu,
		Health:   health,
	}, nil
}

func buildServices(cfg config.Config, deps ContainerDeps, repos Repositories, customerID string, clock func() time.Time, logger func(context.Context, string, map[string]any)) (Services, error) {
	cart, err := services.NewCartService(services.CartServiceDeps{
		Store:  deps.Durable,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("di: cart service: %w", err)
	}

	pendingState, err := services.NewPendingStateService(services.PendingStateServiceDeps{
		Durable: deps.Durable,
		Session: deps.Session,
	})
	if err != nil {
		return Services{}, fmt.Errorf("di: pending state service: %w", err)
	}

	janitor, err := services.NewJanitorService(services.JanitorServiceDeps{
		Records: repos.Records,
		Events:  deps.Events,
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("di: janitor service: %w", err)
	}

	orderNumbers, err := services.NewOrderNumberService(services.OrderNumberServiceDeps{
		Counters: repos.Counters,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("di: order number service: %w", err)
	}

	router, err := services.NewPaymentRouter(services.PaymentRouterDeps{
		Cart:         cart,
		PendingState: pendingState,
		Janitor:      janitor,
		OrderNumbers: orderNumbers,
		Records:      repos.Records,
		Events:       deps.Events,
		TaxRate:      cfg.Tax.Rate,
		Clock:        clock,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("di: payment router: %w", err)
	}

	verification, err := services.NewVerificationService(services.VerificationServiceDeps{
		Records:      repos.Records,
		PendingState: pendingState,
		Router:       router,
		CustomerID:   customerID,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("di: verification service: %w", err)
	}

	var embedded services.EmbeddedChannel
	if cfg.Payment.EmbeddedOrigin != "" && cfg.Payment.EmbeddedURL != "" {
		embedded, err = services.NewEmbeddedChannel(services.EmbeddedChannelDeps{
			Router:         router,
			PendingState:   pendingState,
			Records:        repos.Records,
			CustomerID:     customerID,
			ExpectedOrigin: cfg.Payment.EmbeddedOrigin,
			SurfaceURL:     cfg.Payment.EmbeddedURL,
			TaxRate:        cfg.Tax.Rate,
			UseProvidedTax: cfg.Payment.UseProvidedTax,
			TenantID:       cfg.Tenant.ID,
			RestaurantName: cfg.Tenant.RestaurantName,
			BankRouting:    cfg.Payment.BankRouting,
			AccountNumber:  cfg.Payment.AccountNumber,
			TeardownDelay:  cfg.Payment.TeardownDelay,
			Logger:         logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("di: embedded channel: %w", err)
		}
	}

	tracking, err := services.NewTrackingService(services.TrackingServiceDeps{
		Records:              repos.Records,
		DeliveredHideFloor:   cfg.Tracking.DeliveredHideFloor,
		DeliveredHideCeiling: cfg.Tracking.DeliveredHideCeiling,
		Clock:                clock,
		Logger:               logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("di: tracking service: %w", err)
	}

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Loader: repos.Menu.ListItems,
		TTL:    5 * time.Minute,
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("di: catalog service: %w", err)
	}

	return Services{
		Cart:         cart,
		PendingState: pendingState,
		Janitor:      janitor,
		OrderNumbers: orderNumbers,
		Router:       router,
		Verification: verification,
		Embedded:     embedded,
		Tracking:     tracking,
		Catalog:      catalog,
	}, nil
}
