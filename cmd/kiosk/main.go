package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/tableside/ordering/internal/di"
	"github.com/tableside/ordering/internal/handlers"
	"github.com/tableside/ordering/internal/platform/config"
	"github.com/tableside/ordering/internal/platform/events"
	pfirestore "github.com/tableside/ordering/internal/platform/firestore"
	"github.com/tableside/ordering/internal/platform/kvstore"
	"github.com/tableside/ordering/internal/platform/observability"
	"github.com/tableside/ordering/internal/platform/secrets"
	"github.com/tableside/ordering/internal/repositories"
	"github.com/tableside/ordering/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("kiosk")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var eventSink services.OrderEventSink
	var extraChecks []repositories.DependencyCheck
	if cfg.Events.TopicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		topic := pubsubClient.Topic(cfg.Events.TopicID)
		defer topic.Stop()

		publisher, err := events.NewPubSubOrderPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		eventSink = events.NewOrderEventSink(publisher, cfg.Tenant.ID)

		extraChecks = append(extraChecks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %q does not exist", cfg.Events.TopicID)
				}
				return nil
			},
		})
	} else {
		logger.Info("order event publishing disabled; no topic configured")
	}

	durableStore, err := kvstore.NewFileStore(filepath.Join(cfg.Storage.ProfileDir, "durable.json"))
	if err != nil {
		logger.Fatal("failed to open durable store", zap.Error(err))
	}
	sessionStore := kvstore.NewMemoryStore()

	container, err := di.NewContainer(cfg, di.ContainerDeps{
		Provider:          firestoreProvider,
		Durable:           durableStore,
		Session:           sessionStore,
		Events:            eventSink,
		ExtraHealthChecks: extraChecks,
		Clock:             time.Now,
		Logger:            observability.EventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	logger.Info("kiosk identity resolved", zap.String("customerId", observability.SanitizeCustomerID(container.CustomerID)))

	httpLogger := logger.Named("http")
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(projectID),
		observability.CustomerContextMiddleware(container.CustomerID),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(projectID),
	}

	cartHandlers := handlers.NewCartHandlers(container.Services.Cart, container.Services.Catalog)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Router, container.Services.Verification, container.CustomerID)
	trackingHandlers := handlers.NewTrackingHandlers(container.Services.Tracking, container.CustomerID)
	healthHandlers := handlers.NewHealthHandlers(container.Repositories.Health)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithTrackingRoutes(trackingHandlers.Routes),
	}
	if container.Services.Embedded != nil {
		paymentHandlers := handlers.NewPaymentHandlers(container.Services.Embedded)
		opts = append(opts, handlers.WithPaymentRoutes(paymentHandlers.Routes))
	} else {
		logger.Info("embedded payment surface not configured; online payment routes disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("kiosk ordering api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := strings.TrimSpace(os.Getenv("KIOSK_FIRESTORE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	fallbackPath := strings.TrimSpace(os.Getenv("KIOSK_SECRET_FALLBACK_FILE"))
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	opts = append(opts, secrets.WithFallbackFile(fallbackPath))

	return secrets.NewFetcher(ctx, opts...)
}
