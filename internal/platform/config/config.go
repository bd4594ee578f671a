package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultTaxRate              = "0.04"
	defaultTeardownDelay        = 2 * time.Second
	defaultDeliveredHideFloor   = 2 * time.Minute
	defaultDeliveredHideCeiling = 5 * time.Minute
	defaultProfileDir           = ".kiosk"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Tenant    TenantConfig
	Tax       TaxConfig
	Payment   PaymentConfig
	Tracking  TrackingConfig
	Storage   StorageConfig
	Events    EventsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// TenantConfig identifies the restaurant this instance serves. Remote
// document paths are parameterised by the tenant id so one build serves
// every restaurant.
type TenantConfig struct {
	ID             string
	RestaurantName string
}

// TaxConfig holds the tax policy applied at order placement.
type TaxConfig struct {
	Rate decimal.Decimal
}

// PaymentConfig configures the embedded online payment surface.
type PaymentConfig struct {
	EmbeddedOrigin string
	EmbeddedURL    string
	UseProvidedTax bool
	BankRouting    string
	AccountNumber  string
	TeardownDelay  time.Duration
}

// TrackingConfig bounds how long delivered orders stay visible.
type TrackingConfig struct {
	DeliveredHideFloor   time.Duration
	DeliveredHideCeiling time.Duration
}

// StorageConfig locates the durable profile store on disk.
type StorageConfig struct {
	ProfileDir string
}

// EventsConfig names the Pub/Sub topic that receives order lifecycle events.
// An empty topic disables publishing.
type EventsConfig struct {
	TopicID string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the dotenv file consulted during loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = strings.TrimSpace(path)
	}
}

// WithEnvMap supplies environment values directly, bypassing the process env.
// Intended for tests.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
		o.useSystemEnv = false
	}
}

// WithSecretResolver installs the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load reads environment configuration, resolves secret references, applies
// defaults, and validates required fields.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	env := options.envMap
	if env == nil {
		env = map[string]string{}
	}
	if options.useSystemEnv {
		if fileEnv, err := godotenv.Read(options.envFile); err == nil {
			for k, v := range fileEnv {
				env[k] = v
			}
		}
		for _, pair := range os.Environ() {
			if idx := strings.Index(pair, "="); idx > 0 {
				env[pair[:idx]] = pair[idx+1:]
			}
		}
	}

	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         valueOrDefault(lookup("KIOSK_SERVER_PORT"), defaultPort),
			ReadTimeout:  durationOrDefault(lookup("KIOSK_SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationOrDefault(lookup("KIOSK_SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationOrDefault(lookup("KIOSK_SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup("KIOSK_FIRESTORE_PROJECT_ID"),
			EmulatorHost: lookup("KIOSK_FIRESTORE_EMULATOR_HOST"),
		},
		Tenant: TenantConfig{
			ID:             lookup("KIOSK_TENANT_ID"),
			RestaurantName: lookup("KIOSK_TENANT_RESTAURANT_NAME"),
		},
		Payment: PaymentConfig{
			EmbeddedOrigin: lookup("KIOSK_PAYMENT_EMBEDDED_ORIGIN"),
			EmbeddedURL:    lookup("KIOSK_PAYMENT_EMBEDDED_URL"),
			UseProvidedTax: boolOrDefault(lookup("KIOSK_PAYMENT_USE_PROVIDED_TAX"), true),
			BankRouting:    lookup("KIOSK_PAYMENT_BANK_ROUTING"),
			AccountNumber:  lookup("KIOSK_PAYMENT_ACCOUNT_NUMBER"),
			TeardownDelay:  durationOrDefault(lookup("KIOSK_PAYMENT_TEARDOWN_DELAY"), defaultTeardownDelay),
		},
		Tracking: TrackingConfig{
			DeliveredHideFloor:   durationOrDefault(lookup("KIOSK_TRACKING_DELIVERED_HIDE_FLOOR"), defaultDeliveredHideFloor),
			DeliveredHideCeiling: durationOrDefault(lookup("KIOSK_TRACKING_DELIVERED_HIDE_CEILING"), defaultDeliveredHideCeiling),
		},
		Storage: StorageConfig{
			ProfileDir: valueOrDefault(lookup("KIOSK_STORAGE_PROFILE_DIR"), defaultProfileDir),
		},
		Events: EventsConfig{
			TopicID: lookup("KIOSK_EVENTS_TOPIC_ID"),
		},
	}

	rate, err := decimal.NewFromString(valueOrDefault(lookup("KIOSK_TAX_RATE"), defaultTaxRate))
	if err != nil || rate.IsNegative() {
		return Config{}, &ValidationError{fields: []string{"Tax.Rate"}}
	}
	cfg.Tax.Rate = rate

	if err := resolveSecrets(ctx, &cfg, options.secret); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	targets := []*string{&cfg.Payment.BankRouting, &cfg.Payment.AccountNumber}
	for _, target := range targets {
		ref := strings.TrimSpace(*target)
		if !strings.HasPrefix(ref, "secret://") {
			continue
		}
		if resolver == nil {
			return &SecretError{Ref: ref, Err: errors.New("secret resolver not configured")}
		}
		value, err := resolver.ResolveSecret(ctx, ref)
		if err != nil {
			return &SecretError{Ref: ref, Err: err}
		}
		*target = strings.TrimSpace(value)
	}
	return nil
}

func validate(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.Firestore.ProjectID) == "" && strings.TrimSpace(cfg.Firestore.EmulatorHost) == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Tenant.ID) == "" {
		missing = append(missing, "Tenant.ID")
	}
	if cfg.Tracking.DeliveredHideFloor <= 0 || cfg.Tracking.DeliveredHideCeiling < cfg.Tracking.DeliveredHideFloor {
		missing = append(missing, "Tracking.DeliveredHide")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{fields: missing}
	}
	return nil
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func durationOrDefault(value string, fallback time.Duration) time.Duration {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(trimmed); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func boolOrDefault(value string, fallback bool) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	if parsed, err := strconv.ParseBool(trimmed); err == nil {
		return parsed
	}
	return fallback
}
