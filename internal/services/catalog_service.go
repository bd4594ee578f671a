package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/tableside/ordering/internal/domain"
)

var errCatalogLoaderRequired = errors.New("catalog service: loader is required")

// ErrCatalogInvalidInput indicates a blank product name.
var ErrCatalogInvalidInput = errors.New("catalog service: invalid input")

// MenuLoader fetches the full menu from the remote record.
type MenuLoader func(ctx context.Context) ([]domain.MenuItem, error)

// CatalogServiceDeps wires the menu catalog cache.
type CatalogServiceDeps struct {
	Loader MenuLoader

	// TTL bounds how long a loaded menu is served without a reload.
	// Zero keeps the cache until Invalidate.
	TTL    time.Duration
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type catalogService struct {
	loader MenuLoader
	ttl    time.Duration
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)

	mu       sync.Mutex
	items    map[string]domain.MenuItem
	loadedAt time.Time
}

// NewCatalogService constructs a CatalogService enforcing dependency validation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Loader == nil {
		return nil, errCatalogLoaderRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		loader: deps.Loader,
		ttl:    deps.TTL,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Resolve looks up a menu item by normalised name, loading the menu when the
// cache is empty or stale.
func (s *catalogService) Resolve(ctx context.Context, productName string) (domain.MenuItem, bool, error) {
	key := domain.NormalizeProductName(productName)
	if key == "" {
		return domain.MenuItem{}, false, ErrCatalogInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staleLocked() {
		if err := s.reloadLocked(ctx); err != nil {
			return domain.MenuItem{}, false, err
		}
	}

	item, ok := s.items[key]
	return item, ok, nil
}

// Invalidate drops the cached menu so the next Resolve reloads it.
func (s *catalogService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

func (s *catalogService) staleLocked() bool {
	if s.items == nil {
		return true
	}
	if s.ttl <= 0 {
		return false
	}
	return s.clock().Sub(s.loadedAt) >= s.ttl
}

func (s *catalogService) reloadLocked(ctx context.Context) error {
	loaded, err := s.loader(ctx)
	if err != nil {
		return fmt.Errorf("catalog service: load menu: %w", err)
	}

	items := make(map[string]domain.MenuItem, len(loaded))
	for _, item := range loaded {
		key := domain.NormalizeProductName(item.Name)
		if key == "" {
			continue
		}
		items[key] = item
	}
	s.items = items
	s.loadedAt = s.clock()
	s.logger(ctx, "catalog.menu_loaded", map[string]any{"items": len(items)})
	return nil
}
