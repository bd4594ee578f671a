package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/kvstore"
)

var errCartStoreRequired = errors.New("cart service: store is required")

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartLineNotFound indicates the keyed line does not exist.
var ErrCartLineNotFound = errors.New("cart service: line not found")

const (
	cartSnapshotKey       = "cartSnapshot"
	maxInstructionsLength = 500
)

// CartServiceDeps wires the durable store backing cart persistence.
type CartServiceDeps struct {
	Store  kvstore.Store
	Logger func(context.Context, string, map[string]any)
}

type cartService struct {
	store    kvstore.Store
	sanitize *bluemonday.Policy
	logger   func(context.Context, string, map[string]any)

	mu    sync.Mutex
	lines []domain.CartLine
}

type cartLineSnapshot struct {
	ProductName  string `json:"productName"`
	UnitPrice    string `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty"`
}

// NewCartService constructs a CartService, restoring any persisted snapshot
// so the cart survives a restart even outside an active checkout.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	service := &cartService{
		store:    deps.Store,
		sanitize: bluemonday.StrictPolicy(),
		logger:   logger,
	}
	if err := service.restore(); err != nil {
		// A corrupt snapshot is discarded rather than bricking the cart.
		logger(context.Background(), "cart.snapshot_discarded", map[string]any{"error": err.Error()})
		service.lines = nil
	}
	return service, nil
}

// Add merges the line into the cart keyed by normalised product name.
func (s *cartService) Add(productName string, unitPrice decimal.Decimal, quantity int, instructions string) error {
	name := strings.TrimSpace(productName)
	if name == "" {
		return fmt.Errorf("%w: product name is required", ErrCartInvalidInput)
	}
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	if unitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrCartInvalidInput)
	}

	cleaned := s.cleanInstructions(instructions)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NormalizeProductName(name)
	for i := range s.lines {
		if domain.NormalizeProductName(s.lines[i].ProductName) != key {
			continue
		}
		s.lines[i].Quantity += quantity
		if cleaned != "" {
			s.lines[i].Instructions = cleaned
		}
		return s.persistLocked()
	}

	s.lines = append(s.lines, domain.CartLine{
		ProductName:  name,
		UnitPrice:    unitPrice,
		Quantity:     quantity,
		Instructions: cleaned,
	})
	return s.persistLocked()
}

// UpdateQuantity sets the keyed line's quantity, clamped to a minimum of one.
func (s *cartService) UpdateQuantity(key string, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line := s.findLocked(key)
	if line == nil {
		return ErrCartLineNotFound
	}
	line.Quantity = quantity
	return s.persistLocked()
}

// UpdateInstructions replaces the keyed line's instructions.
func (s *cartService) UpdateInstructions(key, text string) error {
	cleaned := s.cleanInstructions(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	line := s.findLocked(key)
	if line == nil {
		return ErrCartLineNotFound
	}
	line.Instructions = cleaned
	return s.persistLocked()
}

// Remove deletes the keyed line.
func (s *cartService) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := domain.NormalizeProductName(key)
	for i := range s.lines {
		if domain.NormalizeProductName(s.lines[i].ProductName) == normalized {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return s.persistLocked()
		}
	}
	return ErrCartLineNotFound
}

// Clear empties the cart and its persisted snapshot.
func (s *cartService) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	return s.persistLocked()
}

// Lines returns a copy of the current cart lines.
func (s *cartService) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]domain.CartLine, len(s.lines))
	copy(copied, s.lines)
	return copied
}

// Subtotal sums unit price times quantity over all lines without rounding.
func (s *cartService) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	subtotal := decimal.Zero
	for _, line := range s.lines {
		subtotal = subtotal.Add(line.LineTotal())
	}
	return subtotal
}

func (s *cartService) findLocked(key string) *domain.CartLine {
	normalized := domain.NormalizeProductName(key)
	for i := range s.lines {
		if domain.NormalizeProductName(s.lines[i].ProductName) == normalized {
			return &s.lines[i]
		}
	}
	return nil
}

func (s *cartService) cleanInstructions(text string) string {
	cleaned := strings.TrimSpace(s.sanitize.Sanitize(text))
	if len(cleaned) <= maxInstructionsLength {
		return cleaned
	}
	// Truncate on a rune boundary; a byte-level cut could store invalid
	// UTF-8 that the order document write would reject.
	cut := maxInstructionsLength
	for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
		cut--
	}
	return cleaned[:cut]
}

func (s *cartService) persistLocked() error {
	snapshots := make([]cartLineSnapshot, 0, len(s.lines))
	for _, line := range s.lines {
		snapshots = append(snapshots, cartLineSnapshot{
			ProductName:  line.ProductName,
			UnitPrice:    line.UnitPrice.String(),
			Quantity:     line.Quantity,
			Instructions: line.Instructions,
		})
	}

	if len(snapshots) == 0 {
		return s.store.Delete(cartSnapshotKey)
	}

	payload, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("cart service: encode snapshot: %w", err)
	}
	return s.store.Set(cartSnapshotKey, string(payload))
}

func (s *cartService) restore() error {
	raw, err := s.store.Get(cartSnapshotKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var snapshots []cartLineSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshots); err != nil {
		return fmt.Errorf("cart service: decode snapshot: %w", err)
	}

	lines := make([]domain.CartLine, 0, len(snapshots))
	for _, snapshot := range snapshots {
		price, err := decimal.NewFromString(snapshot.UnitPrice)
		if err != nil {
			return fmt.Errorf("cart service: snapshot price %q: %w", snapshot.UnitPrice, err)
		}
		quantity := snapshot.Quantity
		if quantity < 1 {
			quantity = 1
		}
		lines = append(lines, domain.CartLine{
			ProductName:  snapshot.ProductName,
			UnitPrice:    price,
			Quantity:     quantity,
			Instructions: snapshot.Instructions,
		})
	}
	s.lines = lines
	return nil
}
