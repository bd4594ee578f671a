package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	domain "github.com/tableside/ordering/internal/domain"
	pfirestore "github.com/tableside/ordering/internal/platform/firestore"
)

type menuItemDocument struct {
	Name     string `firestore:"name"`
	Price    string `firestore:"price"`
	Category string `firestore:"category,omitempty"`
	ImageURL string `firestore:"imageUrl,omitempty"`
}

// MenuRepository reads the tenant's menu collection.
type MenuRepository struct {
	provider   *pfirestore.Provider
	collection string
}

// NewMenuRepository constructs a repository scoped to a tenant's menu.
func NewMenuRepository(provider *pfirestore.Provider, tenantID string) (*MenuRepository, error) {
	if provider == nil {
		return nil, errors.New("menu repository requires firestore provider")
	}
	tenant := strings.TrimSpace(tenantID)
	if tenant == "" {
		return nil, errors.New("menu repository requires tenant id")
	}
	return &MenuRepository{
		provider:   provider,
		collection: fmt.Sprintf("tenants/%s/menu", tenant),
	}, nil
}

// ListItems fetches every menu item. Documents with an unparsable price are
// skipped rather than failing the whole menu.
func (r *MenuRepository) ListItems(ctx context.Context) ([]domain.MenuItem, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(r.collection).Documents(ctx)
	defer iter.Stop()

	var items []domain.MenuItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("menu.list", err)
		}

		var doc menuItemDocument
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(doc.Price))
		if err != nil {
			continue
		}
		items = append(items, domain.MenuItem{
			Name:     doc.Name,
			Price:    price,
			Category: doc.Category,
			ImageURL: doc.ImageURL,
		})
	}
	return items, nil
}
