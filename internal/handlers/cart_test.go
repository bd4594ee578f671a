package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/kvstore"
	"github.com/tableside/ordering/internal/services"
)

func newCartServer(t *testing.T) (*httptest.Server, services.CartService) {
	t.Helper()

	carts, err := services.NewCartService(services.CartServiceDeps{Store: kvstore.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Loader: func(context.Context) ([]domain.MenuItem, error) {
			return []domain.MenuItem{
				{Name: "Green Tea", Price: decimal.RequireFromString("3.00")},
				{Name: "Set Menu", Price: decimal.RequireFromString("100.00")},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	r := chi.NewRouter()
	r.Route("/cart", NewCartHandlers(carts, catalog).Routes)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, carts
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var payload map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, payload
}

func TestAddItemResolvesCatalogPrice(t *testing.T) {
	server, _ := newCartServer(t)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/cart/items",
		`{"productName":"  GREEN   tea ","quantity":2,"instructions":"no ice"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if payload["subtotal"] != "6.00" {
		t.Fatalf("expected subtotal 6.00, got %v", payload["subtotal"])
	}

	lines, ok := payload["lines"].([]any)
	if !ok || len(lines) != 1 {
		t.Fatalf("expected one line, got %v", payload["lines"])
	}
	line := lines[0].(map[string]any)
	if line["unitPrice"] != "3.00" || line["quantity"] != float64(2) {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestAddUnknownItemReturnsNotFound(t *testing.T) {
	server, _ := newCartServer(t)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/cart/items", `{"productName":"ramen"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if payload["error"] != "menu_item_not_found" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
}

func TestUpdateItemQuantityClampsToOne(t *testing.T) {
	server, carts := newCartServer(t)
	if _, payload := doJSON(t, http.MethodPost, server.URL+"/cart/items", `{"productName":"green tea"}`); payload == nil {
		t.Fatal("expected add response")
	}

	resp, _ := doJSON(t, http.MethodPatch, server.URL+"/cart/items/green%20tea", `{"quantity":0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	lines := carts.Lines()
	if len(lines) != 1 || lines[0].Quantity != 1 {
		t.Fatalf("expected quantity clamped to 1, got %#v", lines)
	}
}

func TestRemoveMissingItemReturnsNotFound(t *testing.T) {
	server, _ := newCartServer(t)

	resp, payload := doJSON(t, http.MethodDelete, server.URL+"/cart/items/ramen", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if payload["error"] != "cart_line_not_found" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
}

func TestClearCartEmptiesLines(t *testing.T) {
	server, carts := newCartServer(t)
	doJSON(t, http.MethodPost, server.URL+"/cart/items", `{"productName":"set menu"}`)

	resp, _ := doJSON(t, http.MethodDelete, server.URL+"/cart", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(carts.Lines()) != 0 {
		t.Fatal("expected empty cart after clear")
	}
}
