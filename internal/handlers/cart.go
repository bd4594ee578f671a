package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/platform/httpx"
	"github.com/tableside/ordering/internal/services"
)

// CartHandlers exposes the cart editing endpoints.
type CartHandlers struct {
	carts   services.CartService
	catalog services.CatalogService
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers resolving menu prices through the
// catalog before touching the cart.
func NewCartHandlers(carts services.CartService, catalog services.CatalogService) *CartHandlers {
	return &CartHandlers{carts: carts, catalog: catalog}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemKey}", h.updateItem)
	r.Delete("/items/{itemKey}", h.removeItem)
}

type cartLinePayload struct {
	ProductName  string `json:"productName"`
	UnitPrice    string `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty"`
	LineTotal    string `json:"lineTotal"`
}

type cartResponse struct {
	Lines    []cartLinePayload `json:"lines"`
	Subtotal string            `json:"subtotal"`
}

func (h *CartHandlers) buildCartResponse() cartResponse {
	lines := h.carts.Lines()
	payload := cartResponse{
		Lines:    make([]cartLinePayload, 0, len(lines)),
		Subtotal: domain.FormatAmount(h.carts.Subtotal()),
	}
	for _, line := range lines {
		payload.Lines = append(payload.Lines, cartLinePayload{
			ProductName:  line.ProductName,
			UnitPrice:    domain.FormatAmount(line.UnitPrice),
			Quantity:     line.Quantity,
			Instructions: line.Instructions,
			LineTotal:    domain.FormatAmount(line.LineTotal()),
		})
	}
	return payload
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, h.buildCartResponse())
}

type addItemRequest struct {
	ProductName  string `json:"productName"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil || h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req addItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	item, found, err := h.catalog.Resolve(ctx, req.ProductName)
	if err != nil {
		if errors.Is(err, services.ErrCatalogInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productName is required", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "menu catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	if !found {
		httpx.WriteError(ctx, w, httpx.NewError("menu_item_not_found", "no menu item matches productName", http.StatusNotFound))
		return
	}

	if err := h.carts.Add(item.Name, item.Price, req.Quantity, req.Instructions); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, h.buildCartResponse())
}

type updateItemRequest struct {
	Quantity     *int    `json:"quantity"`
	Instructions *string `json:"instructions"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	key, err := url.PathUnescape(chi.URLParam(r, "itemKey"))
	if err != nil || strings.TrimSpace(key) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item key is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Quantity == nil && req.Instructions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity or instructions is required", http.StatusBadRequest))
		return
	}

	if req.Quantity != nil {
		if err := h.carts.UpdateQuantity(key, *req.Quantity); err != nil {
			h.writeCartError(ctx, w, err)
			return
		}
	}
	if req.Instructions != nil {
		if err := h.carts.UpdateInstructions(key, *req.Instructions); err != nil {
			h.writeCartError(ctx, w, err)
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, h.buildCartResponse())
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	key, err := url.PathUnescape(chi.URLParam(r, "itemKey"))
	if err != nil || strings.TrimSpace(key) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item key is required", http.StatusBadRequest))
		return
	}

	if err := h.carts.Remove(key); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.buildCartResponse())
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if err := h.carts.Clear(); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "no cart line matches the item key", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart update failed", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
