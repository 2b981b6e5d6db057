package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hashstyles/hashstyles/internal/cart"
	"github.com/hashstyles/hashstyles/internal/identity"
	"github.com/hashstyles/hashstyles/internal/workspace"
)

const maxLineQuantity = 99

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type CartResponseDTO struct {
	Items   []lineDTO       `json:"items"`
	Total   decimal.Decimal `json:"total"`
	Count   int             `json:"count"`
	Version uint64          `json:"version"`
}

func toCartDTO(s cart.Snapshot) CartResponseDTO {
	dto := CartResponseDTO{Items: make([]lineDTO, 0, len(s.Lines)), Total: s.Total, Version: s.Version}
	for _, l := range s.Lines {
		dto.Items = append(dto.Items, toLineDTO(l))
		dto.Count += l.Quantity
	}
	return dto
}

type MeResponseDTO struct {
	User          *identity.User `json:"user"`
	Admin         bool           `json:"admin"`
	CartCount     int            `json:"cart_count"`
	WishlistCount int            `json:"wishlist_count"`
}

// requireWorkspace returns the caller's workspace or writes a 401.
func requireWorkspace(w http.ResponseWriter, r *http.Request) *workspace.Workspace {
	ws := workspaceFromContext(r.Context())
	if ws == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
	}
	return ws
}

// GET /api/v1/cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(ws.Cart.Snapshot()))
}

// POST /api/v1/cart/items
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 || req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	product, err := h.Catalog.Get(r.Context(), req.ProductID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := ws.Cart.Add(r.Context(), *product, req.Size, req.Quantity); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartDTO(ws.Cart.Snapshot()))
}

// POST /api/v1/cart/items/{slug}/increment?size=
func (h *Handler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	h.adjustItem(w, r, (*cart.Ledger).Increment)
}

// POST /api/v1/cart/items/{slug}/decrement?size=
func (h *Handler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	h.adjustItem(w, r, (*cart.Ledger).Decrement)
}

func (h *Handler) adjustItem(w http.ResponseWriter, r *http.Request, op func(*cart.Ledger, context.Context, string, string) error) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	if err := op(ws.Cart, r.Context(), chi.URLParam(r, "slug"), r.URL.Query().Get("size")); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(ws.Cart.Snapshot()))
}

// DELETE /api/v1/cart/items/{slug}?size=
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	if err := ws.Cart.Remove(r.Context(), chi.URLParam(r, "slug"), r.URL.Query().Get("size")); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(ws.Cart.Snapshot()))
}

// DELETE /api/v1/cart
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	res := ws.Cart.Clear(r.Context())
	resp := struct {
		CartResponseDTO
		Failed []string `json:"failed,omitempty"`
	}{CartResponseDTO: toCartDTO(ws.Cart.Snapshot())}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, f.LineID)
	}
	respondJSON(w, http.StatusOK, resp)
}

// GET /api/v1/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	u, err := ws.User()
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MeResponseDTO{
		User:          u,
		Admin:         h.IsAdmin(u.ID),
		CartCount:     ws.Cart.Count(),
		WishlistCount: len(ws.Wishlist.Slugs()),
	})
}

// DELETE /api/v1/session
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	u, err := ws.User()
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.Workspaces.Release(r.Context(), u.ID)
	w.WriteHeader(http.StatusNoContent)
}
