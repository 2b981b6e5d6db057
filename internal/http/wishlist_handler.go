package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GET /api/v1/wishlist
func (h *Handler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	products, err := h.Catalog.GetBySlugs(r.Context(), ws.Wishlist.Slugs())
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// POST /api/v1/wishlist/{slug}
func (h *Handler) ToggleWishlist(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	product, err := h.Catalog.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	saved, err := ws.Wishlist.Toggle(r.Context(), *product)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"slug": product.Slug, "saved": saved})
}
