package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hashstyles/hashstyles/internal/domain"
	"github.com/hashstyles/hashstyles/internal/slot"
)

// GET /api/v1/addresses
func (h *Handler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	list, err := h.Addresses.List(r.Context(), u)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// POST /api/v1/addresses
func (h *Handler) AddAddress(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	var req domain.Address
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, err := h.Addresses.Add(r.Context(), u, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, addr)
}

// POST /api/v1/addresses/{id}/default
func (h *Handler) SetDefaultAddress(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.Addresses.SetDefault(r.Context(), u, chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/addresses/{id}/select stores the choice for the next
// checkout.
func (h *Handler) SelectAddress(w http.ResponseWriter, r *http.Request) {
	u, ok := h.user(w, r)
	if !ok {
		return
	}
	addr, err := h.Addresses.Get(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.Slots.Set(r.Context(), u, slot.KeyCheckoutAddress, addr.ID); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, addr)
}

// user returns the caller's user id or writes the error response.
func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return "", false
	}
	u, err := ws.User()
	if err != nil {
		handleError(w, r, err)
		return "", false
	}
	return u.ID, true
}
