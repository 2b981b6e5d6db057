package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hashstyles/hashstyles/internal/domain"
)

type CheckoutRequestDTO struct {
	Address *domain.Address `json:"address,omitempty"`
}

// POST /api/v1/checkout. The body is optional; without an address the
// selected, default or first saved address is used.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ws := requireWorkspace(w, r)
	if ws == nil {
		return
	}
	u, err := ws.User()
	if err != nil {
		handleError(w, r, err)
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.Checkout.PlaceOrder(r.Context(), u, ws.Cart, req.Address)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}
