package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hashstyles/hashstyles/internal/catalog"
	"github.com/hashstyles/hashstyles/internal/domain"
)

const maxListLimit = 100

// GET /api/v1/products?category=&limit=
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	opts := catalog.ListOptions{Category: r.URL.Query().Get("category")}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 || limit > maxListLimit {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
			return
		}
		opts.Limit = limit
	}

	products, err := h.Catalog.List(r.Context(), opts)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// GET /api/v1/products/new-in
func (h *Handler) NewIn(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.List(r.Context(), catalog.ListOptions{Limit: catalog.NewInCount})
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// GET /api/v1/products/{slug}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// POST /api/v1/admin/products (multipart: title, description, price,
// category, sizes, image)
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if h.Creator == nil {
		respondError(w, http.StatusNotImplemented, "not_implemented", "product uploads are disabled")
		return
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form")
		return
	}

	price, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("price")))
	if err != nil || price.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must be a non-negative decimal")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_image", "image file is required")
		return
	}
	defer file.Close()

	var sizes []string
	for _, s := range strings.Split(r.FormValue("sizes"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			sizes = append(sizes, s)
		}
	}

	p, err := h.Creator.Create(r.Context(), catalog.NewProduct{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Price:       price,
		Category:    r.FormValue("category"),
		Sizes:       sizes,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Image:       file,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

type lineDTO struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Slug      string          `json:"slug"`
	Title     string          `json:"title"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	AddedAt   time.Time       `json:"added_at"`
}

func toLineDTO(l domain.CartLine) lineDTO {
	return lineDTO{
		ID:        l.ID(),
		ProductID: l.Product.ID,
		Slug:      l.Product.Slug,
		Title:     l.Product.Title,
		Image:     l.Product.FirstImage(),
		Price:     l.Product.Price,
		Size:      l.Size,
		Quantity:  l.Quantity,
		Subtotal:  l.Subtotal(),
		AddedAt:   l.AddedAt,
	}
}
