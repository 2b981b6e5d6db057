// Package http exposes the storefront over a JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hashstyles/hashstyles/internal/addressbook"
	"github.com/hashstyles/hashstyles/internal/catalog"
	"github.com/hashstyles/hashstyles/internal/checkout"
	"github.com/hashstyles/hashstyles/internal/domain"
	"github.com/hashstyles/hashstyles/internal/identity"
	"github.com/hashstyles/hashstyles/internal/metrics"
	"github.com/hashstyles/hashstyles/internal/orders"
	"github.com/hashstyles/hashstyles/internal/slot"
)

// Catalog is the product read side.
type Catalog interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Product, error)
	GetBySlugs(ctx context.Context, slugs []string) ([]domain.Product, error)
	List(ctx context.Context, opts catalog.ListOptions) ([]domain.Product, error)
}

type ProductCreator interface {
	Create(ctx context.Context, np catalog.NewProduct) (*domain.Product, error)
}

type Checkout interface {
	PlaceOrder(ctx context.Context, user *identity.User, c checkout.CartSource, addr *domain.Address) (*domain.Order, error)
}

type Deps struct {
	Workspaces Workspaces
	Catalog    Catalog
	Creator    ProductCreator
	Addresses  *addressbook.Book
	Slots      slot.Store
	Checkout   Checkout
	Orders     *orders.Reader
	Metrics    *metrics.Metrics
	IsAdmin    func(uid string) bool

	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	if d.IsAdmin == nil {
		d.IsAdmin = func(string) bool { return false }
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = 30 * time.Second
	}
	return &Handler{Deps: d}
}

// Router builds the chi route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.RequestTimeout))
	if h.MaxRequestBodySize > 0 {
		r.Use(middleware.RequestSize(h.MaxRequestBodySize))
	}
	if h.Metrics != nil {
		r.Use(MetricsMiddleware(h.Metrics))
		r.Handle("/metrics", h.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/new-in", h.NewIn)
		r.Get("/products/{slug}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.Workspaces))

			r.Get("/me", h.Me)
			r.Delete("/session", h.SignOut)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Delete("/", h.ClearCart)
				r.Post("/items", h.AddItem)
				r.Delete("/items/{slug}", h.RemoveItem)
				r.Post("/items/{slug}/increment", h.IncrementItem)
				r.Post("/items/{slug}/decrement", h.DecrementItem)
			})

			r.Route("/wishlist", func(r chi.Router) {
				r.Get("/", h.GetWishlist)
				r.Post("/{slug}", h.ToggleWishlist)
			})

			r.Route("/addresses", func(r chi.Router) {
				r.Get("/", h.ListAddresses)
				r.Post("/", h.AddAddress)
				r.Post("/{id}/default", h.SetDefaultAddress)
				r.Post("/{id}/select", h.SelectAddress)
			})

			r.Post("/checkout", h.PlaceOrder)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.ListOrders)
				r.Get("/last", h.LastOrder)
				r.Get("/{id}", h.GetOrder)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(AdminMiddleware(h.IsAdmin))
				r.Post("/products", h.CreateProduct)
			})
		})
	})

	return r
}

// Handler wraps the router with OpenTelemetry instrumentation.
func (h *Handler) Handler() http.Handler {
	return otelhttp.NewHandler(h.Router(), "storefront")
}
