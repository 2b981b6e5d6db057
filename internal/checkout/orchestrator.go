// Package checkout turns a signed-in user's cart into a persisted order.
//
// The order write is the only step that can fail the checkout after a
// number was allocated. Everything after it (cart clear, slot updates,
// event) runs on a detached context and is logged, never returned.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hashstyles/hashstyles/internal/addressbook"
	"github.com/hashstyles/hashstyles/internal/cart"
	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
	"github.com/hashstyles/hashstyles/internal/events"
	"github.com/hashstyles/hashstyles/internal/identity"
	"github.com/hashstyles/hashstyles/internal/metrics"
	"github.com/hashstyles/hashstyles/internal/orders"
	"github.com/hashstyles/hashstyles/internal/sequencer"
	"github.com/hashstyles/hashstyles/internal/slot"
)

const tracerName = "github.com/hashstyles/hashstyles/internal/checkout"

// CartSource is the bound cart of the user placing the order.
type CartSource interface {
	Snapshot() cart.Snapshot
	Clear(ctx context.Context, lineIDs ...string) cart.ClearResult
}

// AddressResolver picks the shipping address when none is passed
// explicitly.
type AddressResolver interface {
	Resolve(ctx context.Context, uid, selectedID string) (*domain.Address, error)
}

type Orchestrator struct {
	store     docstore.Store
	seq       sequencer.Sequencer
	addresses AddressResolver
	slots     slot.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(store docstore.Store, seq sequencer.Sequencer, addresses AddressResolver, slots slot.Store, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		seq:       seq,
		addresses: addresses,
		slots:     slots,
		publisher: events.Nop{},
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PlaceOrder validates the checkout, allocates an order number, writes the
// order and then cleans up. addr overrides address resolution when non-nil.
func (o *Orchestrator) PlaceOrder(ctx context.Context, user *identity.User, c CartSource, addr *domain.Address) (order *domain.Order, err error) {
	ctx, span := o.tracer.Start(ctx, "checkout.PlaceOrder")
	start := o.now()
	defer func() {
		o.observe(start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if user == nil || user.ID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	uid := user.ID
	span.SetAttributes(attribute.String("user.id", uid))

	snap := c.Snapshot()
	if snap.UID != "" && snap.UID != uid {
		return nil, fmt.Errorf("%w: cart belongs to another session", domain.ErrPermissionDenied)
	}
	if snap.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	shipTo, err := o.resolveAddress(ctx, uid, addr)
	if err != nil {
		return nil, err
	}

	number, err := o.seq.Next(ctx, sequencer.YearPrefix(o.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate order number: %w", err)
	}

	order = buildOrder(uid, number, snap, *shipTo)
	if err := o.store.Create(ctx, orders.Path(order.ID), orders.ToData(order)); err != nil {
		return nil, fmt.Errorf("%w: failed to write order %s: %w", domain.ErrPersistence, number, err)
	}
	order.CreatedAt = o.createdAt(ctx, order.ID)
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", number))

	o.logger.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"order_number", number,
		"user_id", uid,
		"items", len(order.Items),
		"total", order.Total.String())

	o.cleanup(context.WithoutCancel(ctx), uid, c, snap, order)
	return order, nil
}

func (o *Orchestrator) resolveAddress(ctx context.Context, uid string, addr *domain.Address) (*domain.Address, error) {
	if addr != nil {
		if err := addressbook.Validate(*addr); err != nil {
			return nil, err
		}
		return addr, nil
	}

	selected, err := o.slots.Get(ctx, uid, slot.KeyCheckoutAddress)
	if err != nil && !errors.Is(err, slot.ErrEmpty) {
		o.logger.WarnContext(ctx, "failed to read address selection", "user_id", uid, "error", err)
		selected = ""
	}

	resolved, err := o.addresses.Resolve(ctx, uid, selected)
	if err != nil {
		return nil, err
	}
	if selected != "" && resolved.ID != selected {
		o.logger.InfoContext(ctx, "stale address selection cleared", "user_id", uid, "address_id", selected)
		if err := o.slots.Delete(ctx, uid, slot.KeyCheckoutAddress); err != nil {
			o.logger.WarnContext(ctx, "failed to clear stale address selection", "user_id", uid, "error", err)
		}
	}
	return resolved, nil
}

func buildOrder(uid, number string, snap cart.Snapshot, addr domain.Address) *domain.Order {
	items := make([]domain.OrderItem, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		items = append(items, domain.OrderItem{
			ProductRef: l.Product.Ref(),
			Title:      l.Product.Title,
			Slug:       l.Product.Slug,
			Price:      l.Product.Price,
			Quantity:   l.Quantity,
			Size:       l.Size,
			Image:      l.Product.FirstImage(),
		})
	}
	shipping := decimal.Zero
	return &domain.Order{
		ID:          uuid.NewString(),
		OrderNumber: number,
		UserID:      uid,
		Items:       items,
		Subtotal:    snap.Total,
		Shipping:    shipping,
		Total:       snap.Total.Add(shipping),
		Address:     addr,
		Status:      domain.OrderStatusProcessing,
	}
}

// createdAt reads back the timestamp the store assigned to the order. If the
// read fails the local clock stands in for it.
func (o *Orchestrator) createdAt(ctx context.Context, id string) time.Time {
	snap, err := o.store.Get(ctx, orders.Path(id))
	if err == nil && snap.Exists() {
		if ts := snap.Data.Time("createdAt"); !ts.IsZero() {
			return ts
		}
	}
	if err != nil {
		o.logger.WarnContext(ctx, "failed to read back order timestamp", "order_id", id, "error", err)
	}
	return o.now()
}

// cleanup clears only the lines that went into the order; lines added by
// another session in the meantime stay in the cart.
func (o *Orchestrator) cleanup(ctx context.Context, uid string, c CartSource, snap cart.Snapshot, order *domain.Order) {
	ids := make([]string, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		ids = append(ids, l.ID())
	}
	res := c.Clear(ctx, ids...)
	if err := res.Err(); err != nil {
		o.logger.ErrorContext(ctx, "cart not fully cleared after order",
			"order_id", order.ID, "user_id", uid, "error", err)
		for range res.Failed {
			o.cleanupFailed("cart_line")
		}
	}

	if err := o.slots.Delete(ctx, uid, slot.KeyCheckoutAddress); err != nil {
		o.logger.WarnContext(ctx, "failed to clear address selection", "user_id", uid, "error", err)
		o.cleanupFailed("address_slot")
	}
	if err := o.slots.Set(ctx, uid, slot.KeyLastOrder, order.ID); err != nil {
		o.logger.WarnContext(ctx, "failed to record last order", "order_id", order.ID, "error", err)
		o.cleanupFailed("last_order_slot")
	}

	ev := events.OrderPlaced{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      uid,
		Total:       order.Total.String(),
		ItemCount:   len(order.Items),
		PlacedAt:    order.CreatedAt,
	}
	if err := o.publisher.PublishOrderPlaced(ctx, ev); err != nil {
		o.logger.WarnContext(ctx, "failed to publish order placed event", "order_id", order.ID, "error", err)
		o.cleanupFailed("event")
	}
}

func (o *Orchestrator) cleanupFailed(step string) {
	if o.metrics != nil {
		o.metrics.CleanupFailures.WithLabelValues(step).Inc()
	}
}

func (o *Orchestrator) observe(start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	o.metrics.OrdersPlaced.WithLabelValues(result, reason(err)).Inc()
	o.metrics.CheckoutDuration.WithLabelValues(result).Observe(o.now().Sub(start).Seconds())
}

func reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrNoAddress):
		return "no_address"
	case errors.Is(err, domain.ErrValidation):
		return "invalid_address"
	case errors.Is(err, domain.ErrSequencerUnavailable):
		return "sequencer_unavailable"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}
