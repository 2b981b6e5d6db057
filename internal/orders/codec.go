package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hashstyles/hashstyles/internal/addressbook"
	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

const Collection = "orders"

func Path(id string) string {
	return docstore.Join(Collection, id)
}

// ToData is the persisted shape of an order. Money is stored as decimal
// strings; createdAt is left to the store clock.
func ToData(o *domain.Order) docstore.Data {
	items := make([]any, len(o.Items))
	for i, it := range o.Items {
		items[i] = docstore.Data{
			"productRef": it.ProductRef,
			"title":      it.Title,
			"slug":       it.Slug,
			"price":      it.Price.String(),
			"qty":        it.Quantity,
			"size":       it.Size,
			"image":      it.Image,
		}
	}
	return docstore.Data{
		"orderNumber": o.OrderNumber,
		"userId":      o.UserID,
		"items":       items,
		"subtotal":    o.Subtotal.String(),
		"shipping":    o.Shipping.String(),
		"total":       o.Total.String(),
		"address":     addressbook.ToData(o.Address),
		"status":      string(o.Status),
		"createdAt":   docstore.ServerTimestamp,
	}
}

func FromSnapshot(snap *docstore.Snapshot) (*domain.Order, error) {
	d := snap.Data
	o := &domain.Order{
		ID:          snap.ID,
		OrderNumber: d.String("orderNumber"),
		UserID:      d.String("userId"),
		Address:     addressbook.FromData(d.Map("address")),
		Status:      domain.OrderStatus(d.String("status")),
		CreatedAt:   d.Time("createdAt"),
	}

	var err error
	if o.Subtotal, err = money(d, "subtotal"); err != nil {
		return nil, err
	}
	if o.Shipping, err = money(d, "shipping"); err != nil {
		return nil, err
	}
	if o.Total, err = money(d, "total"); err != nil {
		return nil, err
	}

	for _, raw := range d.Slice("items") {
		var item docstore.Data
		switch v := raw.(type) {
		case docstore.Data:
			item = v
		case map[string]any:
			item = v
		default:
			return nil, fmt.Errorf("order %s: malformed item %T", snap.ID, raw)
		}
		price, err := money(item, "price")
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", snap.ID, err)
		}
		o.Items = append(o.Items, domain.OrderItem{
			ProductRef: item.String("productRef"),
			Title:      item.String("title"),
			Slug:       item.String("slug"),
			Price:      price,
			Quantity:   int(item.Int64("qty")),
			Size:       item.String("size"),
			Image:      item.String("image"),
		})
	}
	return o, nil
}

func money(d docstore.Data, key string) (decimal.Decimal, error) {
	s := d.String(key)
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad %s %q: %w", key, s, err)
	}
	return v, nil
}
