// Package addressbook manages a user's shipping addresses under
// users/{uid}/addresses and keeps exactly one of them default whenever the
// collection is non-empty.
package addressbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

type Book struct {
	store  docstore.Store
	logger *slog.Logger
}

func New(store docstore.Store, logger *slog.Logger) *Book {
	return &Book{store: store, logger: logger}
}

func collectionPath(uid string) string {
	return docstore.Join("users", uid, "addresses")
}

func docPath(uid, id string) string {
	return docstore.Join("users", uid, "addresses", id)
}

// List returns the default address first, the rest in creation order.
func (b *Book) List(ctx context.Context, uid string) ([]domain.Address, error) {
	if uid == "" {
		return nil, domain.ErrNotAuthenticated
	}
	snaps, err := b.store.Query(ctx, docstore.Collection(collectionPath(uid)).OrderBy("createdAt", docstore.Asc))
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}

	out := make([]domain.Address, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, fromData(s.ID, s.Data))
	}
	slices.SortStableFunc(out, func(a, b domain.Address) int {
		switch {
		case a.IsDefault && !b.IsDefault:
			return -1
		case !a.IsDefault && b.IsDefault:
			return 1
		}
		return 0
	})
	return out, nil
}

func (b *Book) Get(ctx context.Context, uid, id string) (*domain.Address, error) {
	if uid == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("%w: address %q", domain.ErrNotFound, id)
	}
	snap, err := b.store.Get(ctx, docPath(uid, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("%w: address %s", domain.ErrNotFound, id)
	}
	addr := fromData(snap.ID, snap.Data)
	return &addr, nil
}

// Validate reports blank required fields as domain.ErrValidation.
func Validate(addr domain.Address) error {
	if err := validate.Struct(addr); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Field()
			}
			return fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return nil
}

// Add stores a new address. The first address of a user becomes default;
// later ones never do.
func (b *Book) Add(ctx context.Context, uid string, addr domain.Address) (*domain.Address, error) {
	if uid == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if err := Validate(addr); err != nil {
		return nil, err
	}

	existing, err := b.List(ctx, uid)
	if err != nil {
		return nil, err
	}

	addr.ID = uuid.NewString()
	addr.IsDefault = len(existing) == 0
	data := toData(addr)
	data["createdAt"] = docstore.ServerTimestamp

	if err := b.store.Create(ctx, docPath(uid, addr.ID), data); err != nil {
		return nil, fmt.Errorf("%w: add address: %w", domain.ErrPersistence, err)
	}

	// two concurrent first adds can both land as default, or none at all
	if err := b.normalize(ctx, uid); err != nil {
		b.logger.Warn("failed to normalize default address", "uid", uid, "error", err)
	}
	return &addr, nil
}

// SetDefault marks id as the only default in a single batch covering every
// address of the user.
func (b *Book) SetDefault(ctx context.Context, uid, id string) error {
	if uid == "" {
		return domain.ErrNotAuthenticated
	}
	snaps, err := b.store.Query(ctx, docstore.Collection(collectionPath(uid)))
	if err != nil {
		return fmt.Errorf("failed to list addresses: %w", err)
	}
	if !slices.ContainsFunc(snaps, func(s *docstore.Snapshot) bool { return s.ID == id }) {
		return fmt.Errorf("%w: address %s", domain.ErrNotFound, id)
	}
	return b.commitDefault(ctx, uid, id, snaps)
}

func (b *Book) commitDefault(ctx context.Context, uid, id string, snaps []*docstore.Snapshot) error {
	batch := b.store.Batch()
	for _, s := range snaps {
		batch.Update(s.Path, docstore.Data{"isDefault": s.ID == id})
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("%w: set default address: %w", domain.ErrPersistence, err)
	}
	return nil
}

// normalize repairs a collection with zero or several defaults by keeping
// the earliest default, or the first address when none is default.
func (b *Book) normalize(ctx context.Context, uid string) error {
	snaps, err := b.store.Query(ctx, docstore.Collection(collectionPath(uid)).OrderBy("createdAt", docstore.Asc))
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}

	keep := ""
	defaults := 0
	for _, s := range snaps {
		if s.Data.Bool("isDefault") {
			defaults++
			if keep == "" {
				keep = s.ID
			}
		}
	}
	if defaults == 1 {
		return nil
	}
	if keep == "" {
		keep = snaps[0].ID
	}
	return b.commitDefault(ctx, uid, keep, snaps)
}

// Resolve picks the checkout address: the selected id when it still
// exists, then the default, then the first address.
func (b *Book) Resolve(ctx context.Context, uid, selectedID string) (*domain.Address, error) {
	if uid == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if selectedID != "" {
		addr, err := b.Get(ctx, uid, selectedID)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	all, err := b.List(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, domain.ErrNoAddress
	}
	// List puts the default first; without one the first is the oldest
	return &all[0], nil
}

func toData(a domain.Address) docstore.Data {
	return docstore.Data{
		"name":       a.Name,
		"line1":      a.Line1,
		"line2":      a.Line2,
		"city":       a.City,
		"postalCode": a.PostalCode,
		"phone":      a.Phone,
		"isDefault":  a.IsDefault,
	}
}

func fromData(id string, d docstore.Data) domain.Address {
	return domain.Address{
		ID:         id,
		Name:       d.String("name"),
		Line1:      d.String("line1"),
		Line2:      d.String("line2"),
		City:       d.String("city"),
		PostalCode: d.String("postalCode"),
		Phone:      d.String("phone"),
		IsDefault:  d.Bool("isDefault"),
	}
}

// ToData is the persisted shape of an address, reused for the copy stored
// on orders.
func ToData(a domain.Address) docstore.Data {
	d := toData(a)
	d["id"] = a.ID
	return d
}

func FromData(d docstore.Data) domain.Address {
	return fromData(d.String("id"), d)
}
