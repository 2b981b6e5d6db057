// Package wishlist mirrors the set of product slugs a user saved under
// users/{uid}/wishlist/{slug}.
package wishlist

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

type Set struct {
	store  docstore.Store
	logger *slog.Logger

	mu    sync.RWMutex
	uid   string
	slugs map[string]string // slug -> product ref

	reloads singleflight.Group
}

func New(store docstore.Store, logger *slog.Logger) *Set {
	return &Set{store: store, logger: logger, slugs: make(map[string]string)}
}

func entryPath(uid, slug string) string {
	return docstore.Join("users", uid, "wishlist", slug)
}

func (s *Set) UID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid
}

func (s *Set) Has(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.slugs[slug]
	return ok
}

// Slugs returns the saved slugs in lexical order.
func (s *Set) Slugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.slugs))
	for slug := range s.slugs {
		out = append(out, slug)
	}
	slices.Sort(out)
	return out
}

// Toggle saves the product when absent and removes it when present. It
// returns whether the product is saved afterwards.
func (s *Set) Toggle(ctx context.Context, product domain.Product) (bool, error) {
	uid := s.UID()
	if uid == "" {
		return false, domain.ErrNotAuthenticated
	}
	if product.Slug == "" {
		return false, fmt.Errorf("%w: product without slug", domain.ErrValidation)
	}
	path := entryPath(uid, product.Slug)

	if s.Has(product.Slug) {
		s.mu.Lock()
		delete(s.slugs, product.Slug)
		s.mu.Unlock()
		if err := s.store.Delete(ctx, path); err != nil {
			return s.failed(ctx, uid, product.Slug, err)
		}
		return false, nil
	}

	s.mu.Lock()
	s.slugs[product.Slug] = product.Ref()
	s.mu.Unlock()
	err := s.store.Set(ctx, path, docstore.Data{
		"productRef": product.Ref(),
		"addedAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		return s.failed(ctx, uid, product.Slug, err)
	}
	return true, nil
}

func (s *Set) failed(ctx context.Context, uid, slug string, err error) (bool, error) {
	s.logger.Warn("wishlist write failed, reconciling", "uid", uid, "slug", slug, "error", err)
	if rerr := s.Reload(ctx, uid); rerr != nil {
		s.logger.Error("wishlist reconciliation failed", "uid", uid, "error", rerr)
	}
	return s.Has(slug), fmt.Errorf("%w: toggle wishlist %s: %w", domain.ErrPersistence, slug, err)
}

// Reload binds the set to uid and refetches it. An empty uid unbinds.
func (s *Set) Reload(ctx context.Context, uid string) error {
	if uid == "" {
		s.mu.Lock()
		s.uid = ""
		clear(s.slugs)
		s.mu.Unlock()
		return nil
	}

	v, err, _ := s.reloads.Do(uid, func() (any, error) {
		snaps, err := s.store.Query(ctx, docstore.Collection(docstore.Join("users", uid, "wishlist")))
		if err != nil {
			return nil, fmt.Errorf("%w: load wishlist: %w", domain.ErrPersistence, err)
		}
		fresh := make(map[string]string, len(snaps))
		for _, snap := range snaps {
			fresh[snap.ID] = snap.Data.String("productRef")
		}
		return fresh, nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = uid
	s.slugs = v.(map[string]string)
	return nil
}
