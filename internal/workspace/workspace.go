// Package workspace keeps the per-user mirrors (cart and wishlist) of
// signed-in users in memory. Each workspace owns an identity.Session; the
// mirrors rebind whenever that session's user changes.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashstyles/hashstyles/internal/cart"
	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
	"github.com/hashstyles/hashstyles/internal/identity"
	"github.com/hashstyles/hashstyles/internal/metrics"
	"github.com/hashstyles/hashstyles/internal/wishlist"
)

type Workspace struct {
	Session  *identity.Session
	Cart     *cart.Ledger
	Wishlist *wishlist.Set

	logger *slog.Logger
	// ready is closed once the first sign-in finished; loadErr is its result
	ready   chan struct{}
	loadErr error

	mu      sync.Mutex
	bindErr error
}

// bind rebinds both mirrors to u, or unbinds them when u is nil.
func (w *Workspace) bind(ctx context.Context, u *identity.User) {
	uid := ""
	if u != nil {
		uid = u.ID
	}
	err := errors.Join(w.Cart.Reload(ctx, uid), w.Wishlist.Reload(ctx, uid))
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to bind workspace", "user_id", uid, "error", err)
	}
	w.mu.Lock()
	w.bindErr = err
	w.mu.Unlock()
}

func (w *Workspace) lastBindErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bindErr
}

// User returns the bound user or domain.ErrNotAuthenticated.
func (w *Workspace) User() (*identity.User, error) {
	return w.Session.RequireUser()
}

// Refresh refetches both mirrors for the bound user.
func (w *Workspace) Refresh(ctx context.Context) error {
	u, err := w.User()
	if err != nil {
		return err
	}
	return errors.Join(w.Cart.Reload(ctx, u.ID), w.Wishlist.Reload(ctx, u.ID))
}

type Registry struct {
	dir      identity.Directory
	store    docstore.Store
	products cart.ProductResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewRegistry(dir identity.Directory, store docstore.Store, products cart.ProductResolver, m *metrics.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		dir:        dir,
		store:      store,
		products:   products,
		metrics:    m,
		logger:     logger,
		workspaces: make(map[string]*Workspace),
	}
}

// Acquire authenticates token and returns the workspace of its user,
// creating and loading it on first use.
func (r *Registry) Acquire(ctx context.Context, token string) (*Workspace, error) {
	u, err := r.dir.Authenticate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, err)
	}

	r.mu.Lock()
	ws, ok := r.workspaces[u.ID]
	if !ok {
		ws = r.newWorkspace()
		r.workspaces[u.ID] = ws
	}
	r.mu.Unlock()
	if ok {
		select {
		case <-ws.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if ws.loadErr != nil {
			return nil, ws.loadErr
		}
		return ws, nil
	}

	ws.loadErr = r.open(ctx, token, u.ID, ws)
	close(ws.ready)
	if ws.loadErr != nil {
		return nil, ws.loadErr
	}
	return ws, nil
}

func (r *Registry) open(ctx context.Context, token, uid string, ws *Workspace) error {
	if _, err := ws.Session.SignIn(ctx, token); err != nil {
		r.drop(uid, ws)
		return err
	}
	if err := ws.lastBindErr(); err != nil {
		ws.Session.SignOut(context.WithoutCancel(ctx))
		r.drop(uid, ws)
		return err
	}
	if r.metrics != nil {
		r.metrics.ActiveWorkspaces.Inc()
	}
	r.logger.InfoContext(ctx, "workspace opened", "user_id", uid)
	return nil
}

func (r *Registry) newWorkspace() *Workspace {
	ws := &Workspace{
		Session:  identity.NewSession(r.dir),
		Cart:     cart.NewLedger(r.store, r.products, r.logger),
		Wishlist: wishlist.New(r.store, r.logger),
		logger:   r.logger,
		ready:    make(chan struct{}),
	}
	ws.Session.Subscribe(ws.bind)
	return ws
}

func (r *Registry) drop(uid string, ws *Workspace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.workspaces[uid] == ws {
		delete(r.workspaces, uid)
	}
}

// Release signs the user out and forgets the workspace.
func (r *Registry) Release(ctx context.Context, uid string) {
	r.mu.Lock()
	ws, ok := r.workspaces[uid]
	delete(r.workspaces, uid)
	r.mu.Unlock()
	if !ok {
		return
	}
	<-ws.ready
	if ws.loadErr != nil {
		return
	}
	ws.Session.SignOut(ctx)
	if r.metrics != nil {
		r.metrics.ActiveWorkspaces.Dec()
	}
	r.logger.InfoContext(ctx, "workspace released", "user_id", uid)
}

// Invalidate refetches the mirrors of uid when this instance holds them.
// It is a no-op for users without a workspace here.
func (r *Registry) Invalidate(ctx context.Context, uid string) error {
	r.mu.Lock()
	ws, ok := r.workspaces[uid]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ws.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ws.loadErr != nil {
		return nil
	}
	return ws.Refresh(ctx)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}
