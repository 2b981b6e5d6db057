// Package identity wraps the directory service that authenticates users
// and the per-session handle other components subscribe to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashstyles/hashstyles/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

type User struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name"`
	Email       string `json:"email,omitempty" yaml:"email"`
	PhotoURL    string `json:"photo_url,omitempty" yaml:"photo_url"`
}

// Directory authenticates an opaque credential into a user.
type Directory interface {
	Authenticate(ctx context.Context, token string) (*User, error)
}

// StaticDirectory resolves bearer tokens from a fixed table.
type StaticDirectory struct {
	users map[string]User
}

func NewStaticDirectory(tokens map[string]User) *StaticDirectory {
	users := make(map[string]User, len(tokens))
	for token, u := range tokens {
		users[token] = u
	}
	return &StaticDirectory{users: users}
}

func (d *StaticDirectory) Authenticate(ctx context.Context, token string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, ok := d.users[token]
	if !ok || token == "" {
		return nil, ErrInvalidToken
	}
	return &u, nil
}

// Listener is notified after the session's user changes. A nil user means
// signed out.
type Listener func(ctx context.Context, u *User)

// Session holds the signed-in user of one client session and fans identity
// changes out to subscribers.
type Session struct {
	dir Directory

	mu        sync.RWMutex
	user      *User
	listeners []Listener
}

func NewSession(dir Directory) *Session {
	return &Session{dir: dir}
}

// Current returns the signed-in user or nil.
func (s *Session) Current() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// RequireUser returns the signed-in user or domain.ErrNotAuthenticated.
func (s *Session) RequireUser() (*User, error) {
	u := s.Current()
	if u == nil {
		return nil, domain.ErrNotAuthenticated
	}
	return u, nil
}

// SignIn authenticates token and notifies subscribers when the user
// changed.
func (s *Session) SignIn(ctx context.Context, token string) (*User, error) {
	u, err := s.dir.Authenticate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, err)
	}
	s.set(ctx, u)
	return u, nil
}

func (s *Session) SignOut(ctx context.Context) {
	s.set(ctx, nil)
}

// Subscribe registers fn for identity changes.
func (s *Session) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) set(ctx context.Context, u *User) {
	s.mu.Lock()
	changed := !sameUser(s.user, u)
	s.user = u
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(ctx, u)
	}
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
