// Package docstore is the boundary to the hierarchical document database the
// storefront persists into. Documents are addressed by slash separated paths
// with an even number of segments (users/{uid}/cart/{lineId}); collections
// have an odd number (users/{uid}/cart).
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrInvalidPath   = errors.New("invalid document path")
	// ErrConflict signals a transaction that lost a race with another
	// writer. Transactions are retried on it.
	ErrConflict = errors.New("transaction conflict")
	// ErrAborted is returned when a transaction kept conflicting until the
	// retry policy gave up.
	ErrAborted = errors.New("transaction aborted")
)

// Data is the field set of one document. Values are limited to strings,
// booleans, integers, floats, time.Time, nil, slices and nested Data.
type Data map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock at write time.
var ServerTimestamp any = serverTimestamp{}

type Snapshot struct {
	Path string
	ID   string
	Data Data
}

func (s *Snapshot) Exists() bool {
	return s != nil && s.Data != nil
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

type filter struct {
	field string
	value any
}

// Query selects documents of one collection by field equality, optionally
// ordered by one field and limited.
type Query struct {
	collection string
	filters    []filter
	orderBy    string
	direction  Direction
	limit      int
}

func Collection(path string) Query {
	return Query{collection: path}
}

func (q Query) Where(field string, value any) Query {
	q.filters = append(append([]filter(nil), q.filters...), filter{field: field, value: value})
	return q
}

func (q Query) OrderBy(field string, dir Direction) Query {
	q.orderBy = field
	q.direction = dir
	return q
}

func (q Query) Limit(n int) Query {
	q.limit = n
	return q
}

type setConfig struct {
	merge bool
}

type SetOption func(*setConfig)

// Merge makes Set update only the given top-level fields instead of
// replacing the whole document.
func Merge() SetOption {
	return func(c *setConfig) { c.merge = true }
}

func applySetOptions(opts []SetOption) setConfig {
	var cfg setConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// Store defines the document operations the storefront relies on.
type Store interface {
	// Get returns a snapshot whose Exists reports false when the document
	// is missing.
	Get(ctx context.Context, path string) (*Snapshot, error)
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	Create(ctx context.Context, path string, data Data) error
	Set(ctx context.Context, path string, data Data, opts ...SetOption) error
	Update(ctx context.Context, path string, data Data) error
	// Delete is a no-op for missing documents.
	Delete(ctx context.Context, path string) error
	Batch() WriteBatch
	// RunTransaction runs fn atomically. fn may be invoked more than once
	// when the transaction conflicts with another writer.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close(ctx context.Context) error
}

// WriteBatch collects writes that are committed atomically.
type WriteBatch interface {
	Set(path string, data Data, opts ...SetOption) WriteBatch
	Update(path string, data Data) WriteBatch
	Delete(path string) WriteBatch
	Commit(ctx context.Context) error
}

// Tx is the view of the store inside RunTransaction. Reads observe the
// transaction's own earlier writes.
type Tx interface {
	Get(path string) (*Snapshot, error)
	Create(path string, data Data) error
	Set(path string, data Data, opts ...SetOption) error
	Update(path string, data Data) error
	Delete(path string) error
}

type Clock func() time.Time
