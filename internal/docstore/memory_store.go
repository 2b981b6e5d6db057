package docstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type record struct {
	data    Data
	created uint64
}

// MemoryStore implements Store in process memory. Transactions are
// serialized among themselves and validated optimistically against plain
// writes: a document read by a transaction and changed before its commit
// aborts the attempt with ErrConflict.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]*record
	versions map[string]uint64 // path -> last write version; survives deletes
	version  uint64

	txMu  sync.Mutex
	clock Clock
	retry RetryPolicy
}

type MemoryOption func(*MemoryStore)

func WithClock(c Clock) MemoryOption {
	return func(s *MemoryStore) { s.clock = c }
}

func WithRetryPolicy(p RetryPolicy) MemoryOption {
	return func(s *MemoryStore) { s.retry = p }
}

// NewMemoryStore creates a new in-memory document store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:     make(map[string]*record),
		versions: make(map[string]uint64),
		clock:    time.Now,
		retry:    DefaultRetryPolicy(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, id, err := splitDocPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(path, id), nil
}

func (s *MemoryStore) snapshotLocked(path, id string) *Snapshot {
	snap := &Snapshot{Path: path, ID: id}
	if rec, ok := s.docs[path]; ok {
		snap.Data = cloneData(rec.data)
	}
	return snap
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateCollectionPath(q.collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	type hit struct {
		snap    *Snapshot
		created uint64
	}
	var hits []hit
	for path, rec := range s.docs {
		parent, id, _ := splitDocPath(path)
		if parent != q.collection || !matches(rec.data, q.filters) {
			continue
		}
		hits = append(hits, hit{snap: &Snapshot{Path: path, ID: id, Data: cloneData(rec.data)}, created: rec.created})
	}
	s.mu.RUnlock()

	slices.SortStableFunc(hits, func(a, b hit) int {
		if q.orderBy != "" {
			c := compareValues(a.snap.Data[q.orderBy], b.snap.Data[q.orderBy])
			if q.direction == Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return compareCreated(a.created, b.created)
	})

	if q.limit > 0 && len(hits) > q.limit {
		hits = hits[:q.limit]
	}
	out := make([]*Snapshot, len(hits))
	for i, h := range hits {
		out[i] = h.snap
	}
	return out, nil
}

func compareCreated(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func matches(d Data, filters []filter) bool {
	for _, f := range filters {
		if !equalValues(d[f.field], f.value) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) Create(ctx context.Context, path string, data Data) error {
	return s.applyWrites(ctx, []write{{kind: writeCreate, path: path, data: data}})
}

func (s *MemoryStore) Set(ctx context.Context, path string, data Data, opts ...SetOption) error {
	return s.applyWrites(ctx, []write{{kind: writeSet, path: path, data: data, merge: applySetOptions(opts).merge}})
}

func (s *MemoryStore) Update(ctx context.Context, path string, data Data) error {
	return s.applyWrites(ctx, []write{{kind: writeUpdate, path: path, data: data}})
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	return s.applyWrites(ctx, []write{{kind: writeDelete, path: path}})
}

func (s *MemoryStore) Batch() WriteBatch {
	return &memoryBatch{store: s}
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.retry.Do(ctx, IsConflict, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.txMu.Lock()
		defer s.txMu.Unlock()

		tx := &memoryTx{store: s, reads: make(map[string]uint64), overlay: make(map[string]Data)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.commitTx(tx)
	})
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

type writeKind int

const (
	writeCreate writeKind = iota
	writeSet
	writeUpdate
	writeDelete
)

type write struct {
	kind  writeKind
	path  string
	data  Data
	merge bool
}

// applyWrites validates every write against current state and applies them
// all or none.
func (s *MemoryStore) applyWrites(ctx context.Context, writes []write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(writes)
}

func (s *MemoryStore) applyLocked(writes []write) error {
	// staged tracks existence as earlier writes of the same batch change it
	staged := make(map[string]bool)
	exists := func(path string) bool {
		if e, ok := staged[path]; ok {
			return e
		}
		_, ok := s.docs[path]
		return ok
	}
	for _, w := range writes {
		if _, _, err := splitDocPath(w.path); err != nil {
			return err
		}
		switch w.kind {
		case writeCreate:
			if exists(w.path) {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, w.path)
			}
			staged[w.path] = true
		case writeUpdate:
			if !exists(w.path) {
				return fmt.Errorf("%w: %s", ErrNotFound, w.path)
			}
		case writeSet:
			staged[w.path] = true
		case writeDelete:
			staged[w.path] = false
		}
	}

	now := s.clock()
	for _, w := range writes {
		s.version++
		s.versions[w.path] = s.version
		if w.kind == writeDelete {
			delete(s.docs, w.path)
			continue
		}

		incoming := cloneData(w.data)
		resolveTimestamps(incoming, now)
		rec, ok := s.docs[w.path]
		if !ok {
			s.docs[w.path] = &record{data: incoming, created: s.version}
			continue
		}
		if w.kind == writeUpdate || w.merge {
			for k, v := range incoming {
				rec.data[k] = v
			}
			continue
		}
		rec.data = incoming
	}
	return nil
}

func (s *MemoryStore) commitTx(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, v := range tx.reads {
		if s.versions[path] != v {
			return fmt.Errorf("%w: %s changed since read", ErrConflict, path)
		}
	}
	return s.applyLocked(tx.writes)
}

type memoryBatch struct {
	store  *MemoryStore
	writes []write
}

func (b *memoryBatch) Set(path string, data Data, opts ...SetOption) WriteBatch {
	b.writes = append(b.writes, write{kind: writeSet, path: path, data: data, merge: applySetOptions(opts).merge})
	return b
}

func (b *memoryBatch) Update(path string, data Data) WriteBatch {
	b.writes = append(b.writes, write{kind: writeUpdate, path: path, data: data})
	return b
}

func (b *memoryBatch) Delete(path string) WriteBatch {
	b.writes = append(b.writes, write{kind: writeDelete, path: path})
	return b
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	return b.store.applyWrites(ctx, b.writes)
}

// memoryTx buffers writes until commit. overlay holds the transaction's
// view of documents it has written; a nil entry marks a delete.
type memoryTx struct {
	store   *MemoryStore
	reads   map[string]uint64
	writes  []write
	overlay map[string]Data
}

func (t *memoryTx) Get(path string) (*Snapshot, error) {
	_, id, err := splitDocPath(path)
	if err != nil {
		return nil, err
	}
	if d, ok := t.overlay[path]; ok {
		return &Snapshot{Path: path, ID: id, Data: cloneData(d)}, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if _, seen := t.reads[path]; !seen {
		t.reads[path] = t.store.versions[path]
	}
	return t.store.snapshotLocked(path, id), nil
}

func (t *memoryTx) current(path string) (Data, bool) {
	if d, ok := t.overlay[path]; ok {
		return d, d != nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.docs[path]
	if !ok {
		return nil, false
	}
	return cloneData(rec.data), true
}

func (t *memoryTx) Create(path string, data Data) error {
	if _, _, err := splitDocPath(path); err != nil {
		return err
	}
	if _, ok := t.current(path); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	t.writes = append(t.writes, write{kind: writeCreate, path: path, data: data})
	t.overlay[path] = cloneData(data)
	return nil
}

func (t *memoryTx) Set(path string, data Data, opts ...SetOption) error {
	if _, _, err := splitDocPath(path); err != nil {
		return err
	}
	merge := applySetOptions(opts).merge
	view := cloneData(data)
	if cur, ok := t.current(path); ok && merge {
		for k, v := range view {
			cur[k] = v
		}
		view = cur
	}
	t.writes = append(t.writes, write{kind: writeSet, path: path, data: data, merge: merge})
	t.overlay[path] = view
	return nil
}

func (t *memoryTx) Update(path string, data Data) error {
	if _, _, err := splitDocPath(path); err != nil {
		return err
	}
	cur, ok := t.current(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	for k, v := range cloneData(data) {
		cur[k] = v
	}
	t.writes = append(t.writes, write{kind: writeUpdate, path: path, data: data})
	t.overlay[path] = cur
	return nil
}

func (t *memoryTx) Delete(path string) error {
	if _, _, err := splitDocPath(path); err != nil {
		return err
	}
	t.writes = append(t.writes, write{kind: writeDelete, path: path})
	t.overlay[path] = nil
	return nil
}
