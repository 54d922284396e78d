package memory

import (
	"context"

	"github.com/tendant/simple-addons/pkg/addons"
)

// table holds one entity type keyed by K. Rows are stored by value so that
// callers never share memory with the repository. Callers hold the lock.
type table[T any, K comparable] struct {
	rows     map[K]T
	key      func(*T) K
	notFound error

	// assign generates a key for entities inserted with a zero key
	assign func(*T)
	// store normalizes the copy kept in the table
	store func(T) T
}

func newTable[T any, K comparable](key func(*T) K, notFound error) *table[T, K] {
	return &table[T, K]{rows: make(map[K]T), key: key, notFound: notFound}
}

func (t *table[T, K]) get(k K) (*T, error) {
	row, ok := t.rows[k]
	if !ok {
		return nil, t.notFound
	}
	return &row, nil
}

func (t *table[T, K]) insert(entity *T) error {
	var zero K
	if t.assign != nil && t.key(entity) == zero {
		t.assign(entity)
	}
	k := t.key(entity)
	if _, ok := t.rows[k]; ok {
		return addons.ErrAlreadyExists
	}
	row := *entity
	if t.store != nil {
		row = t.store(row)
	}
	t.rows[k] = row
	return nil
}

func (t *table[T, K]) delete(k K) error {
	if _, ok := t.rows[k]; !ok {
		return t.notFound
	}
	delete(t.rows, k)
	return nil
}

func (t *table[T, K]) snapshot() map[K]T {
	rows := make(map[K]T, len(t.rows))
	for k, v := range t.rows {
		rows[k] = v
	}
	return rows
}

// entities exposes a table as addons.Entities under the repository lock.
type entities[T any, K comparable] struct {
	r *Repository
	t *table[T, K]
}

func (e entities[T, K]) Get(ctx context.Context, k K) (*T, error) {
	e.r.mu.RLock()
	defer e.r.mu.RUnlock()
	return e.t.get(k)
}

func (e entities[T, K]) Exists(ctx context.Context, k K) (bool, error) {
	e.r.mu.RLock()
	defer e.r.mu.RUnlock()
	_, ok := e.t.rows[k]
	return ok, nil
}

func (e entities[T, K]) Insert(ctx context.Context, entity *T) error {
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	return e.t.insert(entity)
}

func (e entities[T, K]) Delete(ctx context.Context, k K) error {
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	return e.t.delete(k)
}
