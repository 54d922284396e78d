package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// entityTable describes how one entity type maps onto a table keyed by a
// single column.
type entityTable[T any, K comparable] struct {
	name     string
	key      string
	columns  []string
	scan     func(pgx.Row) (*T, error)
	notFound error

	// values returns the columns and arguments of an insert
	values func(*T) ([]string, []any)
	// generated returns scan targets for a database-generated key, or nil
	generated func(*T) []any
}

func (t *entityTable[T, K]) selectList() string {
	return strings.Join(t.columns, ", ")
}

func (t *entityTable[T, K]) collect(rows pgx.Rows) ([]*T, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*T, error) {
		return t.scan(row)
	})
}

// entities binds an entityTable to a connection or transaction.
type entities[T any, K comparable] struct {
	db DBTX
	t  *entityTable[T, K]
}

func (e entities[T, K]) Get(ctx context.Context, key K) (*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", e.t.selectList(), e.t.name, e.t.key)
	v, err := e.t.scan(e.db.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, e.t.notFound
	}
	if err != nil {
		return nil, handlePostgresError("get "+e.t.name, err)
	}
	return v, nil
}

func (e entities[T, K]) Exists(ctx context.Context, key K) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)", e.t.name, e.t.key)
	var exists bool
	if err := e.db.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, handlePostgresError("check "+e.t.name, err)
	}
	return exists, nil
}

func (e entities[T, K]) Insert(ctx context.Context, entity *T) error {
	columns, args := e.t.values(entity)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", e.t.name, strings.Join(columns, ", "), placeholders(1, len(args)))

	var targets []any
	if e.t.generated != nil {
		targets = e.t.generated(entity)
	}
	if targets != nil {
		query += " RETURNING " + e.t.key
		if err := e.db.QueryRow(ctx, query, args...).Scan(targets...); err != nil {
			return handlePostgresError("insert "+e.t.name, err)
		}
		return nil
	}
	if _, err := e.db.Exec(ctx, query, args...); err != nil {
		return handlePostgresError("insert "+e.t.name, err)
	}
	return nil
}

func (e entities[T, K]) Delete(ctx context.Context, key K) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", e.t.name, e.t.key)
	tag, err := e.db.Exec(ctx, query, key)
	if err != nil {
		return handlePostgresError("delete "+e.t.name, err)
	}
	if tag.RowsAffected() == 0 {
		return e.t.notFound
	}
	return nil
}
