package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidStoreID = errors.New("invalid store id")

// Querier abstracts pgx query methods so callers can work with both
// pool connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TxQuerier is a Querier that can also open a transaction.
type TxQuerier interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

var storeIDPattern = regexp.MustCompile(`^[a-z0-9]{1,63}$`)

var reservedStoreIDs = map[string]bool{
	"public": true, "template": true,
}

// ValidateStoreID checks that id can name a tenant schema.
func ValidateStoreID(id string) error {
	if !storeIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be 1-63 lowercase alphanumeric characters", ErrInvalidStoreID, id)
	}
	if reservedStoreIDs[id] {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidStoreID, id)
	}
	return nil
}

// Schema returns the quoted schema identifier for a store id.
func Schema(storeID string) string {
	return pgx.Identifier{storeID}.Sanitize()
}

// WithStore acquires a dedicated connection from the pool, points its
// search_path at the tenant store's schema, then calls fn. The search_path
// is reset before the connection is released back to the pool so a reused
// connection can never address another tenant's tables by accident.
func WithStore(ctx context.Context, pool *pgxpool.Pool, storeID string, fn func(ctx context.Context, q TxQuerier) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() {
		// Background context: the request context may already be canceled.
		_, _ = conn.Exec(context.Background(), "RESET search_path")
		conn.Release()
	}()

	_, err = conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", Schema(storeID))
	if err != nil {
		return fmt.Errorf("setting store search_path: %w", err)
	}

	return fn(ctx, conn)
}

// WithTx runs fn inside a transaction on q, committing when fn succeeds.
func WithTx(ctx context.Context, q TxQuerier, fn func(ctx context.Context, tx Querier) error) error {
	tx, err := q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
