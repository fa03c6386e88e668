// Package persistence is the transactional relational backend snapshots are
// written to. It hides the concrete engine (SQLite or PostgreSQL) behind a
// small statement/transaction interface and classifies every failure as
// either a ConnectionError or a StatementError.
//
// Statements are written with '?' placeholders; backends that use another
// bind style rewrite them before execution.
package persistence

import (
	"context"
	"fmt"
)

// Dialect names the SQL engine behind a Store so callers can pick DDL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Execer runs parameterized statements.
type Execer interface {
	// Exec runs a statement that returns no rows and reports rows affected.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// Query runs a statement and materializes every result row.
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
}

// Tx is an open transaction. Rollback is best-effort and a no-op after
// Commit, so it is always safe to defer.
type Tx interface {
	Execer
	Commit() error
	Rollback()
}

// Store is one exclusively owned connection to the backing database.
// Implementations reconnect transparently before a statement when the
// connection is found dead. A Store is not safe for concurrent use.
type Store interface {
	Execer
	Begin(ctx context.Context) (Tx, error)
	// ApplySchema executes DDL; schemas must be idempotent.
	ApplySchema(ctx context.Context, schema string) error
	Dialect() Dialect
	Close() error
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back on any error or panic.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Options selects and configures a backend.
type Options struct {
	Driver   Dialect
	Path     string // SQLite database file
	Postgres PGParams
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DialectSQLite, "":
		return OpenSQLite(ctx, opts.Path)
	case DialectPostgres:
		return OpenPostgres(ctx, opts.Postgres)
	default:
		return nil, fmt.Errorf("persistence: unknown driver %q", opts.Driver)
	}
}
