package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// PGParams are the connection settings for PostgreSQL.
type PGParams struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// DefaultPGParams points at a local development server.
func DefaultPGParams() PGParams {
	return PGParams{
		Host:     "localhost",
		Port:     "5432",
		Database: "alife_sim",
		User:     "postgres",
	}
}

// ConnString renders the keyword/value connection string.
func (p PGParams) ConnString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%s dbname=%s user=%s", p.Host, p.Port, p.Database, p.User)
	if p.Password != "" {
		fmt.Fprintf(&b, " password=%s", p.Password)
	}
	b.WriteString(" connect_timeout=10")
	return b.String()
}

// Postgres is a Store backed by one pgx connection. Binary parameters and
// bytea results travel in pgx's binary format.
type Postgres struct {
	connString string
	conn       *pgx.Conn
	closed     bool
}

// OpenPostgres connects using p.
func OpenPostgres(ctx context.Context, p PGParams) (*Postgres, error) {
	return OpenPostgresDSN(ctx, p.ConnString())
}

// OpenPostgresDSN connects using a libpq-style connection string or URL.
func OpenPostgresDSN(ctx context.Context, dsn string) (*Postgres, error) {
	db := &Postgres{connString: dsn}
	if err := db.connect(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *Postgres) connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, db.connString)
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	db.conn = conn
	return nil
}

// ensure reconnects when the connection has been lost.
func (db *Postgres) ensure(ctx context.Context, op string) error {
	if db.closed {
		return &ConnectionError{Op: op, Err: ErrClosed}
	}
	if db.conn != nil && !db.conn.IsClosed() {
		return nil
	}
	slog.Warn("postgres connection lost, reconnecting", "op", op)
	if err := db.connect(ctx); err != nil {
		return &ConnectionError{Op: "reconnect", Err: err}
	}
	return nil
}

// Dialect implements Store.
func (db *Postgres) Dialect() Dialect { return DialectPostgres }

// Close closes the connection.
func (db *Postgres) Close() error {
	if db.closed || db.conn == nil {
		db.closed = true
		return nil
	}
	db.closed = true
	return db.conn.Close(context.Background())
}

// ApplySchema implements Store. A statement with no arguments goes out over
// the simple protocol, so the schema may hold several statements.
func (db *Postgres) ApplySchema(ctx context.Context, schema string) error {
	if err := db.ensure(ctx, "apply schema"); err != nil {
		return err
	}
	_, err := db.conn.Exec(ctx, schema)
	return classifyPG("apply schema", err)
}

// Exec implements Execer. Outside a transaction a statement that failed on
// a dead connection is retried once on a fresh one.
func (db *Postgres) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := db.withReconnect(ctx, "exec", func() error {
		var err error
		n, err = pgExec(ctx, db.conn, query, args)
		return err
	})
	return n, err
}

// Query implements Execer.
func (db *Postgres) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	var out *Rows
	err := db.withReconnect(ctx, "query", func() error {
		var err error
		out, err = pgQuery(ctx, db.conn, query, args)
		return err
	})
	return out, err
}

// Begin implements Store.
func (db *Postgres) Begin(ctx context.Context) (Tx, error) {
	var tx pgx.Tx
	err := db.withReconnect(ctx, "begin", func() error {
		var err error
		tx, err = db.conn.Begin(ctx)
		return classifyPG("BEGIN", err)
	})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (db *Postgres) withReconnect(ctx context.Context, op string, fn func() error) error {
	if err := db.ensure(ctx, op); err != nil {
		return err
	}
	err := fn()
	if !IsConnectionError(err) {
		return err
	}
	if db.conn != nil && !db.conn.IsClosed() {
		_ = db.conn.Close(ctx)
	}
	if err := db.ensure(ctx, op); err != nil {
		return err
	}
	return fn()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return pgExec(ctx, t.tx, query, args)
}

func (t *pgTx) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	return pgQuery(ctx, t.tx, query, args)
}

func (t *pgTx) Commit() error {
	return classifyPG("COMMIT", t.tx.Commit(context.Background()))
}

func (t *pgTx) Rollback() {
	_ = t.tx.Rollback(context.Background())
}

type pgExecQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgExec(ctx context.Context, q pgExecQueryer, query string, args []any) (int64, error) {
	tag, err := q.Exec(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return 0, classifyPG(query, err)
	}
	return tag.RowsAffected(), nil
}

func pgQuery(ctx context.Context, q pgExecQueryer, query string, args []any) (*Rows, error) {
	rows, err := q.Query(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
	if err != nil {
		return nil, classifyPG(query, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	out := newRows(cols)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classifyPG(query, err)
		}
		out.appendValues(vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG(query, err)
	}
	return out, nil
}

func classifyPG(query string, err error) error {
	if err == nil {
		return nil
	}
	if pgConnectionFailure(err) {
		return &ConnectionError{Op: abbrev(query), Err: err}
	}
	return &StatementError{Query: abbrev(query), Err: err}
}

func pgConnectionFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, class 28 invalid authorization,
		// class 57P admin shutdown and friends.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "28") ||
			strings.HasPrefix(pgErr.Code, "57P")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
