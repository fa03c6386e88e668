package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrClosed is returned for statements issued after Close.
var ErrClosed = errors.New("persistence: store is closed")

// SQLite is a Store backed by a single SQLite connection.
type SQLite struct {
	conn   *sqlx.DB
	path   string
	closed bool
}

// OpenSQLite opens or creates the database at path. Every connection the
// pool makes runs with foreign keys enforced, WAL journaling and a busy
// timeout, so cascading deletes hold across reconnects.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("persistence: sqlite path is empty")
	}
	conn, err := sqlx.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &ConnectionError{Op: "open", Err: err}
	}

	// One writer; statements inside a transaction go through the Tx.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, &ConnectionError{Op: "open", Err: err}
	}

	var fk int
	if err := conn.GetContext(ctx, &fk, "PRAGMA foreign_keys"); err != nil {
		conn.Close()
		return nil, &ConnectionError{Op: "open", Err: err}
	}
	if fk != 1 {
		conn.Close()
		return nil, fmt.Errorf("persistence: sqlite %s: foreign key enforcement is off", path)
	}

	return &SQLite{conn: conn, path: path}, nil
}

// Dialect implements Store.
func (db *SQLite) Dialect() Dialect { return DialectSQLite }

// Close closes the connection.
func (db *SQLite) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	return db.conn.Close()
}

// ApplySchema implements Store.
func (db *SQLite) ApplySchema(ctx context.Context, schema string) error {
	if db.closed {
		return &ConnectionError{Op: "apply schema", Err: ErrClosed}
	}
	_, err := db.conn.ExecContext(ctx, schema)
	return classifySQLite("apply schema", err)
}

// Exec implements Execer.
func (db *SQLite) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := db.withReconnect(ctx, "exec", func() error {
		var err error
		n, err = sqliteExec(ctx, db.conn, query, args)
		return err
	})
	return n, err
}

// Query implements Execer.
func (db *SQLite) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	var out *Rows
	err := db.withReconnect(ctx, "query", func() error {
		var err error
		out, err = sqliteQuery(ctx, db.conn, query, args)
		return err
	})
	return out, err
}

// Begin implements Store.
func (db *SQLite) Begin(ctx context.Context) (Tx, error) {
	var tx *sqlx.Tx
	err := db.withReconnect(ctx, "begin", func() error {
		var err error
		tx, err = db.conn.BeginTxx(ctx, nil)
		return classifySQLite("BEGIN", err)
	})
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// withReconnect runs fn, and on a connection failure pings the database
// (which makes the pool dial a fresh connection) and runs fn once more.
func (db *SQLite) withReconnect(ctx context.Context, op string, fn func() error) error {
	if db.closed {
		return &ConnectionError{Op: op, Err: ErrClosed}
	}
	err := fn()
	if !IsConnectionError(err) {
		return err
	}
	slog.Warn("sqlite connection lost, reconnecting", "path", db.path, "op", op, "error", err)
	if perr := db.conn.PingContext(ctx); perr != nil {
		return &ConnectionError{Op: "reconnect", Err: perr}
	}
	return fn()
}

type sqliteTx struct {
	tx *sqlx.Tx
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqliteExec(ctx, t.tx, query, args)
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	return sqliteQuery(ctx, t.tx, query, args)
}

func (t *sqliteTx) Commit() error {
	return classifySQLite("COMMIT", t.tx.Commit())
}

func (t *sqliteTx) Rollback() {
	_ = t.tx.Rollback()
}

type sqlxExecQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

func sqliteExec(ctx context.Context, q sqlxExecQueryer, query string, args []any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classifySQLite(query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classifySQLite(query, err)
	}
	return n, nil
}

func sqliteQuery(ctx context.Context, q sqlxExecQueryer, query string, args []any) (*Rows, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLite(query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifySQLite(query, err)
	}
	out := newRows(cols)
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, classifySQLite(query, err)
		}
		out.appendValues(vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite(query, err)
	}
	return out, nil
}

func classifySQLite(query string, err error) error {
	if err == nil {
		return nil
	}
	if sqliteConnectionFailure(err) {
		return &ConnectionError{Op: abbrev(query), Err: err}
	}
	return &StatementError{Query: abbrev(query), Err: err}
}

func sqliteConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_NOTADB,
			sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_PERM,
			sqlite3.SQLITE_AUTH, sqlite3.SQLITE_FULL:
			return true
		}
	}
	return false
}
