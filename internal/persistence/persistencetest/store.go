// Package persistencetest provides stores for tests: a throwaway SQLite
// database and a wrapper that fails chosen statements.
package persistencetest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/CodePapayas/a-life-cs461/internal/persistence"
)

// ErrInjected is the error returned by a Faulty store's failing statement.
var ErrInjected = errors.New("injected failure")

// OpenSQLite opens a fresh database under t.TempDir and closes it with the test.
func OpenSQLite(t testing.TB) *persistence.SQLite {
	t.Helper()
	db, err := persistence.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Faulty wraps a Store and fails every statement whose text contains
// FailOn, inside or outside transactions. Statements are recorded.
type Faulty struct {
	persistence.Store

	mu       sync.Mutex
	failOn   string
	failWith error
	seen     []string
}

// NewFaulty wraps s with no failure armed.
func NewFaulty(s persistence.Store) *Faulty {
	return &Faulty{Store: s}
}

// FailOn arms the wrapper: statements containing substr fail with err.
// A nil err means a StatementError around ErrInjected; an empty substr
// disarms it.
func (f *Faulty) FailOn(substr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = &persistence.StatementError{Query: substr, Err: ErrInjected}
	}
	f.failOn = substr
	f.failWith = err
}

// Statements returns every statement issued so far.
func (f *Faulty) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func (f *Faulty) check(query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, query)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return f.failWith
	}
	return nil
}

// Exec implements persistence.Execer.
func (f *Faulty) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := f.check(query); err != nil {
		return 0, err
	}
	return f.Store.Exec(ctx, query, args...)
}

// Query implements persistence.Execer.
func (f *Faulty) Query(ctx context.Context, query string, args ...any) (*persistence.Rows, error) {
	if err := f.check(query); err != nil {
		return nil, err
	}
	return f.Store.Query(ctx, query, args...)
}

// Begin implements persistence.Store.
func (f *Faulty) Begin(ctx context.Context) (persistence.Tx, error) {
	if err := f.check("BEGIN"); err != nil {
		return nil, err
	}
	tx, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, f: f}, nil
}

type faultyTx struct {
	persistence.Tx
	f *Faulty
}

func (t *faultyTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := t.f.check(query); err != nil {
		return 0, err
	}
	return t.Tx.Exec(ctx, query, args...)
}

func (t *faultyTx) Query(ctx context.Context, query string, args ...any) (*persistence.Rows, error) {
	if err := t.f.check(query); err != nil {
		return nil, err
	}
	return t.Tx.Query(ctx, query, args...)
}

func (t *faultyTx) Commit() error {
	if err := t.f.check("COMMIT"); err != nil {
		return err
	}
	return t.Tx.Commit()
}
