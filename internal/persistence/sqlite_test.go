package persistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodePapayas/a-life-cs461/internal/persistence"
	"github.com/CodePapayas/a-life-cs461/internal/persistence/persistencetest"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS parent (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS child (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER NOT NULL REFERENCES parent(id) ON DELETE CASCADE,
	payload   BLOB
);
`

func setup(t *testing.T) (context.Context, *persistence.SQLite) {
	t.Helper()
	ctx := context.Background()
	db := persistencetest.OpenSQLite(t)
	require.NoError(t, db.ApplySchema(ctx, testSchema))
	return ctx, db
}

func count(t *testing.T, ctx context.Context, s persistence.Execer, table string) int64 {
	t.Helper()
	rows, err := s.Query(ctx, "SELECT COUNT(*) FROM "+table)
	require.NoError(t, err)
	require.Equal(t, 1, rows.Len())
	row := rows.Row(0)
	n := row.Int64(0)
	require.NoError(t, row.Err())
	return n
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := persistence.OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := persistence.Open(context.Background(), persistence.Options{Driver: "oracle"})
	assert.ErrorContains(t, err, "unknown driver")
}

func TestApplySchema_Idempotent(t *testing.T) {
	ctx, db := setup(t)
	require.NoError(t, db.ApplySchema(ctx, testSchema))
	assert.Equal(t, persistence.DialectSQLite, db.Dialect())
}

func TestSQLite_CascadeDelete(t *testing.T) {
	ctx, db := setup(t)

	_, err := db.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "p")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = db.Exec(ctx, "INSERT INTO child (parent_id, payload) VALUES ((SELECT id FROM parent WHERE name = ?), ?)", "p", []byte{byte(i)})
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), count(t, ctx, db, "child"))

	n, err := db.Exec(ctx, "DELETE FROM parent WHERE name = ?", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(0), count(t, ctx, db, "child"))
}

func TestSQLite_BinaryRoundTrip(t *testing.T) {
	ctx, db := setup(t)
	payload := []byte{0x00, 0x01, 0xff, 0x00, '\\', 'x', 0x7f}

	_, err := db.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "p")
	require.NoError(t, err)
	_, err = db.Exec(ctx, "INSERT INTO child (parent_id, payload) VALUES (1, ?)", payload)
	require.NoError(t, err)

	rows, err := db.Query(ctx, "SELECT payload FROM child")
	require.NoError(t, err)
	require.Equal(t, 1, rows.Len())
	got, err := rows.Bytes(0, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, len(payload), rows.ByteLen(0, 0))
}

func TestSQLite_StatementError(t *testing.T) {
	ctx, db := setup(t)

	_, err := db.Exec(ctx, "INSERT INTO nowhere VALUES (1)")
	require.Error(t, err)
	assert.True(t, persistence.IsStatementError(err))
	assert.False(t, persistence.IsConnectionError(err))

	_, err = db.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "dup")
	require.NoError(t, err)
	_, err = db.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "dup")
	assert.True(t, persistence.IsStatementError(err), "unique violation is a statement error")
}

func TestSQLite_ClosedStore(t *testing.T) {
	ctx, db := setup(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Query(ctx, "SELECT 1")
	require.Error(t, err)
	assert.True(t, persistence.IsConnectionError(err))
	assert.True(t, errors.Is(err, persistence.ErrClosed))
}

func TestWithTx_CommitsAndRollsBack(t *testing.T) {
	ctx, db := setup(t)

	err := persistence.WithTx(ctx, db, func(tx persistence.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "kept")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = persistence.WithTx(ctx, db, func(tx persistence.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "dropped"); err != nil {
			return err
		}
		assert.Equal(t, int64(2), count(t, ctx, tx, "parent"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), count(t, ctx, db, "parent"))
}

func TestWithTx_CommitFailureRollsBack(t *testing.T) {
	ctx, db := setup(t)
	faulty := persistencetest.NewFaulty(db)
	faulty.FailOn("COMMIT", nil)

	err := persistence.WithTx(ctx, faulty, func(tx persistence.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "x")
		return err
	})
	require.ErrorIs(t, err, persistencetest.ErrInjected)
	assert.Equal(t, int64(0), count(t, ctx, db, "parent"))
}

func TestTextOnly_HexTransport(t *testing.T) {
	ctx, db := setup(t)
	text := persistence.TextOnly(db)
	payload := []byte{0x00, 0xca, 0xfe, 0x00}

	_, err := text.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "p")
	require.NoError(t, err)
	_, err = text.Exec(ctx, "INSERT INTO child (parent_id, payload) VALUES (1, ?)", payload)
	require.NoError(t, err)

	// The raw store sees the escaped text form.
	rows, err := db.Query(ctx, "SELECT payload FROM child")
	require.NoError(t, err)
	assert.Equal(t, `\x00cafe00`, rows.Text(0, 0))
	got, err := rows.Bytes(0, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Binary written directly comes back through the wrapper as text.
	_, err = db.Exec(ctx, "UPDATE child SET payload = ?", payload)
	require.NoError(t, err)
	rows, err = text.Query(ctx, "SELECT payload FROM child")
	require.NoError(t, err)
	assert.Equal(t, `\x00cafe00`, rows.Text(0, 0))
	got, err = rows.Bytes(0, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestTextOnly_Transactions(t *testing.T) {
	ctx, db := setup(t)
	text := persistence.TextOnly(db)

	err := persistence.WithTx(ctx, text, func(tx persistence.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO parent (name) VALUES (?)", "p"); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO child (parent_id, payload) VALUES (1, ?)", []byte("abc"))
		return err
	})
	require.NoError(t, err)

	rows, err := text.Query(ctx, "SELECT payload FROM child")
	require.NoError(t, err)
	got, err := rows.Bytes(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}
