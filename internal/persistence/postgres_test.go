package persistence_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodePapayas/a-life-cs461/internal/persistence"
)

// Set TEST_ALIFE_PG_DSN to run these against a real server.
func pgDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_ALIFE_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_ALIFE_PG_DSN not set")
	}
	return dsn
}

func TestPGParams_ConnString(t *testing.T) {
	p := persistence.DefaultPGParams()
	assert.Equal(t, "host=localhost port=5432 dbname=alife_sim user=postgres connect_timeout=10", p.ConnString())

	p.Password = "secret"
	assert.Contains(t, p.ConnString(), "password=secret")
}

func TestPostgres_ConnectFailureIsConnectionError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := persistence.OpenPostgresDSN(ctx, "host=127.0.0.1 port=1 dbname=x user=x connect_timeout=1")
	require.Error(t, err)
	assert.True(t, persistence.IsConnectionError(err))
}

func TestPostgres_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.OpenPostgresDSN(ctx, pgDSN(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.ApplySchema(ctx, `
CREATE TABLE IF NOT EXISTS persistence_test_blob (
	id      BIGSERIAL PRIMARY KEY,
	payload BYTEA,
	ratio   DOUBLE PRECISION,
	flag    BOOLEAN
);
TRUNCATE persistence_test_blob;`))

	payload := []byte{0x00, 0xff, 0x10}
	_, err = db.Exec(ctx, "INSERT INTO persistence_test_blob (payload, ratio, flag) VALUES (?, ?, ?)", payload, 1.0/3.0, true)
	require.NoError(t, err)

	rows, err := db.Query(ctx, "SELECT payload, ratio, flag FROM persistence_test_blob")
	require.NoError(t, err)
	require.Equal(t, 1, rows.Len())
	row := rows.Row(0)
	assert.Equal(t, payload, row.Bytes(0))
	assert.Equal(t, 1.0/3.0, row.Float64(1))
	assert.True(t, row.Bool(2))
	require.NoError(t, row.Err())

	_, err = db.Exec(ctx, "INSERT INTO no_such_table VALUES (1)")
	assert.True(t, persistence.IsStatementError(err))
}
