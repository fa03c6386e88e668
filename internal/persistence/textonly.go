package persistence

import (
	"context"
	"encoding/hex"
)

// TextOnly wraps s so that nothing binary crosses it: []byte parameters are
// sent as HexPrefix-tagged hex text and binary result cells come back as
// that same text form. Rows.Bytes decodes it on the reading side.
func TextOnly(s Store) Store {
	return &textStore{inner: s}
}

type textStore struct {
	inner Store
}

func (t *textStore) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return t.inner.Exec(ctx, query, textArgs(args)...)
}

func (t *textStore) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := t.inner.Query(ctx, query, textArgs(args)...)
	return textRows(rows), err
}

func (t *textStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := t.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &textTx{inner: tx}, nil
}

func (t *textStore) ApplySchema(ctx context.Context, schema string) error {
	return t.inner.ApplySchema(ctx, schema)
}

func (t *textStore) Dialect() Dialect { return t.inner.Dialect() }

func (t *textStore) Close() error { return t.inner.Close() }

type textTx struct {
	inner Tx
}

func (t *textTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return t.inner.Exec(ctx, query, textArgs(args)...)
}

func (t *textTx) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := t.inner.Query(ctx, query, textArgs(args)...)
	return textRows(rows), err
}

func (t *textTx) Commit() error { return t.inner.Commit() }

func (t *textTx) Rollback() { t.inner.Rollback() }

func textArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if b, ok := a.([]byte); ok && b != nil {
			out[i] = HexPrefix + hex.EncodeToString(b)
			continue
		}
		out[i] = a
	}
	return out
}

func textRows(r *Rows) *Rows {
	if r == nil {
		return nil
	}
	for _, row := range r.cells {
		for i, c := range row {
			if c.binary && !c.null {
				row[i] = cell{data: []byte(HexPrefix + hex.EncodeToString(c.data))}
			}
		}
	}
	return r
}
