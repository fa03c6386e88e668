package persistence

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HexPrefix marks a binary value that crossed a text-only transport.
// It matches PostgreSQL's bytea hex output format.
const HexPrefix = `\x`

type cell struct {
	data   []byte
	null   bool
	binary bool // data holds raw bytes rather than a text rendering
}

// Rows is a fully materialized result set. Every cell is held either as its
// text rendering or, for binary columns, as raw bytes.
type Rows struct {
	columns []string
	cells   [][]cell
}

// Len returns the number of rows.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.cells)
}

// Cols returns the number of columns.
func (r *Rows) Cols() int {
	if r == nil {
		return 0
	}
	return len(r.columns)
}

// Columns returns the column names.
func (r *Rows) Columns() []string { return r.columns }

// Text returns the text rendering of a cell, "" for NULL.
func (r *Rows) Text(row, col int) string {
	c := r.cells[row][col]
	if c.null {
		return ""
	}
	if c.binary {
		return HexPrefix + hex.EncodeToString(c.data)
	}
	return string(c.data)
}

// IsNull reports whether a cell is SQL NULL.
func (r *Rows) IsNull(row, col int) bool { return r.cells[row][col].null }

// ByteLen returns the stored length of a cell in its current form.
func (r *Rows) ByteLen(row, col int) int { return len(r.cells[row][col].data) }

// Bytes returns the raw bytes of a binary cell. A textual cell carrying the
// HexPrefix form is decoded; NULL yields nil.
func (r *Rows) Bytes(row, col int) ([]byte, error) {
	c := r.cells[row][col]
	switch {
	case c.null:
		return nil, nil
	case c.binary:
		return bytes.Clone(c.data), nil
	case bytes.HasPrefix(c.data, []byte(HexPrefix)):
		out, err := hex.DecodeString(string(c.data[len(HexPrefix):]))
		if err != nil {
			return nil, fmt.Errorf("decode hex column %s: %w", r.columns[col], err)
		}
		return out, nil
	default:
		return bytes.Clone(c.data), nil
	}
}

// Row returns a reader over one row that records the first conversion error.
func (r *Rows) Row(i int) *Row {
	return &Row{rows: r, i: i}
}

// Row converts the cells of one result row. After reading all wanted
// columns, check Err once.
type Row struct {
	rows *Rows
	i    int
	err  error
}

// Err returns the first conversion error seen on this row.
func (r *Row) Err() error { return r.err }

func (r *Row) fail(col int, kind string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("row %d column %s: parse %s: %w", r.i, r.rows.columns[col], kind, err)
	}
}

// Text returns the text form of col.
func (r *Row) Text(col int) string { return r.rows.Text(r.i, col) }

// Int64 parses col as a signed integer. NULL reads as 0.
func (r *Row) Int64(col int) int64 {
	s := r.rows.Text(r.i, col)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.fail(col, "int64", err)
	}
	return v
}

// Uint64 parses col as an unsigned integer. NULL reads as 0.
func (r *Row) Uint64(col int) uint64 {
	s := r.rows.Text(r.i, col)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		r.fail(col, "uint64", err)
	}
	return v
}

// Float64 parses col as a float. NULL reads as 0.
func (r *Row) Float64(col int) float64 {
	s := r.rows.Text(r.i, col)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(col, "float64", err)
	}
	return v
}

// Bool parses col as a boolean; accepts true/false, t/f and 1/0.
func (r *Row) Bool(col int) bool {
	switch s := r.rows.Text(r.i, col); s {
	case "1", "t", "true", "TRUE":
		return true
	case "", "0", "f", "false", "FALSE":
		return false
	default:
		r.fail(col, "bool", fmt.Errorf("unexpected value %q", s))
		return false
	}
}

// Bytes returns col as raw bytes; see Rows.Bytes.
func (r *Row) Bytes(col int) []byte {
	b, err := r.rows.Bytes(r.i, col)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("row %d: %w", r.i, err)
	}
	return b
}

// cellFrom renders a driver value. Floats use the shortest representation
// that parses back to the identical value.
func cellFrom(v any) cell {
	switch x := v.(type) {
	case nil:
		return cell{null: true}
	case []byte:
		return cell{data: bytes.Clone(x), binary: true}
	case string:
		return cell{data: []byte(x)}
	case int64:
		return cell{data: strconv.AppendInt(nil, x, 10)}
	case int32:
		return cell{data: strconv.AppendInt(nil, int64(x), 10)}
	case int16:
		return cell{data: strconv.AppendInt(nil, int64(x), 10)}
	case int:
		return cell{data: strconv.AppendInt(nil, int64(x), 10)}
	case uint64:
		return cell{data: strconv.AppendUint(nil, x, 10)}
	case uint32:
		return cell{data: strconv.AppendUint(nil, uint64(x), 10)}
	case float64:
		return cell{data: strconv.AppendFloat(nil, x, 'g', -1, 64)}
	case float32:
		return cell{data: strconv.AppendFloat(nil, float64(x), 'g', -1, 32)}
	case bool:
		return cell{data: strconv.AppendBool(nil, x)}
	case time.Time:
		return cell{data: []byte(x.UTC().Format(time.RFC3339Nano))}
	default:
		return cell{data: []byte(fmt.Sprint(x))}
	}
}

func newRows(columns []string) *Rows {
	return &Rows{columns: columns}
}

func (r *Rows) appendValues(vals []any) {
	row := make([]cell, len(vals))
	for i, v := range vals {
		row[i] = cellFrom(v)
	}
	r.cells = append(r.cells, row)
}
