package query

import (
	"strconv"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

// ColumnType is the expected type of a column in a Spec.
type ColumnType int

const (
	Any ColumnType = iota
	Num
	NumNull
	Long
	LongNull
	Str
	StrNull
	Blob
	BlobNull
)

func (t ColumnType) String() string {
	switch t {
	case Any:
		return "ANY"
	case Num:
		return "NUM"
	case NumNull:
		return "NUM_NULL"
	case Long:
		return "LONG"
	case LongNull:
		return "LONG_NULL"
	case Str:
		return "STR"
	case StrNull:
		return "STR_NULL"
	case Blob:
		return "BLOB"
	case BlobNull:
		return "BLOB_NULL"
	}
	return "UNKNOWN"
}

// accepts reports whether a cell of type ct satisfies t.
func (t ColumnType) accepts(ct wire.CellType) bool {
	switch t {
	case Any:
		return true
	case Num:
		return ct == wire.CellVarint || ct == wire.CellFloat64
	case NumNull:
		return ct == wire.CellVarint || ct == wire.CellFloat64 || ct == wire.CellNull
	case Long:
		return ct == wire.CellVarint
	case LongNull:
		return ct == wire.CellVarint || ct == wire.CellNull
	case Str:
		return ct == wire.CellString
	case StrNull:
		return ct == wire.CellString || ct == wire.CellNull
	case Blob:
		return ct == wire.CellBlob
	case BlobNull:
		return ct == wire.CellBlob || ct == wire.CellNull
	}
	return false
}

// Spec names the columns a caller reads and the types it expects.
type Spec map[string]ColumnType

// Value is a single cell.
type Value struct {
	Str  string
	Blob []byte
	Long int64
	Num  float64
	Type wire.CellType
}

// IsNull reports whether the cell is NULL.
func (v Value) IsNull() bool {
	return v.Type == wire.CellNull
}

// Float returns the numeric value of an integer or floating point cell.
func (v Value) Float() float64 {
	if v.Type == wire.CellVarint {
		return float64(v.Long)
	}
	return v.Num
}

// Interface returns the cell as a Go value: nil, int64, float64, string or
// []byte.
func (v Value) Interface() any {
	switch v.Type {
	case wire.CellVarint:
		return v.Long
	case wire.CellFloat64:
		return v.Num
	case wire.CellString:
		return v.Str
	case wire.CellBlob:
		return v.Blob
	}
	return nil
}

// Row maps column names to the cells of one row.
type Row map[string]Value

// Iterator is a forward-only cursor over the rows a Result had materialized
// when the iterator was created.
type Iterator struct {
	err     error
	spec    Spec
	index   map[string]int
	columns []string
	cells   []Value
	rows    int
	pos     int
}

// Valid reports whether the cursor points at a row.
func (it *Iterator) Valid() bool {
	return it.err == nil && it.pos < it.rows
}

// Next advances to the following row.
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.pos++
	it.check()
}

// Err returns the type error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// RowIndex returns the position of the current row.
func (it *Iterator) RowIndex() int {
	return it.pos
}

// check validates the current row against the column Spec.
func (it *Iterator) check() {
	if it.pos >= it.rows {
		return
	}
	for name, want := range it.spec {
		got := it.cell(it.index[name]).Type
		if !want.accepts(got) {
			e := errors.TypeMismatch(name, want.String(), got.String())
			e.Detail += " at row " + strconv.Itoa(it.pos)
			it.err = e
			return
		}
	}
}

func (it *Iterator) cell(col int) Value {
	return it.cells[it.pos*len(it.columns)+col]
}

// Get returns the cell of the named column. Unknown columns read as NULL.
func (it *Iterator) Get(column string) Value {
	col, ok := it.index[column]
	if !ok || !it.Valid() {
		return Value{Type: wire.CellNull}
	}
	return it.cell(col)
}

// Long returns an integer column.
func (it *Iterator) Long(column string) int64 {
	return it.Get(column).Long
}

// Num returns a numeric column as float64.
func (it *Iterator) Num(column string) float64 {
	return it.Get(column).Float()
}

// Str returns a string column.
func (it *Iterator) Str(column string) string {
	return it.Get(column).Str
}

// Blob returns a blob column.
func (it *Iterator) Blob(column string) []byte {
	return it.Get(column).Blob
}

// IsNull reports whether the named column is NULL in the current row.
func (it *Iterator) IsNull(column string) bool {
	return it.Get(column).IsNull()
}

// Row returns the current row, including columns not named in its column Spec.
func (it *Iterator) Row() Row {
	if !it.Valid() {
		return nil
	}
	row := make(Row, len(it.columns))
	for i, name := range it.columns {
		row[name] = it.cell(i)
	}
	return row
}
