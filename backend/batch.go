package backend

import (
	"fmt"

	"github.com/wippyai/trace-engine/wire"
)

// batchWriter turns rows into QueryResult messages holding at most limit
// cells, rounded up to whole rows.
type batchWriter struct {
	flush   func(data *wire.QueryResultData) error
	columns []string
	batch   wire.CellsBatch
	limit   int
	sent    bool
}

func (w *batchWriter) SetColumns(names []string) {
	w.columns = append([]string(nil), names...)
}

func (w *batchWriter) WriteRow(values []any) error {
	if len(values) != len(w.columns) {
		return fmt.Errorf("row has %d values for %d columns", len(values), len(w.columns))
	}
	for _, v := range values {
		appendValue(&w.batch, v)
	}
	if len(w.batch.Cells) >= w.limit {
		return w.emit(&wire.QueryResultData{})
	}
	return nil
}

// finish sends the terminal message, carrying stats and the query error.
func (w *batchWriter) finish(stats QueryStats, queryErr error) error {
	w.batch.IsLast = true
	data := &wire.QueryResultData{
		StatementCount:           int32(stats.StatementCount),
		StatementWithOutputCount: int32(stats.StatementWithOutputCount),
		LastStatementSQL:         stats.LastStatementSQL,
	}
	if queryErr != nil {
		data.Error = queryErr.Error()
		// Rows already sent are kept by the client; a partial batch is not.
		w.batch = wire.CellsBatch{IsLast: true}
	}
	return w.emit(data)
}

func (w *batchWriter) emit(data *wire.QueryResultData) error {
	if !w.sent {
		data.ColumnNames = w.columns
		w.sent = true
	}
	data.Batches = []wire.CellsBatch{w.batch}
	w.batch = wire.CellsBatch{}
	return w.flush(data)
}

func appendValue(b *wire.CellsBatch, v any) {
	switch x := v.(type) {
	case nil:
		b.AppendNull()
	case int64:
		b.AppendVarint(x)
	case int:
		b.AppendVarint(int64(x))
	case int32:
		b.AppendVarint(int64(x))
	case uint32:
		b.AppendVarint(int64(x))
	case bool:
		if x {
			b.AppendVarint(1)
		} else {
			b.AppendVarint(0)
		}
	case float64:
		b.AppendFloat(x)
	case float32:
		b.AppendFloat(float64(x))
	case string:
		b.AppendString(x)
	case []byte:
		b.AppendBlob(x)
	default:
		b.AppendString(fmt.Sprint(x))
	}
}
