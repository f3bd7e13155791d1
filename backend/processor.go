package backend

import (
	"context"

	"github.com/wippyai/trace-engine/wire"
)

// Processor is an analytical engine answering RPCs. A Server calls it from
// one goroutine at a time.
type Processor interface {
	// AppendTraceData ingests a chunk of trace bytes and returns the total
	// number of bytes consumed so far.
	AppendTraceData(ctx context.Context, data []byte) (int64, error)

	// FinalizeTraceData marks the end of trace input.
	FinalizeTraceData(ctx context.Context) error

	// Query runs sql and writes the rows of its last statement to w. An
	// error is reported to the caller as a query error; the engine stays
	// usable.
	Query(ctx context.Context, sql string, w RowWriter) (QueryStats, error)

	ComputeMetric(ctx context.Context, names []string, format wire.MetricFormat) ([]byte, error)
	EnableMetatrace(ctx context.Context, categories wire.MetatraceCategories) error
	DisableAndReadMetatrace(ctx context.Context) ([]byte, error)

	// RestoreInitialTables drops everything created since the trace was
	// loaded.
	RestoreInitialTables(ctx context.Context) error

	// Reset discards the loaded trace and all state.
	Reset(ctx context.Context, cfg wire.ResetArgs) error

	RegisterSQLPackage(ctx context.Context, pkg wire.RegisterSQLPackageArgs) error
	Status(ctx context.Context) (wire.StatusResult, error)
}

// RowWriter receives the rows of a query.
type RowWriter interface {
	// SetColumns is called once, before the first row.
	SetColumns(names []string)

	// WriteRow writes one row. Values are nil, int64, float64, string or
	// []byte; other integer, float and bool types are converted.
	WriteRow(values []any) error
}

// QueryStats describes the statements a query executed.
type QueryStats struct {
	LastStatementSQL         string
	StatementCount           int
	StatementWithOutputCount int
}
