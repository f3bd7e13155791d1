package traceengine

import (
	"context"
	"io"

	"github.com/wippyai/trace-engine/engine"
	"github.com/wippyai/trace-engine/query"
	"github.com/wippyai/trace-engine/wire"
)

// Querier is the request surface shared by an Engine and its proxies.
// Code that only issues requests should accept a Querier so it can be
// handed a tagged proxy.
type Querier interface {
	Parse(ctx context.Context, data []byte) error
	NotifyEOF(ctx context.Context) error
	LoadTrace(ctx context.Context, r io.Reader, chunkSize int) (int64, error)
	ResetInstance(ctx context.Context, cfg engine.ResetConfig) error
	RestoreInitialTables(ctx context.Context) error
	Status(ctx context.Context) (engine.Status, error)

	StreamingQuery(sql, tag string) *query.Result
	Query(ctx context.Context, sql, tag string) (*query.Result, error)
	TryQuery(ctx context.Context, sql, tag string) query.Outcome

	ComputeMetric(ctx context.Context, names []string, format wire.MetricFormat) ([]byte, error)
	EnableMetatrace(ctx context.Context, categories wire.MetatraceCategories) error
	StopAndGetMetatrace(ctx context.Context) ([]byte, error)
	RegisterSQLPackage(ctx context.Context, pkg engine.SQLPackage) error

	// Proxy returns a handle whose calls are tagged under tag.
	Proxy(tag string) *engine.Proxy
}

var (
	_ Querier = (*engine.Engine)(nil)
	_ Querier = (*engine.Proxy)(nil)
)
