package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/query"
	"github.com/wippyai/trace-engine/wire"
)

// Parse sends a chunk of trace bytes and waits until the backend has
// consumed it.
func (e *Engine) Parse(ctx context.Context, data []byte) error {
	_, err := e.parse(ctx, data)
	return err
}

func (e *Engine) parse(ctx context.Context, data []byte) (int64, error) {
	resp, err := e.call(ctx, wire.AppendTraceData{Data: data}, false)
	if err != nil {
		return 0, err
	}
	return resp.(wire.AppendResult).TotalBytesParsed, nil
}

// NotifyEOF tells the backend that no more trace bytes follow.
func (e *Engine) NotifyEOF(ctx context.Context) error {
	_, err := e.call(ctx, wire.FinalizeTraceData{}, false)
	return err
}

// LoadTrace streams r to the backend in chunks of chunkSize bytes and
// finalizes the trace. It returns the number of bytes read from r.
func (e *Engine) LoadTrace(ctx context.Context, r io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultLoadChunkSize
	}
	var total int64
	for {
		// Each chunk is handed to the transport, so it needs its own buffer.
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, perr := e.parse(ctx, buf[:n]); perr != nil {
				return total, perr
			}
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return total, errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "read trace")
		}
	}
	e.log.Debug("trace loaded")
	return total, e.NotifyEOF(ctx)
}

// DefaultLoadChunkSize is the chunk size LoadTrace uses when none is given.
const DefaultLoadChunkSize = 1 << 20

// ResetInstance recreates the backend. Generation is incremented once the
// request is queued, before it is sent. A rejected call leaves it alone.
func (e *Engine) ResetInstance(ctx context.Context, cfg ResetConfig) error {
	_, err := e.call(ctx, cfg, false)
	return err
}

// RestoreInitialTables drops everything created since the trace was loaded.
func (e *Engine) RestoreInitialTables(ctx context.Context) error {
	_, err := e.call(ctx, wire.RestoreInitialTables{}, false)
	return err
}

// Status asks the backend to describe itself.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	resp, err := e.call(ctx, wire.GetStatus{}, false)
	if err != nil {
		return Status{}, err
	}
	return resp.(wire.StatusResult), nil
}

// StreamingQuery sends sql and returns immediately. Rows are appended to the
// result as batches arrive. Failures are reported through the result.
func (e *Engine) StreamingQuery(sql, tag string) *query.Result {
	res := query.New(sql, tag)
	if _, err := e.send(context.Background(), wire.QueryArgs{SQL: sql, Tag: tag}, res, false); err != nil {
		res.Fail(err)
	}
	return res
}

// Query runs sql and waits for all rows. Errors carry the caller's stack in
// Stack, so a failure reported later on the receive goroutine still points
// at the code that issued the query.
func (e *Engine) Query(ctx context.Context, sql, tag string) (*query.Result, error) {
	return e.query(ctx, sql, tag, callerStack(1))
}

func (e *Engine) query(ctx context.Context, sql, tag, site string) (*query.Result, error) {
	res := e.StreamingQuery(sql, tag)
	if err := res.Wait(ctx); err != nil {
		return res, withStack(err, sql, tag, site)
	}
	return res, nil
}

// TryQuery runs sql and waits for all rows, reporting failure as a value.
func (e *Engine) TryQuery(ctx context.Context, sql, tag string) query.Outcome {
	res := e.StreamingQuery(sql, tag)
	return query.Outcome{Result: res, Err: res.Wait(ctx)}
}

// ComputeMetric computes the named metrics. Only one call may be pending.
func (e *Engine) ComputeMetric(ctx context.Context, names []string, format wire.MetricFormat) ([]byte, error) {
	resp, err := e.call(ctx, wire.ComputeMetricArgs{Names: names, Format: format}, true)
	if err != nil {
		return nil, err
	}
	return resp.(wire.MetricResult).Metrics, nil
}

// EnableMetatrace starts self-tracing of the backend. Only one call may be
// pending.
func (e *Engine) EnableMetatrace(ctx context.Context, categories wire.MetatraceCategories) error {
	_, err := e.call(ctx, wire.EnableMetatraceArgs{Categories: categories}, true)
	return err
}

// StopAndGetMetatrace stops self-tracing and returns the recorded trace.
// Only one call may be pending.
func (e *Engine) StopAndGetMetatrace(ctx context.Context) ([]byte, error) {
	resp, err := e.call(ctx, wire.DisableAndReadMetatrace{}, true)
	if err != nil {
		return nil, err
	}
	return resp.(wire.MetatraceResult).Trace, nil
}

// RegisterSQLPackage makes a package of SQL modules available to INCLUDE
// PERFETTO MODULE. Only one call may be pending.
func (e *Engine) RegisterSQLPackage(ctx context.Context, pkg SQLPackage) error {
	_, err := e.call(ctx, pkg, true)
	return err
}

// maxStackFrames bounds the stack recorded on query errors.
const maxStackFrames = 16

// callerStack returns the stack of the caller skip frames above the function
// calling callerStack, one "function\n\tfile:line" entry per frame. Runtime
// frames end the stack.
func callerStack(skip int) string {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		f, more := frames.Next()
		if strings.HasPrefix(f.Function, "runtime.") {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s\n\t%s:%d", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// withStack returns err annotated with the query and the caller's stack. The
// original error is not modified, as it is shared with the result.
func withStack(err error, sql, tag, stack string) error {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return err
	}
	cp := *e
	if cp.SQL == "" {
		cp.SQL = sql
	}
	if cp.Tag == "" {
		cp.Tag = tag
	}
	cp.Stack = stack
	return &cp
}
