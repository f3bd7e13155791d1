package engine

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/query"
	"github.com/wippyai/trace-engine/wire"
)

// Proxy is a tagged handle on an Engine given to one owner. Query tags are
// prefixed with the owner tag, and once the owner is gone the proxy is
// disposed so stray calls fail instead of reaching the engine.
type Proxy struct {
	engine *Engine
	tag    string
	alive  atomic.Bool
}

// Proxy returns a handle that attributes calls to tag.
func (e *Engine) Proxy(tag string) *Proxy {
	p := &Proxy{engine: e, tag: tag}
	p.alive.Store(true)
	return p
}

// Proxy returns a child handle whose tag is nested under p's tag. Disposing
// p does not dispose the child.
func (p *Proxy) Proxy(tag string) *Proxy {
	return p.engine.Proxy(joinTag(p.tag, tag))
}

// Tag returns the owner tag.
func (p *Proxy) Tag() string { return p.tag }

// IsAlive reports whether Dispose has not been called.
func (p *Proxy) IsAlive() bool { return p.alive.Load() }

// Dispose makes every later call fail. It may be called more than once.
func (p *Proxy) Dispose() {
	p.alive.Store(false)
}

func (p *Proxy) check(op string) error {
	if !p.alive.Load() {
		return errors.Disposed(p.tag, op)
	}
	return nil
}

func joinTag(owner, tag string) string {
	switch {
	case owner == "":
		return tag
	case tag == "":
		return owner
	}
	return owner + "/" + tag
}

func (p *Proxy) Parse(ctx context.Context, data []byte) error {
	if err := p.check("Parse"); err != nil {
		return err
	}
	return p.engine.Parse(ctx, data)
}

func (p *Proxy) NotifyEOF(ctx context.Context) error {
	if err := p.check("NotifyEOF"); err != nil {
		return err
	}
	return p.engine.NotifyEOF(ctx)
}

func (p *Proxy) LoadTrace(ctx context.Context, r io.Reader, chunkSize int) (int64, error) {
	if err := p.check("LoadTrace"); err != nil {
		return 0, err
	}
	return p.engine.LoadTrace(ctx, r, chunkSize)
}

func (p *Proxy) ResetInstance(ctx context.Context, cfg ResetConfig) error {
	if err := p.check("ResetInstance"); err != nil {
		return err
	}
	return p.engine.ResetInstance(ctx, cfg)
}

func (p *Proxy) RestoreInitialTables(ctx context.Context) error {
	if err := p.check("RestoreInitialTables"); err != nil {
		return err
	}
	return p.engine.RestoreInitialTables(ctx)
}

func (p *Proxy) Status(ctx context.Context) (Status, error) {
	if err := p.check("Status"); err != nil {
		return Status{}, err
	}
	return p.engine.Status(ctx)
}

// StreamingQuery returns an already failed result when p is disposed.
func (p *Proxy) StreamingQuery(sql, tag string) *query.Result {
	tag = joinTag(p.tag, tag)
	if err := p.check("StreamingQuery"); err != nil {
		res := query.New(sql, tag)
		res.Fail(err)
		return res
	}
	return p.engine.StreamingQuery(sql, tag)
}

func (p *Proxy) Query(ctx context.Context, sql, tag string) (*query.Result, error) {
	site := callerStack(1)
	if err := p.check("Query"); err != nil {
		return nil, withStack(err, sql, joinTag(p.tag, tag), site)
	}
	return p.engine.query(ctx, sql, joinTag(p.tag, tag), site)
}

func (p *Proxy) TryQuery(ctx context.Context, sql, tag string) query.Outcome {
	res := p.StreamingQuery(sql, tag)
	return query.Outcome{Result: res, Err: res.Wait(ctx)}
}

func (p *Proxy) ComputeMetric(ctx context.Context, names []string, format wire.MetricFormat) ([]byte, error) {
	if err := p.check("ComputeMetric"); err != nil {
		return nil, err
	}
	return p.engine.ComputeMetric(ctx, names, format)
}

func (p *Proxy) EnableMetatrace(ctx context.Context, categories wire.MetatraceCategories) error {
	if err := p.check("EnableMetatrace"); err != nil {
		return err
	}
	return p.engine.EnableMetatrace(ctx, categories)
}

func (p *Proxy) StopAndGetMetatrace(ctx context.Context) ([]byte, error) {
	if err := p.check("StopAndGetMetatrace"); err != nil {
		return nil, err
	}
	return p.engine.StopAndGetMetatrace(ctx)
}

func (p *Proxy) RegisterSQLPackage(ctx context.Context, pkg SQLPackage) error {
	if err := p.check("RegisterSQLPackage"); err != nil {
		return err
	}
	return p.engine.RegisterSQLPackage(ctx, pkg)
}
