package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

// metric is a named group of integer fields.
type metric struct {
	name   string
	fields []metricField
}

type metricField struct {
	name  string
	value int64
}

var metricNames = map[string]func(*Processor, context.Context) (metric, error){
	"trace_bounds": (*Processor).traceBounds,
	"trace_stats":  (*Processor).traceStats,
}

func (p *Processor) ComputeMetric(ctx context.Context, names []string, format wire.MetricFormat) ([]byte, error) {
	if len(names) == 0 {
		return nil, errors.InvalidInput(errors.PhaseBackend, "no metric requested")
	}
	if format != wire.MetricFormatJSON && format != wire.MetricFormatText {
		return nil, errors.Unsupported(errors.PhaseBackend, format.String()+" metric format")
	}

	metrics := make([]metric, 0, len(names))
	for _, name := range names {
		compute, ok := metricNames[name]
		if !ok {
			return nil, errors.NotFound(errors.PhaseBackend, "metric", name)
		}
		m, err := compute(p, ctx)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}

	if format == wire.MetricFormatText {
		return metricsText(metrics), nil
	}
	return metricsJSON(metrics)
}

func (p *Processor) traceBounds(ctx context.Context) (metric, error) {
	var start, end int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(ts), 0), COALESCE(MAX(end_ts), 0) FROM (
			SELECT ts, ts + MAX(dur, 0) AS end_ts FROM slice
			UNION ALL SELECT ts, ts FROM counter
			UNION ALL SELECT ts, ts FROM instant
		)`).Scan(&start, &end)
	if err != nil {
		return metric{}, err
	}
	return metric{name: "trace_bounds", fields: []metricField{
		{"start_ts", start},
		{"end_ts", end},
	}}, nil
}

func (p *Processor) traceStats(ctx context.Context) (metric, error) {
	m := metric{name: "trace_stats"}
	for _, table := range []string{"slice", "counter", "instant", "process", "thread"} {
		var n int64
		if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return metric{}, err
		}
		m.fields = append(m.fields, metricField{table + "_count", n})
	}
	m.fields = append(m.fields, metricField{"skipped_events", int64(p.counts.skipped)})
	return m, nil
}

func metricsJSON(metrics []metric) ([]byte, error) {
	out := []byte("{}")
	for _, m := range metrics {
		for _, f := range m.fields {
			var err error
			if out, err = sjson.SetBytes(out, m.name+"."+f.name, f.value); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// metricsText renders metrics in protobuf text format.
func metricsText(metrics []metric) []byte {
	var b strings.Builder
	for _, m := range metrics {
		fmt.Fprintf(&b, "%s {\n", m.name)
		for _, f := range m.fields {
			fmt.Fprintf(&b, "  %s: %d\n", f.name, f.value)
		}
		b.WriteString("}\n")
	}
	return []byte(b.String())
}
