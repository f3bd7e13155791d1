package sqlite

import (
	"context"
	"time"

	"github.com/tidwall/sjson"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

// metatrace records the processor's own work while enabled.
type metatrace struct {
	start      time.Time
	events     []metaEvent
	categories wire.MetatraceCategories
}

type jsonField struct {
	path  string
	value any
}

type metaEvent struct {
	name     string
	category string
	sql      string
	err      string
	start    time.Duration
	dur      time.Duration
	rows     int
}

func (m *metatrace) record(cat wire.MetatraceCategories, category, name, sql string, start time.Time, dur time.Duration, rows int, err error) {
	if m.categories&cat == 0 {
		return
	}
	ev := metaEvent{
		name:     name,
		category: category,
		sql:      sql,
		start:    start.Sub(m.start),
		dur:      dur,
		rows:     rows,
	}
	if err != nil {
		ev.err = err.Error()
	}
	m.events = append(m.events, ev)
}

func (m *metatrace) query(sql string, start time.Time, dur time.Duration, rows int, err error) {
	m.record(wire.MetatraceQueryToplevel, "query_toplevel", "query", sql, start, dur, rows, err)
}

func (m *metatrace) statement(sql string, start time.Time, dur time.Duration, rows int, err error) {
	m.record(wire.MetatraceQueryDetailed, "query_detailed", "statement", sql, start, dur, rows, err)
}

// EnableMetatrace starts recording. No categories selects top-level
// queries. Enabling again discards what was recorded.
func (p *Processor) EnableMetatrace(_ context.Context, categories wire.MetatraceCategories) error {
	if categories == wire.MetatraceNone {
		categories = wire.MetatraceQueryToplevel
	}
	p.meta = &metatrace{start: time.Now(), categories: categories}
	return nil
}

// DisableAndReadMetatrace stops recording and returns the records as a
// Chrome JSON trace.
func (p *Processor) DisableAndReadMetatrace(context.Context) ([]byte, error) {
	m := p.meta
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseBackend, "metatrace is not enabled")
	}
	p.meta = nil

	out := []byte(`{"traceEvents":[]}`)
	for _, ev := range m.events {
		e := []byte("{}")
		fields := []jsonField{
			{"name", ev.name},
			{"cat", ev.category},
			{"ph", "X"},
			{"ts", float64(ev.start.Nanoseconds()) / 1000},
			{"dur", float64(ev.dur.Nanoseconds()) / 1000},
			{"pid", 1},
			{"tid", 1},
			{"args.sql", ev.sql},
			{"args.rows", ev.rows},
		}
		if ev.err != "" {
			fields = append(fields, jsonField{"args.error", ev.err})
		}

		var err error
		for _, f := range fields {
			if e, err = sjson.SetBytes(e, f.path, f.value); err != nil {
				return nil, err
			}
		}
		if out, err = sjson.SetRawBytes(out, "traceEvents.-1", e); err != nil {
			return nil, err
		}
	}
	return out, nil
}
