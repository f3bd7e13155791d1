package sqlite

import (
	"context"
	"database/sql"
	"math"
	"sort"

	"github.com/tidwall/gjson"
	"go.uber.org/multierr"

	"github.com/wippyai/trace-engine/errors"
)

// Chrome JSON trace event phases.
const (
	phaseBegin     = "B"
	phaseEnd       = "E"
	phaseComplete  = "X"
	phaseCounter   = "C"
	phaseInstant   = "i"
	phaseInstantV1 = "I"
	phaseMark      = "R"
	phaseMetadata  = "M"
)

type threadKey struct {
	pid, tid int64
}

type process struct {
	name string
	upid int64
	pid  int64
}

type thread struct {
	name string
	utid int64
	tid  int64
	upid int64
}

type slice struct {
	name  string
	cat   string
	args  string
	ts    int64
	dur   int64
	utid  int64
	depth int
}

type counter struct {
	name  string
	ts    int64
	value float64
	upid  int64
}

type instant struct {
	name  string
	cat   string
	scope string
	ts    int64
	utid  int64
}

type ingestCounts struct {
	slices    int
	counters  int
	instants  int
	processes int
	threads   int
	skipped   int
}

// traceBuilder accumulates parsed events before they are stored.
type traceBuilder struct {
	processes map[int64]*process
	threads   map[threadKey]*thread
	open      map[threadKey][]int
	slices    []slice
	counters  []counter
	instants  []instant
	skipped   int
}

// parseChromeJSON reads a trace in the Chrome JSON format, either an
// object with a traceEvents array or a bare array of events.
func parseChromeJSON(data []byte) (*traceBuilder, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.InvalidData(errors.PhaseBackend, "trace is not valid JSON", nil)
	}
	root := gjson.ParseBytes(data)
	events := root
	if root.IsObject() {
		events = root.Get("traceEvents")
	}
	if !events.IsArray() {
		return nil, errors.InvalidData(errors.PhaseBackend, "trace has no traceEvents array", nil)
	}

	tb := &traceBuilder{
		processes: make(map[int64]*process),
		threads:   make(map[threadKey]*thread),
		open:      make(map[threadKey][]int),
	}
	events.ForEach(func(_, ev gjson.Result) bool {
		tb.add(ev)
		return true
	})
	tb.assignDepths()
	return tb, nil
}

// micros converts a Chrome timestamp in microseconds to nanoseconds.
func micros(v gjson.Result) int64 {
	return int64(math.Round(v.Float() * 1000))
}

func (tb *traceBuilder) process(pid int64) *process {
	p, ok := tb.processes[pid]
	if !ok {
		p = &process{upid: int64(len(tb.processes)), pid: pid}
		tb.processes[pid] = p
	}
	return p
}

func (tb *traceBuilder) thread(pid, tid int64) *thread {
	key := threadKey{pid, tid}
	t, ok := tb.threads[key]
	if !ok {
		t = &thread{utid: int64(len(tb.threads)), tid: tid, upid: tb.process(pid).upid}
		tb.threads[key] = t
	}
	return t
}

func (tb *traceBuilder) add(ev gjson.Result) {
	if !ev.IsObject() {
		tb.skipped++
		return
	}
	pid, tid := ev.Get("pid").Int(), ev.Get("tid").Int()
	name := ev.Get("name").String()
	ts := micros(ev.Get("ts"))

	switch ph := ev.Get("ph").String(); ph {
	case phaseComplete, phaseBegin:
		dur := int64(-1)
		if ph == phaseComplete {
			dur = micros(ev.Get("dur"))
		}
		key := threadKey{pid, tid}
		tb.slices = append(tb.slices, slice{
			name: name,
			cat:  ev.Get("cat").String(),
			args: ev.Get("args").Raw,
			ts:   ts,
			dur:  dur,
			utid: tb.thread(pid, tid).utid,
		})
		if ph == phaseBegin {
			tb.open[key] = append(tb.open[key], len(tb.slices)-1)
		}

	case phaseEnd:
		key := threadKey{pid, tid}
		stack := tb.open[key]
		if len(stack) == 0 {
			tb.skipped++
			return
		}
		s := &tb.slices[stack[len(stack)-1]]
		s.dur = ts - s.ts
		tb.open[key] = stack[:len(stack)-1]

	case phaseCounter:
		upid := tb.process(pid).upid
		ev.Get("args").ForEach(func(key, val gjson.Result) bool {
			tb.counters = append(tb.counters, counter{
				name:  name + " " + key.String(),
				ts:    ts,
				value: val.Float(),
				upid:  upid,
			})
			return true
		})

	case phaseInstant, phaseInstantV1, phaseMark:
		scope := ev.Get("s").String()
		if scope == "" {
			scope = "t"
		}
		tb.instants = append(tb.instants, instant{
			name:  name,
			cat:   ev.Get("cat").String(),
			scope: scope,
			ts:    ts,
			utid:  tb.thread(pid, tid).utid,
		})

	case phaseMetadata:
		label := ev.Get("args.name").String()
		switch name {
		case "process_name":
			tb.process(pid).name = label
		case "thread_name":
			tb.thread(pid, tid).name = label
		default:
			tb.skipped++
		}

	default:
		tb.skipped++
	}
}

// assignDepths computes the nesting depth of slices on each thread.
// Unfinished slices (dur -1) enclose everything after them.
func (tb *traceBuilder) assignDepths() {
	order := make([]int, len(tb.slices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := &tb.slices[order[a]], &tb.slices[order[b]]
		if sa.utid != sb.utid {
			return sa.utid < sb.utid
		}
		if sa.ts != sb.ts {
			return sa.ts < sb.ts
		}
		return end(sa) > end(sb)
	})

	var (
		stack []int64
		utid  int64 = -1
	)
	for _, i := range order {
		s := &tb.slices[i]
		if s.utid != utid {
			stack, utid = stack[:0], s.utid
		}
		for len(stack) > 0 && stack[len(stack)-1] <= s.ts {
			stack = stack[:len(stack)-1]
		}
		s.depth = len(stack)
		stack = append(stack, end(s))
	}
}

func end(s *slice) int64 {
	if s.dur < 0 {
		return math.MaxInt64
	}
	return s.ts + s.dur
}

func (tb *traceBuilder) counts() ingestCounts {
	return ingestCounts{
		slices:    len(tb.slices),
		counters:  len(tb.counters),
		instants:  len(tb.instants),
		processes: len(tb.processes),
		threads:   len(tb.threads),
		skipped:   tb.skipped,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// store writes the parsed trace in one transaction.
func (tb *traceBuilder) store(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
			return
		}
		err = tx.Commit()
	}()

	insert := func(query string, rows int, args func(i int) []any) error {
		if rows == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := 0; i < rows; i++ {
			if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
				return err
			}
		}
		return nil
	}

	procs := make([]*process, 0, len(tb.processes))
	for _, p := range tb.processes {
		procs = append(procs, p)
	}
	threads := make([]*thread, 0, len(tb.threads))
	for _, t := range tb.threads {
		threads = append(threads, t)
	}

	if err = insert("INSERT INTO process (upid, pid, name) VALUES (?, ?, ?)", len(procs), func(i int) []any {
		p := procs[i]
		return []any{p.upid, p.pid, nullString(p.name)}
	}); err != nil {
		return err
	}
	if err = insert("INSERT INTO thread (utid, tid, upid, name) VALUES (?, ?, ?, ?)", len(threads), func(i int) []any {
		t := threads[i]
		return []any{t.utid, t.tid, t.upid, nullString(t.name)}
	}); err != nil {
		return err
	}
	if err = insert("INSERT INTO slice (ts, dur, name, category, utid, depth, args) VALUES (?, ?, ?, ?, ?, ?, ?)", len(tb.slices), func(i int) []any {
		s := &tb.slices[i]
		return []any{s.ts, s.dur, s.name, nullString(s.cat), s.utid, s.depth, nullString(s.args)}
	}); err != nil {
		return err
	}
	if err = insert("INSERT INTO counter (ts, name, value, upid) VALUES (?, ?, ?, ?)", len(tb.counters), func(i int) []any {
		c := &tb.counters[i]
		return []any{c.ts, c.name, c.value, c.upid}
	}); err != nil {
		return err
	}
	return insert("INSERT INTO instant (ts, name, category, utid, scope) VALUES (?, ?, ?, ?, ?)", len(tb.instants), func(i int) []any {
		in := &tb.instants[i]
		return []any{in.ts, in.name, nullString(in.cat), in.utid, in.scope}
	})
}
