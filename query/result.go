package query

import (
	"context"
	"sync"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

// State is the lifecycle state of a Result.
type State int

const (
	StateOpen State = iota
	StateComplete
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Stats describes the statements executed by a query.
type Stats struct {
	LastStatementSQL         string
	StatementCount           int
	StatementWithOutputCount int
}

// Result accumulates the batches of one streaming query. Rows become
// readable as soon as their batch has been appended; Wait blocks until the
// terminal batch or a failure.
type Result struct {
	err     error
	failure error // backend error waiting for the terminal batch
	done    chan struct{}
	sql     string
	tag     string
	columns []string
	cells   []Value
	stats   Stats
	mu      sync.Mutex
	state   State
}

// New creates an open result for the given query text and owner tag.
func New(sql, tag string) *Result {
	return &Result{
		sql:  sql,
		tag:  tag,
		done: make(chan struct{}),
	}
}

// SQL returns the query text.
func (r *Result) SQL() string { return r.sql }

// Tag returns the owner tag the query was issued with.
func (r *Result) Tag() string { return r.tag }

// AppendBatch decodes one QueryResult payload and appends its rows. It
// reports whether the payload carried the terminal batch. A non-nil error
// means the payload itself was malformed; the result is failed with it.
//
// Errors reported by the backend for the query do not produce an error
// here. The result moves to StateErrored once the query ends: with the
// terminal batch, or with an error payload that has no batches. Rows
// arriving after the error are dropped. Payloads for a result that has
// already errored are consumed only to find the end of the query.
func (r *Result) AppendBatch(raw []byte) (bool, error) {
	data, err := wire.UnmarshalQueryResult(raw)
	if err != nil {
		r.Fail(err)
		return false, err
	}

	terminal := data.Error != "" && len(data.Batches) == 0
	for i := range data.Batches {
		if data.Batches[i].IsLast {
			terminal = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateErrored:
		return terminal, nil
	case StateComplete:
		return false, errors.InvalidInput(errors.PhaseQuery, "batch appended to a complete result")
	}

	if len(r.columns) == 0 && len(data.ColumnNames) > 0 {
		r.columns = data.ColumnNames
	}
	if data.StatementCount > 0 {
		r.stats.StatementCount = int(data.StatementCount)
	}
	if data.StatementWithOutputCount > 0 {
		r.stats.StatementWithOutputCount = int(data.StatementWithOutputCount)
	}
	if data.LastStatementSQL != "" {
		r.stats.LastStatementSQL = data.LastStatementSQL
	}

	if r.failure == nil {
		for i := range data.Batches {
			if err := r.appendCells(&data.Batches[i]); err != nil {
				r.finish(StateErrored, err)
				return false, err
			}
		}
	}
	if data.Error != "" && r.failure == nil {
		r.failure = errors.New(errors.PhaseRequest, errors.KindRequestFailed).
			Method(wire.MethodQueryStreaming.String()).
			Tag(r.tag).
			SQL(r.sql).
			Detail("%s", data.Error).
			Build()
	}

	switch {
	case terminal && r.failure != nil:
		r.finish(StateErrored, r.failure)
	case terminal:
		r.finish(StateComplete, nil)
	}
	return terminal, nil
}

// appendCells decodes batch into values. The batch must hold whole rows.
// Called with mu held.
func (r *Result) appendCells(batch *wire.CellsBatch) error {
	n := len(batch.Cells)
	if n == 0 {
		return nil
	}
	cols := len(r.columns)
	if cols == 0 || n%cols != 0 {
		return errors.InvalidData(errors.PhaseQuery, "cells batch does not hold whole rows", nil)
	}

	var vi, fi, si, bi int
	for _, ct := range batch.Cells {
		v := Value{Type: ct}
		switch ct {
		case wire.CellVarint:
			v.Long = batch.Varints[vi]
			vi++
		case wire.CellFloat64:
			v.Num = batch.Floats[fi]
			fi++
		case wire.CellString:
			v.Str = batch.Strings[si]
			si++
		case wire.CellBlob:
			v.Blob = batch.Blobs[bi]
			bi++
		}
		r.cells = append(r.cells, v)
	}
	return nil
}

// finish moves the result to a terminal state. Called with mu held.
func (r *Result) finish(state State, err error) {
	if r.state != StateOpen {
		return
	}
	r.state = state
	r.err = err
	close(r.done)
}

// Fail moves an open result to StateErrored. It has no effect on a result
// that already finished.
func (r *Result) Fail(err error) {
	r.mu.Lock()
	r.finish(StateErrored, err)
	r.mu.Unlock()
}

// Done is closed when the result reaches a terminal state.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until every row has arrived and returns the error the result
// carries, if any. It may be called any number of times. A cancelled ctx
// abandons the wait without affecting the result.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error of an errored result, nil otherwise.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns the current lifecycle state.
func (r *Result) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsComplete reports whether the terminal batch arrived without error.
func (r *Result) IsComplete() bool {
	return r.State() == StateComplete
}

// NumRows returns the number of rows materialized so far.
func (r *Result) NumRows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numRowsLocked()
}

func (r *Result) numRowsLocked() int {
	if len(r.columns) == 0 {
		return 0
	}
	return len(r.cells) / len(r.columns)
}

// Columns returns the column names, empty until the first batch arrives.
func (r *Result) Columns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.columns...)
}

// Stats returns statement statistics reported with the result.
func (r *Result) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// snapshot returns the columns and the cells of the rows materialized so
// far. Cells already appended are never modified, so the returned slices
// may be read without holding mu.
func (r *Result) snapshot() ([]string, []Value, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.numRowsLocked()
	return r.columns, r.cells[:n*len(r.columns)], n
}

// Iter returns a cursor positioned at the first materialized row. Rows that
// arrive after the call are not visited.
func (r *Result) Iter(spec Spec) (*Iterator, error) {
	columns, cells, n := r.snapshot()
	index := make(map[string]int, len(columns))
	for i, name := range columns {
		index[name] = i
	}
	if n > 0 || len(columns) > 0 {
		for name := range spec {
			if _, ok := index[name]; !ok {
				return nil, errors.NotFound(errors.PhaseQuery, "column", name)
			}
		}
	}

	it := &Iterator{
		spec:    spec,
		index:   index,
		columns: columns,
		cells:   cells,
		rows:    n,
	}
	it.check()
	return it, nil
}

// FirstRow returns the first row, checked against spec.
func (r *Result) FirstRow(spec Spec) (Row, error) {
	it, err := r.Iter(spec)
	if err != nil {
		return nil, err
	}
	if !it.Valid() {
		if it.Err() != nil {
			return nil, it.Err()
		}
		return nil, errors.OutOfBounds(errors.PhaseQuery, 0, 0)
	}
	return it.Row(), nil
}

// Outcome is the result of a query that reports failure as a value.
type Outcome struct {
	Result *Result
	Err    error
}

// OK reports whether the query completed without error.
func (o Outcome) OK() bool {
	return o.Err == nil
}
