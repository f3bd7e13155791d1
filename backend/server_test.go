package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/wippyai/trace-engine/framing"
	"github.com/wippyai/trace-engine/query"
	"github.com/wippyai/trace-engine/wire"
)

// stubProcessor answers queries with a fixed table and records calls.
type stubProcessor struct {
	queryErr error
	columns  []string
	rows     [][]any
	appended []byte
	calls    []string
	status   wire.StatusResult
}

func (p *stubProcessor) AppendTraceData(_ context.Context, data []byte) (int64, error) {
	p.calls = append(p.calls, "append")
	p.appended = append(p.appended, data...)
	return int64(len(p.appended)), nil
}

func (p *stubProcessor) FinalizeTraceData(context.Context) error {
	p.calls = append(p.calls, "finalize")
	return nil
}

func (p *stubProcessor) Query(_ context.Context, sql string, w RowWriter) (QueryStats, error) {
	p.calls = append(p.calls, "query")
	w.SetColumns(p.columns)
	for _, row := range p.rows {
		if err := w.WriteRow(row); err != nil {
			return QueryStats{}, err
		}
	}
	return QueryStats{LastStatementSQL: sql, StatementCount: 1, StatementWithOutputCount: 1}, p.queryErr
}

func (p *stubProcessor) ComputeMetric(_ context.Context, names []string, format wire.MetricFormat) ([]byte, error) {
	if format == wire.MetricFormatBinary {
		return nil, errors.New("binary metrics unsupported")
	}
	return []byte(names[0]), nil
}

func (p *stubProcessor) EnableMetatrace(context.Context, wire.MetatraceCategories) error { return nil }
func (p *stubProcessor) DisableAndReadMetatrace(context.Context) ([]byte, error)          { return []byte("{}"), nil }
func (p *stubProcessor) RestoreInitialTables(context.Context) error                       { return nil }
func (p *stubProcessor) Reset(context.Context, wire.ResetArgs) error                      { return nil }

func (p *stubProcessor) RegisterSQLPackage(_ context.Context, pkg wire.RegisterSQLPackageArgs) error {
	if pkg.Name == "dup" {
		return errors.New("package dup already registered")
	}
	return nil
}

func (p *stubProcessor) Status(context.Context) (wire.StatusResult, error) {
	return p.status, nil
}

// capture collects framed responses written by a server.
type capture struct {
	frames *framing.Buffer
	out    []*wire.Frame
}

func newCapture() *capture {
	return &capture{frames: framing.NewBuffer(0)}
}

func (c *capture) reply(msg []byte) error {
	c.frames.Append(msg)
	for {
		m, err := c.frames.ReadMessage()
		if err != nil || m == nil {
			return err
		}
		fr, err := wire.DecodeFrame(m)
		if err != nil {
			return err
		}
		c.out = append(c.out, fr)
	}
}

func request(seq int64, args wire.Args) []byte {
	return framing.Encode(nil, wire.EncodeRequest(seq, args))
}

func TestServer_SequenceAndDispatch(t *testing.T) {
	ctx := context.Background()
	proc := &stubProcessor{status: wire.StatusResult{HumanReadableVersion: "stub", APIVersion: 3}}
	c := newCapture()
	srv := NewServer(proc, c.reply, Options{})

	var stream []byte
	stream = append(stream, request(0, wire.AppendTraceData{Data: []byte("abc")})...)
	stream = append(stream, request(1, wire.FinalizeTraceData{})...)
	stream = append(stream, request(2, wire.GetStatus{})...)

	// Byte by byte: reassembly does not depend on chunking.
	for i := range stream {
		if err := srv.OnData(ctx, stream[i:i+1]); err != nil {
			t.Fatalf("OnData: %v", err)
		}
	}

	if len(c.out) != 3 {
		t.Fatalf("got %d responses, want 3", len(c.out))
	}
	for i, fr := range c.out {
		if fr.Seq != int64(i) {
			t.Errorf("response %d has seq %d", i, fr.Seq)
		}
	}
	if r, ok := c.out[0].Response.(wire.AppendResult); !ok || r.TotalBytesParsed != 3 {
		t.Errorf("append response = %#v", c.out[0].Response)
	}
	if _, ok := c.out[1].Response.(wire.FinalizeResult); !ok {
		t.Errorf("finalize response = %#v", c.out[1].Response)
	}
	if r, ok := c.out[2].Response.(wire.StatusResult); !ok || r.APIVersion != 3 {
		t.Errorf("status response = %#v", c.out[2].Response)
	}
}

func TestServer_Desync(t *testing.T) {
	ctx := context.Background()
	c := newCapture()
	srv := NewServer(&stubProcessor{}, c.reply, Options{})

	if err := srv.OnData(ctx, request(0, wire.GetStatus{})); err != nil {
		t.Fatal(err)
	}
	if err := srv.OnData(ctx, request(5, wire.GetStatus{})); err == nil {
		t.Fatal("out of order request accepted")
	}
	if len(c.out) != 2 || c.out[1].FatalError == "" {
		t.Fatalf("responses = %d, want status then fatal", len(c.out))
	}
	if err := srv.OnData(ctx, request(6, wire.GetStatus{})); err == nil {
		t.Error("server kept serving after a desync")
	}
}

func TestServer_SequenceRestart(t *testing.T) {
	ctx := context.Background()
	c := newCapture()
	srv := NewServer(&stubProcessor{}, c.reply, Options{})

	for _, seq := range []int64{0, 1, 0, 1} {
		if err := srv.OnData(ctx, request(seq, wire.GetStatus{})); err != nil {
			t.Fatalf("seq %d: %v", seq, err)
		}
	}
}

func TestServer_CorruptStream(t *testing.T) {
	c := newCapture()
	srv := NewServer(&stubProcessor{}, c.reply, Options{})
	if err := srv.OnData(context.Background(), []byte{0xFF, 0x01}); err == nil {
		t.Fatal("corrupt stream accepted")
	}
	if len(c.out) != 1 || c.out[0].FatalError == "" {
		t.Errorf("want one fatal response, got %d", len(c.out))
	}
}

func TestServer_UnknownMethod(t *testing.T) {
	c := newCapture()
	srv := NewServer(&stubProcessor{}, c.reply, Options{})

	// seq 0, request method 42
	msg := framing.Encode(nil, []byte{0x08, 0x00, 0x10, 42})
	if err := srv.OnData(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	r, ok := c.out[0].Response.(wire.InvalidRequest)
	if !ok || r.Requested != 42 {
		t.Errorf("response = %#v, want invalid request", c.out[0].Response)
	}
}

func TestServer_QueryBatches(t *testing.T) {
	tests := []struct {
		name        string
		rows        int
		batchCells  int
		wantBatches int
	}{
		{name: "no rows", rows: 0, batchCells: 4, wantBatches: 1},
		{name: "fits one batch", rows: 1, batchCells: 4, wantBatches: 1},
		{name: "exact multiple", rows: 4, batchCells: 4, wantBatches: 3},
		{name: "rows never split", rows: 3, batchCells: 3, wantBatches: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{columns: []string{"id", "name"}}
			for i := 0; i < tt.rows; i++ {
				proc.rows = append(proc.rows, []any{i, "row"})
			}
			c := newCapture()
			srv := NewServer(proc, c.reply, Options{BatchCells: tt.batchCells})
			if err := srv.OnData(context.Background(), request(0, wire.QueryArgs{SQL: "select", Tag: "t"})); err != nil {
				t.Fatal(err)
			}

			if len(c.out) != tt.wantBatches {
				t.Fatalf("got %d batches, want %d", len(c.out), tt.wantBatches)
			}
			res := query.New("select", "t")
			for i, fr := range c.out {
				terminal, err := res.AppendBatch(fr.Response.(wire.QueryResult).Raw)
				if err != nil {
					t.Fatalf("batch %d: %v", i, err)
				}
				if terminal != (i == len(c.out)-1) {
					t.Errorf("batch %d terminal = %v", i, terminal)
				}
			}
			if res.NumRows() != tt.rows {
				t.Errorf("NumRows = %d, want %d", res.NumRows(), tt.rows)
			}
			if res.Stats().StatementCount != 1 {
				t.Errorf("stats = %+v", res.Stats())
			}
		})
	}
}

func TestServer_QueryError(t *testing.T) {
	proc := &stubProcessor{columns: []string{"x"}, queryErr: errors.New("no such table: foo")}
	c := newCapture()
	srv := NewServer(proc, c.reply, Options{})
	if err := srv.OnData(context.Background(), request(0, wire.QueryArgs{SQL: "select * from foo"})); err != nil {
		t.Fatal(err)
	}
	data, err := wire.UnmarshalQueryResult(c.out[0].Response.(wire.QueryResult).Raw)
	if err != nil {
		t.Fatal(err)
	}
	if data.Error != "no such table: foo" {
		t.Errorf("Error = %q", data.Error)
	}
	if len(data.Batches) != 1 || !data.Batches[0].IsLast {
		t.Error("query error must end the stream")
	}
}

func TestServer_PerRequestErrors(t *testing.T) {
	c := newCapture()
	srv := NewServer(&stubProcessor{}, c.reply, Options{})
	ctx := context.Background()

	if err := srv.OnData(ctx, request(0, wire.ComputeMetricArgs{Names: []string{"m"}, Format: wire.MetricFormatBinary})); err != nil {
		t.Fatal(err)
	}
	if err := srv.OnData(ctx, request(1, wire.RegisterSQLPackageArgs{Name: "dup"})); err != nil {
		t.Fatal(err)
	}
	if r := c.out[0].Response.(wire.MetricResult); r.Error == "" {
		t.Error("metric error not reported")
	}
	if r := c.out[1].Response.(wire.RegisterSQLPackageResult); r.Error == "" {
		t.Error("package error not reported")
	}
}

func TestServer_ReplyFailure(t *testing.T) {
	srv := NewServer(&stubProcessor{}, func([]byte) error { return errors.New("broken pipe") }, Options{})
	if err := srv.OnData(context.Background(), request(0, wire.GetStatus{})); err == nil {
		t.Fatal("reply failure not reported")
	}
}
