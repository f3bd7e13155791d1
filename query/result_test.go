package query

import (
	"context"
	"errors"
	"testing"
	"time"

	tperrors "github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

func longBatch(last bool, values ...int64) wire.CellsBatch {
	var b wire.CellsBatch
	for _, v := range values {
		b.AppendVarint(v)
	}
	b.IsLast = last
	return b
}

func payload(columns []string, batches ...wire.CellsBatch) []byte {
	return (&wire.QueryResultData{ColumnNames: columns, Batches: batches}).Marshal()
}

func TestResult_SelectOne(t *testing.T) {
	res := New("select 1 as x", "test")

	terminal, err := res.AppendBatch(payload([]string{"x"}, longBatch(true, 1)))
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if !terminal {
		t.Fatal("batch should be terminal")
	}
	if err := res.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.NumRows() != 1 {
		t.Fatalf("NumRows = %d, want 1", res.NumRows())
	}

	it, err := res.Iter(Spec{"x": Long})
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if !it.Valid() || it.Long("x") != 1 {
		t.Fatalf("first row: valid=%v x=%d", it.Valid(), it.Long("x"))
	}
	it.Next()
	if it.Valid() {
		t.Error("iterator should be exhausted after one row")
	}
}

func TestResult_WaitIsIdempotent(t *testing.T) {
	res := New("select 1", "")
	if _, err := res.AppendBatch(payload([]string{"x"}, longBatch(true, 7))); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := res.Wait(context.Background()); err != nil {
			t.Fatalf("Wait #%d: %v", i, err)
		}
		if res.NumRows() != 1 {
			t.Fatalf("Wait #%d: NumRows = %d", i, res.NumRows())
		}
	}
}

func TestResult_PartialReads(t *testing.T) {
	res := New("select x from t", "")

	if _, err := res.AppendBatch(payload([]string{"x"}, longBatch(false, 1, 2))); err != nil {
		t.Fatal(err)
	}
	if res.State() != StateOpen {
		t.Fatalf("state = %v, want open", res.State())
	}

	early, err := res.Iter(Spec{"x": Long})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := res.AppendBatch(payload(nil, longBatch(true, 3))); err != nil {
		t.Fatal(err)
	}
	if !res.IsComplete() {
		t.Fatal("result should be complete")
	}

	var got []int64
	for ; early.Valid(); early.Next() {
		got = append(got, early.Long("x"))
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("early iterator saw %v, want [1 2]", got)
	}

	late, err := res.Iter(nil)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for ; late.Valid(); late.Next() {
		n++
	}
	if n != 3 {
		t.Errorf("late iterator saw %d rows, want 3", n)
	}
}

func TestResult_ZeroRows(t *testing.T) {
	res := New("select x from empty", "")
	if _, err := res.AppendBatch(payload([]string{"x"}, wire.CellsBatch{IsLast: true})); err != nil {
		t.Fatal(err)
	}

	it, err := res.Iter(Spec{"x": Long})
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if it.Valid() {
		t.Error("iterator over zero rows should be invalid")
	}
	if _, err := res.FirstRow(Spec{"x": Long}); err == nil {
		t.Error("FirstRow on zero rows should fail")
	}
}

func TestResult_BackendError(t *testing.T) {
	res := New("select nope", "ui")
	raw := (&wire.QueryResultData{
		Error:   "no such column: nope",
		Batches: []wire.CellsBatch{{IsLast: true}},
	}).Marshal()

	terminal, err := res.AppendBatch(raw)
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if !terminal {
		t.Error("error batch should be terminal")
	}

	err = res.Wait(context.Background())
	if !errors.Is(err, tperrors.ErrRequestFailed) {
		t.Fatalf("Wait = %v, want request failure", err)
	}
	var e *tperrors.Error
	if errors.As(err, &e) && (e.SQL != "select nope" || e.Tag != "ui") {
		t.Errorf("error lost query context: %+v", e)
	}
	if res.State() != StateErrored {
		t.Errorf("state = %v, want errored", res.State())
	}
}

func TestResult_BackendErrorBeforeLastBatch(t *testing.T) {
	res := New("select x from t", "")
	raw := (&wire.QueryResultData{
		ColumnNames: []string{"x"},
		Error:       "interrupted",
		Batches:     []wire.CellsBatch{longBatch(false, 1)},
	}).Marshal()

	terminal, err := res.AppendBatch(raw)
	if err != nil || terminal {
		t.Fatalf("AppendBatch = %v, %v; want open result", terminal, err)
	}
	if res.State() != StateOpen {
		t.Fatalf("state = %v before the last batch", res.State())
	}

	terminal, err = res.AppendBatch(payload(nil, longBatch(true, 2)))
	if err != nil || !terminal {
		t.Fatalf("AppendBatch = %v, %v; want terminal", terminal, err)
	}
	if !errors.Is(res.Wait(context.Background()), tperrors.ErrRequestFailed) {
		t.Fatalf("Wait = %v, want request failure", res.Err())
	}
	if res.NumRows() != 1 {
		t.Errorf("NumRows = %d, rows after the error should be dropped", res.NumRows())
	}
}

func TestResult_AppendAfterFail(t *testing.T) {
	res := New("select 1", "")
	res.Fail(tperrors.Transport("gone", nil))

	tests := []struct {
		name     string
		raw      []byte
		terminal bool
	}{
		{name: "partial", raw: payload([]string{"x"}, longBatch(false, 1)), terminal: false},
		{name: "last", raw: payload(nil, longBatch(true, 2)), terminal: true},
		{name: "error only", raw: (&wire.QueryResultData{Error: "late"}).Marshal(), terminal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terminal, err := res.AppendBatch(tt.raw)
			if err != nil {
				t.Fatalf("AppendBatch: %v", err)
			}
			if terminal != tt.terminal {
				t.Errorf("terminal = %v, want %v", terminal, tt.terminal)
			}
		})
	}
	if !errors.Is(res.Err(), tperrors.ErrTransport) || res.NumRows() != 0 {
		t.Errorf("Err = %v, NumRows = %d", res.Err(), res.NumRows())
	}
}

func TestResult_PartialRowRejected(t *testing.T) {
	res := New("select a, b from t", "")
	_, err := res.AppendBatch(payload([]string{"a", "b"}, longBatch(true, 1, 2, 3)))
	if err == nil {
		t.Fatal("batch with a partial row should fail")
	}
	if res.State() != StateErrored {
		t.Errorf("state = %v, want errored", res.State())
	}
}

func TestResult_AppendAfterComplete(t *testing.T) {
	res := New("select 1", "")
	if _, err := res.AppendBatch(payload([]string{"x"}, longBatch(true, 1))); err != nil {
		t.Fatal(err)
	}
	if _, err := res.AppendBatch(payload(nil, longBatch(true, 2))); err == nil {
		t.Error("append after completion should fail")
	}
	if res.NumRows() != 1 {
		t.Errorf("NumRows = %d, want 1", res.NumRows())
	}
}

func TestResult_FailUnblocksWait(t *testing.T) {
	res := New("select 1", "")
	cause := tperrors.Fatal("backend crashed")

	go func() {
		time.Sleep(10 * time.Millisecond)
		res.Fail(cause)
	}()

	if err := res.Wait(context.Background()); !errors.Is(err, tperrors.ErrFatal) {
		t.Fatalf("Wait = %v, want fatal", err)
	}

	// later failures do not replace the first
	res.Fail(tperrors.Transport("gone", nil))
	if !errors.Is(res.Err(), tperrors.ErrFatal) {
		t.Errorf("Err = %v", res.Err())
	}
}

func TestResult_WaitCancelled(t *testing.T) {
	res := New("select 1", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := res.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
	if res.State() != StateOpen {
		t.Error("cancelled wait must not change the result")
	}
}

func TestIterator_TypeChecks(t *testing.T) {
	var b wire.CellsBatch
	b.AppendVarint(1)
	b.AppendString("a")
	b.AppendNull()
	b.AppendFloat(1.5)
	b.AppendString("b")
	b.AppendBlob([]byte{9})
	b.IsLast = true

	res := New("select", "")
	if _, err := res.AppendBatch(payload([]string{"n", "s", "x"}, b)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		spec    Spec
		name    string
		wantErr bool
		rows    int
	}{
		{name: "num accepts long and double", spec: Spec{"n": Num}, rows: 2},
		{name: "long rejects double", spec: Spec{"n": Long}, wantErr: true, rows: 1},
		{name: "str", spec: Spec{"s": Str}, rows: 2},
		{name: "blob rejects null", spec: Spec{"x": Blob}, wantErr: true, rows: 0},
		{name: "blob null", spec: Spec{"x": BlobNull}, rows: 2},
		{name: "any", spec: Spec{"n": Any, "s": Any, "x": Any}, rows: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := res.Iter(tt.spec)
			if err != nil {
				t.Fatalf("Iter: %v", err)
			}
			rows := 0
			for ; it.Valid(); it.Next() {
				rows++
			}
			if rows != tt.rows {
				t.Errorf("rows = %d, want %d", rows, tt.rows)
			}
			if (it.Err() != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", it.Err(), tt.wantErr)
			}
		})
	}

	if _, err := res.Iter(Spec{"missing": Any}); err == nil {
		t.Error("unknown column should fail")
	}
}

func TestResult_FirstRow(t *testing.T) {
	var b wire.CellsBatch
	b.AppendString("main")
	b.AppendFloat(0.25)
	b.IsLast = true

	res := New("select name, ratio from t", "")
	if _, err := res.AppendBatch(payload([]string{"name", "ratio"}, b)); err != nil {
		t.Fatal(err)
	}

	row, err := res.FirstRow(Spec{"name": Str, "ratio": Num})
	if err != nil {
		t.Fatalf("FirstRow: %v", err)
	}
	if row["name"].Str != "main" || row["ratio"].Float() != 0.25 {
		t.Errorf("row = %+v", row)
	}
	if row["ratio"].Interface() != 0.25 {
		t.Errorf("Interface() = %v", row["ratio"].Interface())
	}
}

func TestResult_Stats(t *testing.T) {
	res := New("create table t(x); select * from t", "")
	raw := (&wire.QueryResultData{
		ColumnNames:              []string{"x"},
		Batches:                  []wire.CellsBatch{{IsLast: true}},
		StatementCount:           2,
		StatementWithOutputCount: 1,
		LastStatementSQL:         "select * from t",
	}).Marshal()
	if _, err := res.AppendBatch(raw); err != nil {
		t.Fatal(err)
	}

	st := res.Stats()
	if st.StatementCount != 2 || st.StatementWithOutputCount != 1 || st.LastStatementSQL != "select * from t" {
		t.Errorf("Stats = %+v", st)
	}
}

func TestOutcome(t *testing.T) {
	if !(Outcome{Result: New("", "")}).OK() {
		t.Error("outcome without error should be OK")
	}
	if (Outcome{Err: tperrors.Fatal("x")}).OK() {
		t.Error("outcome with error should not be OK")
	}
}
