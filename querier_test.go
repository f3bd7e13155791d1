package traceengine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	traceengine "github.com/wippyai/trace-engine"
	"github.com/wippyai/trace-engine/backend"
	"github.com/wippyai/trace-engine/backend/sqlite"
	"github.com/wippyai/trace-engine/engine"
	"github.com/wippyai/trace-engine/query"
)

const trace = `[{"ph":"X","name":"a","pid":1,"tid":1,"ts":1,"dur":2}]`

// countSlices goes through a nested proxy, as a component handed a Querier
// would.
func countSlices(ctx context.Context, q traceengine.Querier, tag string) (*query.Result, error) {
	return q.Proxy(tag).Query(ctx, "SELECT COUNT(*) AS n FROM slice", "count")
}

func TestQuerier_Proxy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	proc, err := sqlite.Open(ctx, sqlite.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer proc.Close()
	eng, err := engine.New(ctx, backend.NewLoopback(proc, backend.Options{}), engine.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)
	if _, err := eng.LoadTrace(ctx, strings.NewReader(trace), 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		q       traceengine.Querier
		wantTag string
	}{
		{name: "engine", q: eng, wantTag: "panel/count"},
		{name: "proxy", q: eng.Proxy("page"), wantTag: "page/panel/count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := countSlices(ctx, tt.q, "panel")
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if res.Tag() != tt.wantTag {
				t.Errorf("Tag = %q, want %q", res.Tag(), tt.wantTag)
			}
			row, err := res.FirstRow(query.Spec{"n": query.Long})
			if err != nil {
				t.Fatal(err)
			}
			if row["n"].Long != 1 {
				t.Errorf("n = %d, want 1", row["n"].Long)
			}
		})
	}
}
