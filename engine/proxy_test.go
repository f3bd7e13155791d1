package engine

import (
	"errors"
	"testing"

	tperrors "github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

func TestProxy_Tags(t *testing.T) {
	e, ft := newTestEngine(t, Options{})

	p := e.Proxy("plugin").Proxy("flows")
	if p.Tag() != "plugin/flows" {
		t.Fatalf("Tag = %q", p.Tag())
	}

	tests := []struct {
		tag  string
		want string
	}{
		{tag: "arrows", want: "plugin/flows/arrows"},
		{tag: "", want: "plugin/flows"},
	}
	for _, tt := range tests {
		_ = p.StreamingQuery("select 1", tt.tag)
		req := ft.next(t)
		if args := req.Args.(wire.QueryArgs); args.Tag != tt.want {
			t.Errorf("tag %q sent as %q, want %q", tt.tag, args.Tag, tt.want)
		}
	}
}

func TestProxy_Dispose(t *testing.T) {
	e, ft := newTestEngine(t, Options{})
	ctx := timeoutCtx(t)

	p := e.Proxy("owner")
	sibling := e.Proxy("other")

	p.Dispose()
	p.Dispose()
	if p.IsAlive() {
		t.Fatal("disposed proxy reports alive")
	}

	sends := ft.sendCount()
	if _, err := p.Query(ctx, "select 1", ""); !errors.Is(err, tperrors.ErrDisposed) {
		t.Errorf("Query: got %v, want disposed", err)
	}
	if err := p.StreamingQuery("select 1", "").Wait(ctx); !errors.Is(err, tperrors.ErrDisposed) {
		t.Errorf("StreamingQuery: got %v, want disposed", err)
	}
	if out := p.TryQuery(ctx, "select 1", ""); out.OK() {
		t.Error("TryQuery on disposed proxy should fail")
	}
	if _, err := p.ComputeMetric(ctx, []string{"m"}, wire.MetricFormatJSON); !errors.Is(err, tperrors.ErrDisposed) {
		t.Errorf("ComputeMetric: got %v, want disposed", err)
	}
	if err := p.Parse(ctx, []byte("x")); !errors.Is(err, tperrors.ErrDisposed) {
		t.Errorf("Parse: got %v, want disposed", err)
	}
	if ft.sendCount() != sends {
		t.Error("disposed proxy reached the transport")
	}

	if !sibling.IsAlive() {
		t.Fatal("sibling was disposed")
	}
	res := sibling.StreamingQuery("select 1", "")
	ft.next(t)
	ft.reply(wire.QueryResult{Raw: resultRows([]string{"x"}, true, 1)})
	if err := res.Wait(ctx); err != nil {
		t.Fatalf("sibling query: %v", err)
	}
}

func TestProxy_ChildOutlivesParent(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	parent := e.Proxy("a")
	child := parent.Proxy("b")
	parent.Dispose()
	if !child.IsAlive() {
		t.Error("child should stay alive")
	}
}
