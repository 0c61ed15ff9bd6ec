// Package graph provides the core graph execution engine for WeaveGraph-Go.
package graph

import (
	"context"
	"testing"
)

func TestNodeFuncImplementsNode(t *testing.T) {
	var n Node = NodeFunc(func(_ context.Context, snap StateSnapshot, nctx NodeContext) (NodePartial, error) {
		return WithMessage(AssistantMessage("ok")), nil
	})

	out, err := n.Run(context.Background(), StateSnapshot{}, NodeContext{NodeID: "A", Step: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].Content != "ok" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestNodeKindEncoding(t *testing.T) {
	cases := []struct {
		kind NodeKind
		want string
	}{
		{Start, "Start"},
		{End, "End"},
		{Custom("worker"), "Custom:worker"},
	}
	for _, tc := range cases {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
		if got := ParseNodeKind(tc.want); got != tc.kind {
			t.Errorf("ParseNodeKind(%q) = %+v, want %+v", tc.want, got, tc.kind)
		}
	}
}

func TestResolveRoute(t *testing.T) {
	if got := ResolveRoute(Route("End")); !got.IsEnd() {
		t.Fatalf("expected End, got %+v", got)
	}
	if got := ResolveRoute(Route("Start")); !got.IsStart() {
		t.Fatalf("expected Start, got %+v", got)
	}
	if got := ResolveRoute(Route("worker")); got != Custom("worker") {
		t.Fatalf("expected Custom(worker), got %+v", got)
	}
}

func TestFrontierCommandConstructors(t *testing.T) {
	app := AppendFrontier(Route("a"), Route("b"))
	if app.Kind != FrontierAppend || len(app.Targets) != 2 {
		t.Fatalf("unexpected Append command: %+v", app)
	}
	rep := ReplaceFrontier(Route("worker"))
	if rep.Kind != FrontierReplace || len(rep.Targets) != 1 {
		t.Fatalf("unexpected Replace command: %+v", rep)
	}
}

func TestNodeContextEmitWithNilSender(t *testing.T) {
	nctx := NodeContext{NodeID: "A", Step: 1}
	if err := nctx.Emit("scope", "msg"); err != nil {
		t.Fatalf("Emit with nil sender should be a no-op, got %v", err)
	}
}
