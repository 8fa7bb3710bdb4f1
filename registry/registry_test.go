package registry

import (
	"testing"
)

func noopHandler(ctx CallContext, input any) (any, error) { return input, nil }

func TestLoadMaterializesQualifiedNames(t *testing.T) {
	r := New()
	m := NewModule("users")
	m.AddProcedure(&Procedure{Name: "get", Handler: noopHandler})
	m.AddTask(&Task{Name: "reindex", Fn: func(ctx TaskContext, args any) (any, error) { return nil, nil }})
	r.Register(m)

	if err := r.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r.Procedure("users.get"); !ok {
		t.Fatal("expected users.get to be registered")
	}
	if _, ok := r.Task("users.reindex"); !ok {
		t.Fatal("expected users.reindex to be registered")
	}
}

func TestLoadDetectsDuplicateProcedure(t *testing.T) {
	r := New()
	m := NewModule("users")
	m.AddProcedure(&Procedure{Name: "get", Handler: noopHandler})
	m.AddProcedure(&Procedure{Name: "get", Handler: noopHandler})
	r.Register(m)

	if err := r.Load(); err == nil {
		t.Fatal("expected a duplicate-name error")
	}
}

func TestLoadClearLoadIsIdempotent(t *testing.T) {
	r := New()
	m := NewModule("users")
	m.AddProcedure(&Procedure{Name: "get", Handler: noopHandler})
	r.Register(m)

	if err := r.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := r.ProcedureNames()

	r.Clear()
	if r.Loaded() {
		t.Fatal("expected Loaded() to be false after Clear")
	}
	r.Register(m)
	if err := r.Load(); err != nil {
		t.Fatalf("unexpected error on reload: %v", err)
	}
	after := r.ProcedureNames()

	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("expected identical name sets, got %v and %v", before, after)
	}
}

func TestProcedureComposeAppliesMiddlewareOutermostFirst(t *testing.T) {
	var order []string
	mw := func(tag string) Middleware {
		return func(next Handler) Handler {
			return func(ctx CallContext, input any) (any, error) {
				order = append(order, tag)
				return next(ctx, input)
			}
		}
	}
	p := &Procedure{
		Name:        "get",
		Middlewares: []Middleware{mw("outer"), mw("inner")},
		Handler:     noopHandler,
	}
	if _, err := p.Compose()(nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("expected [outer inner], got %v", order)
	}
}
