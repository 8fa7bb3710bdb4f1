package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/format"
	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/registry"
	"github.com/koretto/koretto/schema"
)

func newConnScope() *container.Container {
	root := container.NewRoot(container.Global)
	conn, _ := root.CreateScope(container.Connection)
	return conn
}

func TestDispatchEchoesInput(t *testing.T) {
	reg := registry.New()
	m := registry.NewModule("echo")
	m.AddProcedure(&registry.Procedure{
		Name: "say",
		Handler: func(ctx registry.CallContext, input any) (any, error) {
			return input, nil
		},
	})
	reg.Register(m)
	if err := reg.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := New(reg, format.NewSelector(format.JSON{}), 0)
	out, err := d.Dispatch(context.Background(), newConnScope(), "conn-1", "echo.say", "application/json", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Fatalf("expected echoed payload, got %s", out)
	}
}

func TestDispatchUnknownProcedureIsNotFound(t *testing.T) {
	reg := registry.New()
	if err := reg.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := New(reg, format.NewSelector(format.JSON{}), 0)
	_, err := d.Dispatch(context.Background(), newConnScope(), "conn-1", "missing", "application/json", []byte(`{}`))
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDispatchGuardRejectionIsForbidden(t *testing.T) {
	reg := registry.New()
	m := registry.NewModule("secure")
	m.AddProcedure(&registry.Procedure{
		Name:   "action",
		Guards: []registry.Guard{func(ctx registry.CallContext) (bool, error) { return false, nil }},
		Handler: func(ctx registry.CallContext, input any) (any, error) {
			return "should not run", nil
		},
	})
	reg.Register(m)
	reg.Load()

	d := New(reg, format.NewSelector(format.JSON{}), 0)
	_, err := d.Dispatch(context.Background(), newConnScope(), "conn-1", "secure.action", "application/json", []byte(`{}`))
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.Forbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestDispatchTimeoutOnSlowHandler(t *testing.T) {
	reg := registry.New()
	m := registry.NewModule("slow")
	m.AddProcedure(&registry.Procedure{
		Name:    "wait",
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx registry.CallContext, input any) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		},
	})
	reg.Register(m)
	reg.Load()

	d := New(reg, format.NewSelector(format.JSON{}), time.Second)
	_, err := d.Dispatch(context.Background(), newConnScope(), "conn-1", "slow.wait", "application/json", []byte(`{}`))
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	reg := registry.New()
	m := registry.NewModule("boom")
	m.AddProcedure(&registry.Procedure{
		Name: "trigger",
		Handler: func(ctx registry.CallContext, input any) (any, error) {
			panic("kaboom")
		},
	})
	reg.Register(m)
	reg.Load()

	d := New(reg, format.NewSelector(format.JSON{}), 0)
	_, err := d.Dispatch(context.Background(), newConnScope(), "conn-1", "boom.trigger", "application/json", []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error from the recovered panic")
	}
}

func TestDispatchValidatesInputSchema(t *testing.T) {
	reg := registry.New()
	m := registry.NewModule("users")
	m.AddProcedure(&registry.Procedure{
		Name:  "create",
		Input: schema.Object(map[string]schema.Schema{"name": schema.String()}),
		Handler: func(ctx registry.CallContext, input any) (any, error) {
			return input, nil
		},
	})
	reg.Register(m)
	reg.Load()

	d := New(reg, format.NewSelector(format.JSON{}), 0)
	_, err := d.Dispatch(context.Background(), newConnScope(), "conn-1", "users.create", "application/json", []byte(`{"name":123}`))
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.ValidationError {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDispatchWrapsUnknownErrorAsInternal(t *testing.T) {
	reg := registry.New()
	m := registry.NewModule("fails")
	m.AddProcedure(&registry.Procedure{
		Name: "op",
		Handler: func(ctx registry.CallContext, input any) (any, error) {
			return nil, errors.New("unclassified failure")
		},
	})
	reg.Register(m)
	reg.Load()

	d := New(reg, format.NewSelector(format.JSON{}), 0)
	_, err := d.Dispatch(context.Background(), newConnScope(), "conn-1", "fails.op", "application/json", []byte(`{}`))
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}
