package taskengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/registry"
)

func newRegistryWithTask(t *testing.T, task *registry.Task) *registry.Registry {
	t.Helper()
	reg := registry.New()
	m := registry.NewModule("jobs")
	m.AddTask(task)
	reg.Register(m)
	if err := reg.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return reg
}

func TestRunLocalTaskReturnsResult(t *testing.T) {
	reg := newRegistryWithTask(t, &registry.Task{
		Name: "reindex",
		Fn: func(ctx registry.TaskContext, args any) (any, error) {
			return "done", nil
		},
	})
	e := New(reg, nil, container.NewRoot(container.Global), 0)
	v, err := e.Run(context.Background(), "jobs.reindex", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "done" {
		t.Fatalf("expected done, got %v", v)
	}
}

func TestRunLocalTaskHasTaskScope(t *testing.T) {
	scoped := container.New(container.Call, "scoped", func(ctx *container.ResolveContext) (string, error) {
		return "value", nil
	})
	reg := newRegistryWithTask(t, &registry.Task{
		Name: "resolves",
		Fn: func(ctx registry.TaskContext, args any) (any, error) {
			return container.Resolve(ctx.Context(), ctx.Scope(), scoped)
		},
	})
	e := New(reg, nil, container.NewRoot(container.Global), 0)
	v, err := e.Run(context.Background(), "jobs.resolves", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Fatalf("expected value, got %v", v)
	}
}

func TestRunUnknownTaskIsNotFound(t *testing.T) {
	reg := registry.New()
	reg.Load()
	e := New(reg, nil, container.NewRoot(container.Global), 0)
	_, err := e.Run(context.Background(), "missing", nil)
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRunLocalTimeout(t *testing.T) {
	reg := newRegistryWithTask(t, &registry.Task{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Fn: func(ctx registry.TaskContext, args any) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		},
	})
	e := New(reg, nil, container.NewRoot(container.Global), time.Second)
	_, err := e.Run(context.Background(), "jobs.slow", nil)
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.TaskTimeout {
		t.Fatalf("expected TaskTimeout, got %v", err)
	}
}

func TestRunLocalRecoversPanic(t *testing.T) {
	reg := newRegistryWithTask(t, &registry.Task{
		Name: "boom",
		Fn: func(ctx registry.TaskContext, args any) (any, error) {
			panic("kaboom")
		},
	})
	e := New(reg, nil, container.NewRoot(container.Global), 0)
	_, err := e.Run(context.Background(), "jobs.boom", nil)
	if err == nil {
		t.Fatal("expected an error from the recovered panic")
	}
}

type fakeOffloader struct {
	gotCorrelationID string
	gotTaskName      string
	result           any
	err              error
}

func (f *fakeOffloader) Offload(ctx context.Context, correlationID, taskName string, args any) (any, error) {
	f.gotCorrelationID = correlationID
	f.gotTaskName = taskName
	return f.result, f.err
}

func TestRunOffloadedDispatchesWithCorrelationID(t *testing.T) {
	reg := newRegistryWithTask(t, &registry.Task{Name: "remote"})
	off := &fakeOffloader{result: "ok"}
	e := New(reg, off, container.NewRoot(container.Global), 0)
	v, err := e.Run(context.Background(), "jobs.remote", "args")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Fatalf("expected ok, got %v", v)
	}
	if off.gotCorrelationID == "" {
		t.Fatal("expected a non-empty correlation ID")
	}
	if off.gotTaskName != "jobs.remote" {
		t.Fatalf("expected jobs.remote, got %s", off.gotTaskName)
	}
}

func TestRunOffloadedLocalOnlyIgnoresOffloader(t *testing.T) {
	reg := newRegistryWithTask(t, &registry.Task{
		Name:      "pinned",
		LocalOnly: true,
		Fn: func(ctx registry.TaskContext, args any) (any, error) {
			return "local", nil
		},
	})
	off := &fakeOffloader{err: errors.New("should not be called")}
	e := New(reg, off, container.NewRoot(container.Global), 0)
	v, err := e.Run(context.Background(), "jobs.pinned", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "local" {
		t.Fatalf("expected local, got %v", v)
	}
}
