package app

import (
	"context"
	"testing"

	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/hooks"
	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/registry"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	reg := registry.New()
	root := container.NewRoot(container.Global)
	engine := hooks.New()
	return New(reg, root, engine)
}

func TestFullLifecycleReachesTerminated(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if a.State() != Initialized {
		t.Fatalf("expected Initialized, got %s", a.State())
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.State() != Running {
		t.Fatalf("expected Running, got %s", a.State())
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.State() != Terminated {
		t.Fatalf("expected Stop to terminate the application, got %s", a.State())
	}
}

func TestStartBeforeInitializeIsInvalidState(t *testing.T) {
	a := newTestApp(t)
	err := a.Start(context.Background())
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.InvalidState {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestStartAfterStopIsInvalidState(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	a.Initialize(ctx)
	a.Start(ctx)
	a.Stop(ctx)

	err := a.Start(ctx)
	kerr, ok := korerr.As(err)
	if !ok || kerr.Kind != korerr.InvalidState {
		t.Fatalf("expected InvalidState restarting a terminated application, got %v", err)
	}
}

func TestBeforeStartHookFailureIsFatal(t *testing.T) {
	reg := registry.New()
	root := container.NewRoot(container.Global)
	engine := hooks.New()
	engine.Bind(hooks.BeforeStart, func(ctx context.Context, payload any) error {
		return korerr.New(korerr.Internal, "boom")
	})
	a := New(reg, root, engine)
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatal("expected BeforeStart failure to abort Start")
	}
}

func TestStopAlwaysReachesTerminatedDespiteHookFailure(t *testing.T) {
	reg := registry.New()
	root := container.NewRoot(container.Global)
	engine := hooks.New()
	engine.Bind(hooks.BeforeStop, func(ctx context.Context, payload any) error {
		return korerr.New(korerr.Internal, "boom")
	})
	a := New(reg, root, engine)
	ctx := context.Background()
	a.Initialize(ctx)
	a.Start(ctx)

	_ = a.Stop(ctx)
	if a.State() != Terminated {
		t.Fatalf("expected Terminated despite hook failure, got %s", a.State())
	}
}
