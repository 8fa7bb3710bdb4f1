package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestSequentialHooksRunInOrder(t *testing.T) {
	e := New()
	var order []int
	e.Bind(BeforeStart, func(ctx context.Context, payload any) error {
		order = append(order, 1)
		return nil
	})
	e.Bind(BeforeStart, func(ctx context.Context, payload any) error {
		order = append(order, 2)
		return nil
	})
	if err := e.Invoke(context.Background(), BeforeStart, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected sequential order [1 2], got %v", order)
	}
}

func TestFatalKindAbortsOnFirstError(t *testing.T) {
	e := New()
	var ran int32
	e.Bind(BeforeStart, func(ctx context.Context, payload any) error {
		return errors.New("boom")
	})
	e.Bind(BeforeStart, func(ctx context.Context, payload any) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	if err := e.Invoke(context.Background(), BeforeStart, nil); err == nil {
		t.Fatal("expected error")
	}
	if ran != 0 {
		t.Fatalf("expected the second hook to be skipped, ran=%d", ran)
	}
}

func TestNonFatalKindRunsAllAndAggregates(t *testing.T) {
	e := New()
	var ran int32
	e.Bind(BeforeStop, func(ctx context.Context, payload any) error {
		return errors.New("first failure")
	})
	e.Bind(BeforeStop, func(ctx context.Context, payload any) error {
		atomic.AddInt32(&ran, 1)
		return errors.New("second failure")
	})
	err := e.Invoke(context.Background(), BeforeStop, nil)
	if err == nil {
		t.Fatal("expected an aggregated error")
	}
	if ran != 1 {
		t.Fatalf("expected every non-fatal hook to run, ran=%d", ran)
	}
}

func TestConcurrentHooksAllInvoked(t *testing.T) {
	e := New()
	var count int32
	for i := 0; i < 5; i++ {
		e.BindConcurrent(AfterStart, func(ctx context.Context, payload any) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	}
	if err := e.Invoke(context.Background(), AfterStart, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 invocations, got %d", count)
	}
}

func TestTeardownHooksRunInReverseOrder(t *testing.T) {
	e := New()
	var order []string
	e.Bind(BeforeTerminate, func(ctx context.Context, payload any) error {
		order = append(order, "a")
		return nil
	})
	e.Bind(BeforeTerminate, func(ctx context.Context, payload any) error {
		order = append(order, "b")
		return nil
	})
	e.Bind(BeforeTerminate, func(ctx context.Context, payload any) error {
		order = append(order, "c")
		return nil
	})
	if err := e.Invoke(context.Background(), BeforeTerminate, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != "c" || order[1] != "b" || order[2] != "a" {
		t.Fatalf("expected reverse order [c b a], got %v", order)
	}
}

func TestBoundReportsRegistration(t *testing.T) {
	e := New()
	if e.Bound(OnConnection) {
		t.Fatal("expected no bindings yet")
	}
	e.Bind(OnConnection, func(ctx context.Context, payload any) error { return nil })
	if !e.Bound(OnConnection) {
		t.Fatal("expected OnConnection to be bound")
	}
}
