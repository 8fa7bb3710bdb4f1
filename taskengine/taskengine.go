// Package taskengine implements the Task Engine from spec.md §4.5: tasks
// run either locally in-process or offloaded to a supervisor-managed
// worker process, correlated by ID, with TaskTimeout/TaskWorkerLost
// mapped onto the shared error taxonomy.
//
// The local-execution cancellation and panic-recovery shape mirrors the
// teacher's flow.go executeFlow pattern (buffered result channel,
// goroutine body behind recover, select on ctx.Done()), reused here from
// package call rather than duplicated structurally differently, since a
// Task and a Procedure are both "run this body, bounded by a deadline."
package taskengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/registry"
)

// taskRun implements registry.TaskContext for one local task invocation.
type taskRun struct {
	ctx   context.Context
	scope *container.Container
}

func (t *taskRun) Context() context.Context    { return t.ctx }
func (t *taskRun) Scope() *container.Container { return t.scope }

var _ registry.TaskContext = (*taskRun)(nil)

// Offloader dispatches a task to a remote worker process, identified by a
// correlation ID the caller can use to match the eventual result (spec.md
// §4.5 "cross-process RPC, correlated by ID"). Implemented by package
// supervisor; declared here so taskengine never imports supervisor.
type Offloader interface {
	Offload(ctx context.Context, correlationID, taskName string, args any) (any, error)
}

// Engine runs tasks registered in a Registry, either locally or — when an
// Offloader is configured and the task isn't LocalOnly — in a worker
// process. Root is the container a local run's Task-scope is created
// beneath (ordinarily the worker process's Global root).
type Engine struct {
	Registry       *registry.Registry
	Offload        Offloader
	Root           *container.Container
	DefaultTimeout time.Duration
}

// New builds a task Engine. offload may be nil, in which case every task
// runs locally regardless of its LocalOnly flag.
func New(reg *registry.Registry, offload Offloader, root *container.Container, defaultTimeout time.Duration) *Engine {
	return &Engine{Registry: reg, Offload: offload, Root: root, DefaultTimeout: defaultTimeout}
}

// Run executes taskName with args, locally or offloaded per spec.md §4.5,
// bounding execution by min(task timeout, engine default).
func (e *Engine) Run(ctx context.Context, taskName string, args any) (any, error) {
	task, ok := e.Registry.Task(taskName)
	if !ok {
		return nil, korerr.New(korerr.NotFound, "no such task: "+taskName)
	}

	timeout := e.DefaultTimeout
	if task.Timeout > 0 && (timeout <= 0 || task.Timeout < timeout) {
		timeout = task.Timeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if task.LocalOnly || e.Offload == nil {
		return e.runLocal(runCtx, task, args)
	}
	return e.runOffloaded(runCtx, task, args)
}

// runLocal constructs a Task-scope container, invokes the task with args,
// awaits its result, and disposes the scope (spec.md §4.5).
func (e *Engine) runLocal(ctx context.Context, task *registry.Task, args any) (any, error) {
	scope, err := e.Root.CreateScope(container.Call)
	if err != nil {
		return nil, korerr.Classify(err)
	}
	defer scope.Dispose(ctx)

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic in task %s: %v", task.Name, r)}
			}
		}()
		v, err := task.Fn(&taskRun{ctx: ctx, scope: scope}, args)
		done <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, korerr.New(korerr.TaskTimeout, "task "+task.Name+" timed out")
	case res := <-done:
		if res.err != nil {
			return nil, korerr.Classify(res.err)
		}
		return res.value, nil
	}
}

func (e *Engine) runOffloaded(ctx context.Context, task *registry.Task, args any) (any, error) {
	correlationID := uuid.NewString()
	// The worker looks the task up by its module-qualified name.
	name := task.Name
	if task.Module != "" {
		name = task.Module + "." + task.Name
	}
	v, err := e.Offload.Offload(ctx, correlationID, name, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, korerr.New(korerr.TaskTimeout, "task "+task.Name+" timed out")
		}
		return nil, korerr.Classify(err)
	}
	return v, nil
}
