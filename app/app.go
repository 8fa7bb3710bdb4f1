// Package app implements the Application lifecycle state machine from
// spec.md §4.8: Created → Initializing → Initialized → Starting →
// Running → Stopping → Stopped → Terminating → Terminated, each
// transition bracketed by Before*/After* hooks and rejecting any
// out-of-order call with InvalidState.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/hooks"
	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/registry"
)

// State is one point in the Application lifecycle.
type State int

const (
	Created State = iota
	Initializing
	Initialized
	Starting
	Running
	Stopping
	Stopped
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Initializing:
		return "Initializing"
	case Initialized:
		return "Initialized"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case Terminating:
		return "Terminating"
	case Terminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Application wires a Registry, its root Container, and a hook Engine
// together through the lifecycle transitions.
type Application struct {
	Registry *registry.Registry
	Root     *container.Container
	Hooks    *hooks.Engine
	Logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// New builds an Application in the Created state.
func New(reg *registry.Registry, root *container.Container, hookEngine *hooks.Engine) *Application {
	logger := slog.Default()
	return &Application{Registry: reg, Root: root, Hooks: hookEngine, Logger: logger, state: Created}
}

// State returns the current lifecycle state.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Application) transitionFrom(from State, to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return korerr.New(korerr.InvalidState, fmt.Sprintf("cannot move to %s from %s (expected %s)", to, a.state, from))
	}
	a.state = to
	return nil
}

func (a *Application) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Initialize loads the registry, materializes its hook bindings into the
// engine, and eagerly resolves every module-contributed DI provider
// (spec.md §4.8, §4.1 Load phase).
func (a *Application) Initialize(ctx context.Context) error {
	if err := a.transitionFrom(Created, Initializing); err != nil {
		return err
	}
	if err := a.Hooks.Invoke(ctx, hooks.BeforeInitialize, a); err != nil {
		return err
	}

	if err := a.Registry.Load(); err != nil {
		return err
	}
	a.Logger.Info("app: registry loaded", "listing", "\n"+a.Registry.Tree().String())
	a.Hooks.Load(a.Registry.HookBindings())

	if err := container.Load(ctx, a.Root, a.Registry.Providers()...); err != nil {
		return fmt.Errorf("initializing: %w", err)
	}

	if err := a.Hooks.Invoke(ctx, hooks.AfterInitialize, a); err != nil {
		return err
	}
	a.setState(Initialized)
	return nil
}

// Start moves the application into Running. It is valid only from
// Initialized: the lifecycle is one-directional (spec.md §4.8) and Stop
// always terminates, so there is no Stopped state left to restart from.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	from := a.state
	if from != Initialized {
		a.mu.Unlock()
		return korerr.New(korerr.InvalidState, fmt.Sprintf("cannot start from %s", from))
	}
	a.state = Starting
	a.mu.Unlock()

	if err := a.Hooks.Invoke(ctx, hooks.BeforeStart, a); err != nil {
		return err
	}
	a.setState(Running)
	if err := a.Hooks.Invoke(ctx, hooks.AfterStart, a); err != nil {
		return err
	}
	return nil
}

// Stop moves the application from Running to Stopped and then terminates
// it: BeforeStop → stop transports → AfterStop → terminate() (spec.md
// §4.8). Hook failures along the way are logged and aggregated, never
// fatal, so shutdown always reaches Terminated.
func (a *Application) Stop(ctx context.Context) error {
	if err := a.transitionFrom(Running, Stopping); err != nil {
		return err
	}

	var combined error
	if err := a.Hooks.Invoke(ctx, hooks.BeforeStop, a); err != nil {
		a.Logger.Error("app: BeforeStop hook failed", "error", err)
		combined = errors.Join(combined, err)
	}
	a.setState(Stopped)
	if err := a.Hooks.Invoke(ctx, hooks.AfterStop, a); err != nil {
		a.Logger.Error("app: AfterStop hook failed", "error", err)
		combined = errors.Join(combined, err)
	}

	if err := a.Terminate(ctx); err != nil {
		a.Logger.Error("app: terminate during stop failed", "error", err)
		combined = errors.Join(combined, err)
	}
	return combined
}

// Terminate disposes the root container and moves the application to its
// final Terminated state. Valid from Stopped (the normal path, reached
// internally by Stop) or, for a hard shutdown that skips Stop entirely,
// from Running.
func (a *Application) Terminate(ctx context.Context) error {
	a.mu.Lock()
	from := a.state
	if from != Stopped && from != Running {
		a.mu.Unlock()
		return korerr.New(korerr.InvalidState, fmt.Sprintf("cannot terminate from %s", from))
	}
	a.state = Terminating
	a.mu.Unlock()

	var combined error
	if err := a.Hooks.Invoke(ctx, hooks.BeforeTerminate, a); err != nil {
		a.Logger.Error("app: BeforeTerminate hook failed", "error", err)
		combined = err
	}

	if err := a.Root.Dispose(ctx); err != nil {
		a.Logger.Error("app: container disposal failed", "error", err)
	}

	a.setState(Terminated)
	if err := a.Hooks.Invoke(ctx, hooks.AfterTerminate, a); err != nil {
		a.Logger.Error("app: AfterTerminate hook failed", "error", err)
		combined = err
	}
	return combined
}
