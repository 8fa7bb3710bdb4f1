// Package hooks implements the Hook Engine from spec.md §4.3: a closed
// enum of lifecycle hook kinds, sequential or concurrent invocation, and a
// start-fatal / stop-logged failure policy.
//
// Grounded on the teacher's extension.go (Extension/BaseExtension,
// Operation/OperationKind chaining) generalized from a single before/after
// pair into the full lifecycle enum spec.md names, and invoked
// concurrently with golang.org/x/sync/errgroup and aggregated with
// github.com/hashicorp/go-multierror, both cross-validated against the
// RPC-shaped repos in the corpus that use the same pair for fan-out
// lifecycle hooks.
package hooks

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Kind is a closed enum of lifecycle moments a hook may bind to.
type Kind int

const (
	BeforeInitialize Kind = iota
	AfterInitialize
	BeforeStart
	AfterStart
	BeforeStop
	AfterStop
	BeforeTerminate
	AfterTerminate
	OnConnection
	OnDisconnection
)

func (k Kind) String() string {
	switch k {
	case BeforeInitialize:
		return "BeforeInitialize"
	case AfterInitialize:
		return "AfterInitialize"
	case BeforeStart:
		return "BeforeStart"
	case AfterStart:
		return "AfterStart"
	case BeforeStop:
		return "BeforeStop"
	case AfterStop:
		return "AfterStop"
	case BeforeTerminate:
		return "BeforeTerminate"
	case AfterTerminate:
		return "AfterTerminate"
	case OnConnection:
		return "OnConnection"
	case OnDisconnection:
		return "OnDisconnection"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// fatal reports whether a failure at this hook kind aborts the lifecycle
// transition (spec.md §4.3: Initialize/Start-path and connection hooks are
// fatal, Stop/Terminate-path hooks are logged and swallowed so shutdown
// always completes).
func (k Kind) fatal() bool {
	switch k {
	case BeforeStop, AfterStop, BeforeTerminate, AfterTerminate:
		return false
	default:
		return true
	}
}

// reverse reports whether this kind's sequential bindings run in reverse
// registration order. Teardown hooks unwind in the opposite order
// providers were started up in (spec.md §3 "optional reverse for teardown
// hooks"; §4.8 "BeforeTerminate (reverse, sequential) ... AfterTerminate
// (reverse, sequential)").
func (k Kind) reverse() bool {
	switch k {
	case BeforeTerminate, AfterTerminate:
		return true
	default:
		return false
	}
}

// Func is a single hook body.
type Func func(ctx context.Context, payload any) error

// Binding pairs a Kind with the Func to run and its invocation mode.
type Binding struct {
	Kind       Kind
	Fn         Func
	Concurrent bool
}

// Engine stores bindings and runs them for a given Kind.
type Engine struct {
	bindings map[Kind][]Binding
}

// New creates an empty hook engine.
func New() *Engine {
	return &Engine{bindings: make(map[Kind][]Binding)}
}

// Bind registers fn to run sequentially at the given kind.
func (e *Engine) Bind(kind Kind, fn Func) {
	e.bindings[kind] = append(e.bindings[kind], Binding{Kind: kind, Fn: fn})
}

// BindConcurrent registers fn to run concurrently with its kind's other
// concurrent bindings (sequential bindings at the same kind still run in
// registration order, before the concurrent group).
func (e *Engine) BindConcurrent(kind Kind, fn Func) {
	e.bindings[kind] = append(e.bindings[kind], Binding{Kind: kind, Fn: fn, Concurrent: true})
}

// Load registers a batch of bindings gathered from the registry.
func (e *Engine) Load(bindings []Binding) {
	for _, b := range bindings {
		e.bindings[b.Kind] = append(e.bindings[b.Kind], b)
	}
}

// Invoke runs every hook bound to kind: sequential bindings first, in
// registration order (reverse registration order for BeforeTerminate and
// AfterTerminate), then concurrent bindings fanned out together.
//
// For a fatal Kind (anything but the Stop/Terminate family), the first
// error aborts remaining sequential hooks and is returned directly. For a
// non-fatal Kind, every hook runs regardless of earlier failures. The
// concurrent group always runs to completion, and its failures (together
// with any non-fatal sequential ones) are aggregated with multierror,
// letting the caller log and continue (spec.md §4.3, §4.8: shutdown must
// always reach Terminated).
func (e *Engine) Invoke(ctx context.Context, kind Kind, payload any) error {
	bindings := e.bindings[kind]
	var sequential, concurrent []Binding
	for _, b := range bindings {
		if b.Concurrent {
			concurrent = append(concurrent, b)
		} else {
			sequential = append(sequential, b)
		}
	}

	if kind.reverse() {
		for i, j := 0, len(sequential)-1; i < j; i, j = i+1, j-1 {
			sequential[i], sequential[j] = sequential[j], sequential[i]
		}
	}

	fatal := kind.fatal()
	var errs *multierror.Error

	for _, b := range sequential {
		if err := b.Fn(ctx, payload); err != nil {
			if fatal {
				return fmt.Errorf("hook %s failed: %w", kind, err)
			}
			errs = multierror.Append(errs, fmt.Errorf("hook %s failed: %w", kind, err))
		}
	}

	if len(concurrent) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		results := make([]error, len(concurrent))
		for i, b := range concurrent {
			i, b := i, b
			g.Go(func() error {
				results[i] = b.Fn(gctx, payload)
				if fatal {
					return results[i]
				}
				return nil
			})
		}
		_ = g.Wait()
		for i, err := range results {
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("hook %s failed: %w", concurrent[i].Kind, err))
			}
		}
	}

	if errs != nil {
		return errs.ErrorOrNil()
	}
	return nil
}

// Bound reports whether any hook is registered for kind.
func (e *Engine) Bound(kind Kind) bool {
	return len(e.bindings[kind]) > 0
}
