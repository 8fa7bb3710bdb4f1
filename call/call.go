// Package call implements the API Dispatcher from spec.md §4.4: decode,
// validate, guard, timeout-bound, middleware-wrap, invoke, validate,
// encode — with a Call-tier container scope created and disposed around
// every invocation.
//
// The cancellation and panic-recovery shape is grounded directly on the
// teacher's flow.go (executeFlow: a buffered result channel, a goroutine
// running the body behind a deferred recover, and a select against
// ctx.Done()), generalized from a single flow invocation into a full
// request/response dispatch.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/format"
	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/registry"
	"github.com/koretto/koretto/schema"
)

// Call is the Call-tier execution context handed to guards, middleware,
// and handlers. It implements registry.CallContext.
type Call struct {
	ctx           context.Context
	connectionID  string
	procedureName string
	scope         *container.Container

	mu    sync.Mutex
	store map[any]any
}

func (c *Call) Context() context.Context   { return c.ctx }
func (c *Call) ConnectionID() string       { return c.connectionID }
func (c *Call) ProcedureName() string      { return c.procedureName }
func (c *Call) Scope() *container.Container { return c.scope }

func (c *Call) Set(key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = make(map[any]any)
	}
	c.store[key] = value
}

func (c *Call) Get(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	return v, ok
}

var _ registry.CallContext = (*Call)(nil)

// Dispatcher binds a registry and format selector to produce a dispatch
// function a transport can call per inbound request.
type Dispatcher struct {
	Registry       *registry.Registry
	Formats        *format.Selector
	DefaultTimeout time.Duration
}

// New builds a Dispatcher.
func New(reg *registry.Registry, formats *format.Selector, defaultTimeout time.Duration) *Dispatcher {
	return &Dispatcher{Registry: reg, Formats: formats, DefaultTimeout: defaultTimeout}
}

// Dispatch runs the full spec.md §4.4 algorithm for one inbound call:
//
//  1. Resolve the procedure by qualified name (NotFound if absent).
//  2. Create a Call-tier scope as a child of the connection scope.
//  3. Decode the raw payload via the format selected for contentType.
//  4. Validate the decoded payload against the procedure's input schema.
//  5. Bound execution by min(procedure timeout, dispatcher default); the
//     guards below already run under this deadline.
//  6. Run guards in order; the first false/error result ends the call.
//  7. Compose and invoke the handler, recovering from panics.
//  8. Validate the output against the procedure's output schema.
//  9. Encode the output via the same format.
//  10. Dispose the Call-tier scope (deferred, runs on every exit path).
func (d *Dispatcher) Dispatch(ctx context.Context, connScope *container.Container, connectionID, procedureName, contentType string, rawPayload []byte) ([]byte, error) {
	proc, ok := d.Registry.Procedure(procedureName)
	if !ok {
		return nil, korerr.New(korerr.NotFound, "no such procedure: "+procedureName)
	}

	callScope, err := connScope.CreateScope(container.Call)
	if err != nil {
		return nil, korerr.Classify(err)
	}
	defer callScope.Dispose(ctx)

	decoded, err := d.Formats.Decode(contentType, rawPayload)
	if err != nil {
		return nil, korerr.Classify(err)
	}

	var input any = decoded
	if proc.Input != nil {
		input, err = schema.ValidateWithPath(proc.Input, decoded)
		if err != nil {
			return nil, korerr.Classify(err)
		}
	}

	timeout := d.DefaultTimeout
	if proc.Timeout > 0 && (timeout <= 0 || proc.Timeout < timeout) {
		timeout = proc.Timeout
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := &Call{ctx: callCtx, connectionID: connectionID, procedureName: procedureName, scope: callScope}

	for _, guard := range proc.Guards {
		allowed, err := guard(c)
		if err != nil {
			return nil, korerr.Classify(err)
		}
		if !allowed {
			return nil, korerr.New(korerr.Forbidden, "guard rejected call to "+procedureName)
		}
	}

	output, err := invoke(callCtx, proc, c, input)
	if err != nil {
		return nil, korerr.Classify(err)
	}

	if proc.Output != nil {
		output, err = schema.ValidateWithPath(proc.Output, output)
		if err != nil {
			return nil, korerr.Classify(err)
		}
	}

	encoded, err := d.Formats.Encode(contentType, output)
	if err != nil {
		return nil, korerr.Classify(err)
	}
	return encoded, nil
}

type invokeResult struct {
	value any
	err   error
}

// invoke runs the composed handler on its own goroutine so a timed-out or
// cancelled context can return to the caller immediately even if the
// handler keeps running, and recovers panics into an Internal error.
func invoke(ctx context.Context, proc *registry.Procedure, c *Call, input any) (any, error) {
	done := make(chan invokeResult, 1)
	handler := proc.Compose()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fmt.Errorf("panic in procedure %s: %v", proc.Name, r)}
			}
		}()
		v, err := handler(c, input)
		done <- invokeResult{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, korerr.New(korerr.Timeout, "procedure "+proc.Name+" timed out")
	case res := <-done:
		return res.value, res.err
	}
}
