package container

import "context"

// Disposer releases resources held by a resolved value.
type Disposer[T any] func(ctx context.Context, value T) error

// AnyProvider is the type-erased view of a Provider used for dependency
// graphs, caches, and disposal bookkeeping — every *Provider[T] satisfies
// it by pointer identity (two providers of identical shape remain distinct,
// per spec.md §3 "Providers are identity-addressed").
type AnyProvider interface {
	Tier() Tier
	Dependencies() []AnyProvider
	Description() string

	resolveAny(ctx context.Context, c *Container) (any, error)
	invokeFactory(ctx context.Context, c *Container) (any, error)
	disposeAny(ctx context.Context, value any) error
}

// Provider describes how to construct a value of type T: a factory that is
// a pure function of resolved dependencies, a dependency set, a scope tier,
// an optional disposer, and a human description (spec.md §3).
type Provider[T any] struct {
	tier        Tier
	deps        []AnyProvider
	factory     func(ctx *ResolveContext) (T, error)
	disposer    Disposer[T]
	description string
}

// New declares a provider. Use DependsOn to register dependencies before
// resolving; the factory reads resolved dependency values back out of the
// ResolveContext via Dep.
func New[T any](tier Tier, description string, factory func(ctx *ResolveContext) (T, error)) *Provider[T] {
	return &Provider[T]{tier: tier, description: description, factory: factory}
}

// DependsOn registers the given providers as dependencies. It returns the
// receiver for chaining at declaration time.
func (p *Provider[T]) DependsOn(deps ...AnyProvider) *Provider[T] {
	p.deps = append(p.deps, deps...)
	return p
}

// WithDisposer attaches a disposer invoked when the owning container is
// disposed.
func (p *Provider[T]) WithDisposer(d Disposer[T]) *Provider[T] {
	p.disposer = d
	return p
}

func (p *Provider[T]) Tier() Tier                      { return p.tier }
func (p *Provider[T]) Dependencies() []AnyProvider     { return p.deps }
func (p *Provider[T]) Description() string             { return p.description }

// resolveAny routes through the same tier-checked, cached, single-flight
// algorithm as Resolve, so a provider reached as someone else's dependency
// is resolved exactly once and shares its cache slot with direct callers.
func (p *Provider[T]) resolveAny(ctx context.Context, c *Container) (any, error) {
	return resolveTiered(ctx, c, p)
}

// invokeFactory calls the provider's factory directly; resolveDirect calls
// this only after resolving dependencies, from inside a single-flight
// section, so the factory itself never needs caching logic of its own.
func (p *Provider[T]) invokeFactory(ctx context.Context, c *Container) (any, error) {
	rc := &ResolveContext{ctx: ctx, container: c}
	return p.factory(rc)
}

func (p *Provider[T]) disposeAny(ctx context.Context, value any) error {
	if p.disposer == nil {
		return nil
	}
	return p.disposer(ctx, value.(T))
}

// ResolveContext is passed to a Provider's factory. It exposes the
// standard context.Context for the resolution plus lookup of already
// resolved dependency values.
type ResolveContext struct {
	ctx       context.Context
	container *Container
}

// Context returns the ambient context.Context for this resolution.
func (r *ResolveContext) Context() context.Context { return r.ctx }

// Dep fetches the resolved value of a dependency provider. The provider
// must have been declared via Provider.DependsOn; the value is guaranteed
// already resolved and cached by the time the factory runs (spec.md §4.1
// resolution algorithm, step "resolve all of P.dependencies ... then
// invoke P.factory").
func Dep[T any](r *ResolveContext, p *Provider[T]) T {
	v, ok := r.container.lookupCached(p)
	if !ok {
		// Dependencies are resolved before factory invocation; reaching
		// here means p was not declared via DependsOn.
		panic("container: Dep used on a provider that is not a declared dependency")
	}
	return v.(T)
}
