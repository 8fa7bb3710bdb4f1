// Package container implements the scoped dependency-injection resolver
// described in spec.md §4.1: a tree of Containers tagged by Tier, each
// caching the providers resolved at its own tier and delegating ancestor
// tiers upward, with single-flight resolution and reverse-order disposal.
//
// Grounded on the teacher's scope.go (Resolve/Update/Dispose, extension
// middleware chaining, sync.Map cache) generalized from one flat Scope
// into a parent/child tree, since the spec's containers nest
// (Global ⊂ Connection ⊂ Call) while the teacher's Scope does not.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/koretto/koretto/korerr"
)

// Container is a scoped resolver: a cache of provider → value for its own
// tier, a parent pointer for ancestor delegation, and a child set for
// ordered disposal.
type Container struct {
	mu       sync.RWMutex
	tier     Tier
	parent   *Container
	children []*Container

	cache         map[AnyProvider]any
	disposalOrder []AnyProvider

	sf singleflight.Group

	logger   *slog.Logger
	disposed bool
}

// Option configures a root Container.
type Option func(*Container)

// WithLogger attaches a logger used to report disposer failures, which are
// always logged and never surfaced (spec.md §7).
func WithLogger(l *slog.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// NewRoot creates a root Container at the given tier (ordinarily Global).
func NewRoot(tier Tier, opts ...Option) *Container {
	c := &Container{
		tier:   tier,
		cache:  make(map[AnyProvider]any),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateScope creates a child Container at tier, which must be the same
// tier as or a strict descendant of the receiver's tier.
func (c *Container) CreateScope(tier Tier) (*Container, error) {
	if !tier.deeperOrEqual(c.tier) {
		return nil, scopeMismatchf("cannot create a %s scope under a %s container", tier, c.tier)
	}
	child := &Container{
		tier:   tier,
		parent: c,
		cache:  make(map[AnyProvider]any),
		logger: c.logger,
	}
	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()
	return child, nil
}

// Tier returns the container's scope tier.
func (c *Container) Tier() Tier { return c.tier }

// Provide pre-seeds an instance for a provider without invoking its
// factory (spec.md §4.1 "provide(provider, value)").
func Provide[T any](c *Container, p *Provider[T], value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.cache[p]; !exists {
		c.disposalOrder = append(c.disposalOrder, p)
	}
	c.cache[p] = value
}

func (c *Container) lookupCached(p AnyProvider) (any, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.cache[p]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// ancestorFor returns the nearest container (walking up from c, inclusive)
// whose tier equals the requested tier.
func (c *Container) ancestorFor(tier Tier) *Container {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.tier == tier {
			return cur
		}
	}
	return nil
}

// Resolve resolves p within c per the algorithm in spec.md §4.1.
func Resolve[T any](ctx context.Context, c *Container, p *Provider[T]) (T, error) {
	var zero T
	v, err := resolveTiered(ctx, c, p)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// resolveTiered is the type-erased form of the §4.1 resolution algorithm:
// cache lookup, tier validation, ancestor delegation, and single-flight
// invocation of resolveDirect. Both Resolve and AnyProvider.resolveAny
// (the path resolveDirect uses to resolve a provider's own dependencies)
// go through this one implementation, so a dependency gets exactly the
// same caching and single-flight guarantees as a top-level Resolve call
// (spec.md §8 "Two concurrent resolve(P) calls invoke P.factory exactly
// once" applies just as much to P's dependencies as to P itself).
func resolveTiered(ctx context.Context, c *Container, p AnyProvider) (any, error) {
	tier := p.Tier()

	if tier != Transient {
		if v, ok := c.lookupCached(p); ok {
			return v, nil
		}
	}

	if tier == Transient {
		v, err, _ := c.sf.Do(sfKey(p), func() (any, error) {
			return resolveDirect(ctx, c, p)
		})
		return v, err
	}

	if tier.deeperOrEqual(c.tier) && tier != c.tier {
		// p.tier is a strict descendant of c.tier: e.g. resolving a
		// Call-scoped provider from a Connection container is forbidden.
		return nil, scopeMismatchf("provider scoped %s cannot be resolved in a %s container", tier, c.tier)
	}

	target := c
	if tier != c.tier {
		target = c.ancestorFor(tier)
		if target == nil {
			return nil, scopeMismatchf("no ancestor container at tier %s for provider scoped %s", tier, tier)
		}
	}

	v, err, _ := target.sf.Do(sfKey(p), func() (any, error) {
		return resolveDirect(ctx, target, p)
	})
	return v, err
}

// resolveDirect resolves dependencies then invokes the factory, caching
// the result and recording disposal order. Called only from inside a
// singleflight.Do, so concurrent callers of the same provider share one
// factory invocation (spec.md §4.1 Concurrency).
func resolveDirect(ctx context.Context, c *Container, p AnyProvider) (any, error) {
	if v, ok := c.lookupCached(p); ok {
		return v, nil
	}

	for _, dep := range p.Dependencies() {
		if _, err := dep.resolveAny(ctx, c); err != nil {
			return nil, fmt.Errorf("resolving dependency of %s: %w", p.Description(), err)
		}
	}

	val, err := p.invokeFactory(ctx, c)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, fmt.Errorf("container: resolve on disposed container")
	}
	if _, exists := c.cache[p]; !exists {
		c.disposalOrder = append(c.disposalOrder, p)
	}
	c.cache[p] = val
	c.mu.Unlock()

	return val, nil
}

// Load eagerly resolves every eager root and everything reachable from it,
// at the container's own tier, surfacing initialization errors before
// serving begins (spec.md §4.1 "Load phase").
func Load(ctx context.Context, c *Container, roots ...AnyProvider) error {
	for _, r := range roots {
		if _, err := r.resolveAny(ctx, c); err != nil {
			return fmt.Errorf("loading %s: %w", r.Description(), err)
		}
	}
	return nil
}

// Dispose disposes c: children first (recursively), then c's own cached
// instances in reverse resolution order. Each disposer is awaited
// sequentially; a disposer failure is logged but does not halt disposal of
// the remainder. Dispose is idempotent.
func (c *Container) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	children := append([]*Container(nil), c.children...)
	order := append([]AnyProvider(nil), c.disposalOrder...)
	cache := c.cache
	c.disposed = true
	c.mu.Unlock()

	for _, child := range children {
		_ = child.Dispose(ctx)
	}

	for i := len(order) - 1; i >= 0; i-- {
		p := order[i]
		v, ok := cache[p]
		if !ok {
			continue
		}
		if err := p.disposeAny(ctx, v); err != nil {
			c.logger.Error("container: disposer failed", "provider", p.Description(), "error", err)
		}
	}

	return nil
}

func sfKey(p AnyProvider) string {
	return fmt.Sprintf("%p", p)
}

func scopeMismatchf(format string, args ...any) error {
	return korerr.New(korerr.ScopeMismatch, fmt.Sprintf(format, args...))
}
