// Package registry implements spec.md §4.2: the collection of modules
// (namespaced procedures and tasks), commands, and hook bindings, with
// load-time duplicate detection and a printable hierarchical listing.
//
// Grounded on the teacher's dependency-graph bookkeeping (graph.go's
// adjacency-list pattern, adapted here for namespace collision detection)
// and rendered with the teacher's own direct dependency,
// github.com/m1gwings/treedrawer, for the "printable listing" spec.md
// names explicitly.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/m1gwings/treedrawer/tree"

	"github.com/koretto/koretto/container"
	"github.com/koretto/koretto/hooks"
	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/schema"
)

// CallContext is the narrow view of a Call a Guard or Middleware needs.
// Implemented by *call.Call; declared here (rather than imported from
// package call) to keep registry → call a one-way dependency (call
// depends on registry for Procedure/Task, not the reverse).
type CallContext interface {
	Context() context.Context
	ConnectionID() string
	ProcedureName() string
	Set(key, value any)
	Get(key any) (any, bool)
}

// Handler executes a procedure body against decoded, validated input.
type Handler func(ctx CallContext, input any) (any, error)

// Guard is a predicate over the Call context; the first falsy result
// fails the call with Forbidden (spec.md §4.4 step 5).
type Guard func(ctx CallContext) (bool, error)

// Middleware wraps a Handler, outermost first (spec.md §4.4 step 7).
type Middleware func(next Handler) Handler

// Procedure is a named request/response handler (spec.md §3).
type Procedure struct {
	Name        string
	Module      string
	Input       schema.Schema
	Output      schema.Schema
	Guards      []Guard
	Middlewares []Middleware
	Timeout     time.Duration
	Handler     Handler
}

// Compose applies middlewares outermost-first around Handler.
func (p *Procedure) Compose() Handler {
	h := p.Handler
	for i := len(p.Middlewares) - 1; i >= 0; i-- {
		h = p.Middlewares[i](h)
	}
	return h
}

// TaskContext is the narrow view of a task run a TaskFunc needs: the run's
// context.Context plus its own Task-scope container (spec.md §4.5
// "construct a Task-scope container, invoke the task with args"). Declared
// here, implemented by *taskengine's internal task context, for the same
// one-way-dependency reason as CallContext above.
type TaskContext interface {
	Context() context.Context
	Scope() *container.Container
}

// TaskFunc is the body of a Task.
type TaskFunc func(ctx TaskContext, args any) (any, error)

// Task is a named background unit of work (spec.md §3).
type Task struct {
	Name      string
	Module    string
	LocalOnly bool
	Timeout   time.Duration
	Fn        TaskFunc
}

// CommandFunc is a namespaced CLI-invokable function (spec.md §4.2,
// "commands (namespace → name → function)").
type CommandFunc func(ctx context.Context, args []string) error

// Module is a namespaced bundle of procedures, tasks, commands, DI
// providers (eagerly loaded on registry.Load), and hook bindings.
type Module struct {
	Name       string
	Procedures []*Procedure
	Tasks      []*Task
	Commands   map[string]CommandFunc
	Providers  []container.AnyProvider
	Hooks      []hooks.Binding
}

// NewModule creates an empty, named module.
func NewModule(name string) *Module {
	return &Module{Name: name, Commands: make(map[string]CommandFunc)}
}

func (m *Module) AddProcedure(p *Procedure) *Module {
	p.Module = m.Name
	m.Procedures = append(m.Procedures, p)
	return m
}

func (m *Module) AddTask(t *Task) *Module {
	t.Module = m.Name
	m.Tasks = append(m.Tasks, t)
	return m
}

func (m *Module) AddCommand(name string, fn CommandFunc) *Module {
	m.Commands[name] = fn
	return m
}

func (m *Module) AddProvider(p container.AnyProvider) *Module {
	m.Providers = append(m.Providers, p)
	return m
}

func (m *Module) AddHook(b hooks.Binding) *Module {
	m.Hooks = append(m.Hooks, b)
	return m
}

// Registry collects modules and, on Load, materializes their contents
// into flat, namespace-qualified maps, failing on collision.
type Registry struct {
	modules    []*Module
	procedures map[string]*Procedure
	tasks      map[string]*Task
	commands   map[string]map[string]CommandFunc
	providers  []container.AnyProvider
	hookList   []hooks.Binding
	loaded     bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register adds a module. Modules may be added until Load is called.
func (r *Registry) Register(m *Module) {
	r.modules = append(r.modules, m)
}

// Load walks registered modules and materializes their procedures, tasks,
// and commands into namespace-qualified maps, failing with DuplicateName
// on a namespace collision (spec.md §4.2).
func (r *Registry) Load() error {
	procedures := make(map[string]*Procedure)
	tasks := make(map[string]*Task)
	commands := make(map[string]map[string]CommandFunc)
	var providers []container.AnyProvider
	var hookList []hooks.Binding

	for _, m := range r.modules {
		for _, p := range m.Procedures {
			key := qualify(m.Name, p.Name)
			if _, exists := procedures[key]; exists {
				return korerr.New(korerr.DuplicateName, "duplicate procedure: "+key)
			}
			procedures[key] = p
		}
		for _, t := range m.Tasks {
			key := qualify(m.Name, t.Name)
			if _, exists := tasks[key]; exists {
				return korerr.New(korerr.DuplicateName, "duplicate task: "+key)
			}
			tasks[key] = t
		}
		if len(m.Commands) > 0 {
			ns, exists := commands[m.Name]
			if !exists {
				ns = make(map[string]CommandFunc)
				commands[m.Name] = ns
			}
			for name, fn := range m.Commands {
				if _, exists := ns[name]; exists {
					return korerr.New(korerr.DuplicateName, "duplicate command: "+qualify(m.Name, name))
				}
				ns[name] = fn
			}
		}
		providers = append(providers, m.Providers...)
		hookList = append(hookList, m.Hooks...)
	}

	r.procedures = procedures
	r.tasks = tasks
	r.commands = commands
	r.providers = providers
	r.hookList = hookList
	r.loaded = true
	return nil
}

// Clear empties the registry so it may be re-populated. The container must
// be disposed beforehand (spec.md §4.2); callers are responsible for that
// ordering, Clear itself only resets bookkeeping.
func (r *Registry) Clear() {
	r.modules = nil
	r.procedures = nil
	r.tasks = nil
	r.commands = nil
	r.providers = nil
	r.hookList = nil
	r.loaded = false
}

func qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

// Procedure looks up a loaded procedure by its qualified name.
func (r *Registry) Procedure(name string) (*Procedure, bool) {
	p, ok := r.procedures[name]
	return p, ok
}

// Task looks up a loaded task by its qualified name.
func (r *Registry) Task(name string) (*Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// Command looks up a namespaced command.
func (r *Registry) Command(namespace, name string) (CommandFunc, bool) {
	ns, ok := r.commands[namespace]
	if !ok {
		return nil, false
	}
	fn, ok := ns[name]
	return fn, ok
}

// Providers returns every provider contributed by loaded modules, the
// eager roots for container.Load.
func (r *Registry) Providers() []container.AnyProvider {
	return r.providers
}

// HookBindings returns every hook binding contributed by loaded modules.
func (r *Registry) HookBindings() []hooks.Binding {
	return r.hookList
}

// Loaded reports whether Load has run since the last Clear.
func (r *Registry) Loaded() bool { return r.loaded }

// ProcedureNames returns the sorted list of qualified procedure names,
// used by round-trip tests (spec.md §8 "Registry load() followed by
// clear() followed by load() ... produces the same set of registered
// names").
func (r *Registry) ProcedureNames() []string {
	names := make([]string, 0, len(r.procedures))
	for name := range r.procedures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskNames returns the sorted list of qualified task names.
func (r *Registry) TaskNames() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String renders the module/procedure/task hierarchy for diagnostics; the
// sink for "writes a hierarchical listing to the logger sink" (spec.md
// §4.2) is left to the caller (app.Application logs the Tree rendering
// rather than this string).
func (r *Registry) String() string {
	out := fmt.Sprintf("registry: %d module(s)\n", len(r.modules))
	for _, m := range r.modules {
		out += fmt.Sprintf("  %s\n", m.Name)
		for _, p := range m.Procedures {
			out += fmt.Sprintf("    procedure %s\n", p.Name)
		}
		for _, t := range m.Tasks {
			out += fmt.Sprintf("    task %s\n", t.Name)
		}
	}
	return out
}

// Tree renders the module/procedure/task hierarchy as a box-drawn tree,
// the "printable hierarchical listing" spec.md §4.2 names, suitable for
// logging once at startup.
func (r *Registry) Tree() *tree.Tree {
	root := tree.NewTree(tree.NodeString("registry"))
	for _, m := range r.modules {
		moduleNode := root.AddChild(tree.NodeString(m.Name))
		for _, p := range m.Procedures {
			moduleNode.AddChild(tree.NodeString("procedure " + p.Name))
		}
		for _, t := range m.Tasks {
			moduleNode.AddChild(tree.NodeString("task " + t.Name))
		}
		for name := range m.Commands {
			moduleNode.AddChild(tree.NodeString("command " + name))
		}
	}
	return root
}
