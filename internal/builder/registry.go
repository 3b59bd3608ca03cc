package builder

import (
	"sync"

	"github.com/spirali/orco/internal/store"
)

// Option configures a Registration at registration time.
type Option func(*Registration)

// WithJobSetup gives the registration a static job_setup descriptor.
func WithJobSetup(setup store.JobSetup) Option {
	return func(r *Registration) { r.setup = setup }
}

// WithJobSetupFunc gives the registration a per-config job_setup
// derivation function (spec §4.C "callable returning a descriptor").
func WithJobSetupFunc(fn JobSetupFunc) Option {
	return func(r *Registration) { r.setupFn = fn }
}

// WithRunner gives the registration a static job_setup naming only a
// runner (spec §4.C "plain runner name").
func WithRunner(name string) Option {
	return func(r *Registration) { r.setup = store.JobSetup{Runner: name} }
}

// Registry binds builder names to Registrations. Duplicates replace, per
// spec §4.C ("registered in-process by name (duplicates replace)").
type Registry struct {
	mu   sync.RWMutex
	regs map[string]*Registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]*Registration)}
}

// Register binds name to b with a default job_setup (Runner: "local"),
// overridable via opts.
func (reg *Registry) Register(name string, b Builder, opts ...Option) {
	r := &Registration{Name: name, Builder: b, setup: store.DefaultJobSetup()}
	for _, opt := range opts {
		opt(r)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.regs[name] = r
}

// Frozen registers name with no callable (spec §4.C: "Frozen builders have
// no callable"); the planner fails with MissingValue if a frozen key has
// no Finished row in the store.
func (reg *Registry) Frozen(name string, opts ...Option) {
	r := &Registration{Name: name, Builder: nil, setup: store.DefaultJobSetup()}
	for _, opt := range opts {
		opt(r)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.regs[name] = r
}

// Lookup returns the Registration for name, or false if unregistered.
func (reg *Registry) Lookup(name string) (*Registration, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.regs[name]
	return r, ok
}

// Names returns every registered builder name.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.regs))
	for name := range reg.regs {
		out = append(out, name)
	}
	return out
}
