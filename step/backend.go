package step

import "fmt"

// Backend augments a freshly built context with whatever extra fields its
// kernels need. Implementations must preserve the metadata already derived:
// lengths, mask shape and position ids are settled before the hook runs.
type Backend interface {
	Name() string
	UpdateStepContext(*Context) (*Context, error)
}

var (
	backends = make(map[string]Backend)
	active   Backend
)

// Register adds a backend to the registry.
func Register(b Backend) {
	if _, ok := backends[b.Name()]; ok {
		panic("step: backend already registered")
	}

	backends[b.Name()] = b
}

// Use selects the active backend. Called once at process startup after the
// target hardware is known.
func Use(name string) error {
	b, ok := backends[name]
	if !ok {
		return fmt.Errorf("step: unknown backend %q", name)
	}

	active = b
	return nil
}

// Active returns the selected backend, defaulting to cpu.
func Active() Backend {
	if active == nil {
		return cpuBackend{}
	}
	return active
}

// cpuBackend needs nothing beyond the derived metadata.
type cpuBackend struct{}

func (cpuBackend) Name() string { return "cpu" }

func (cpuBackend) UpdateStepContext(ctx *Context) (*Context, error) { return ctx, nil }

func init() {
	Register(cpuBackend{})
}
