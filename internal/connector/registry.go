package connector

import (
	"fmt"
	"sync"

	"github.com/spectra-red/sentinel/internal/domain"
)

// Registry is an explicit, caller-owned collection of connectors. There
// is deliberately no package-level global registry (the teacher's
// workflows are each wired by hand in cmd/workflows/main.go, never
// self-registering via init()). cmd/sentineld does not use this type; it
// wires its connectors through orchestrator.Registry.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds c under its own Name(). Registering a duplicate name is
// a programmer error and panics, matching the teacher's fail-fast
// startup wiring in cmd/api/main.go (it calls log.Fatal on any setup
// error rather than limping on with partial configuration).
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[c.Name()]; exists {
		panic(fmt.Sprintf("connector: duplicate registration for %q", c.Name()))
	}
	r.connectors[c.Name()] = c
}

// Get returns the connector registered under name, if any.
func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	return c, ok
}

// ByType returns every registered connector of the given type.
func (r *Registry) ByType(t domain.ConnectorType) []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Connector
	for _, c := range r.connectors {
		if c.Type() == t {
			out = append(out, c)
		}
	}
	return out
}

// Names lists every registered connector name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		out = append(out, name)
	}
	return out
}
