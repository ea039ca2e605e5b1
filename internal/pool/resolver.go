package pool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/vicodyn/model"
)

// ServiceResolver looks up a connected model.Service instance (and the
// Settings the backend currently advertises, e.g. a verbosity hint or a
// request timeout) by service name. Production deployments implement this
// against a real cocaine-style locator; StaticResolver below is the
// reference implementation used by tests and the local demo entrypoint.
type ServiceResolver interface {
	Resolve(serviceName string) (model.Service, model.Settings, error)
}

// StaticResolver is a fixed, in-process ServiceResolver: services are
// registered by name at startup and never rediscovered. It is safe for
// concurrent use after construction, matching the registry pattern used
// elsewhere in this codebase for named lookups.
type StaticResolver struct {
	mu       sync.RWMutex
	services map[string]model.Service
	settings map[string]model.Settings
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		services: make(map[string]model.Service),
		settings: make(map[string]model.Settings),
	}
}

// Register binds a service name to a Service instance and the Settings the
// pool should report for it. Panics on a duplicate name, since that
// indicates a wiring mistake at startup.
func (r *StaticResolver) Register(name string, svc model.Service, settings model.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[name]; exists {
		panic(fmt.Sprintf("pool: service %q already registered", name))
	}
	r.services[name] = svc
	r.settings[name] = settings
}

// Resolve implements ServiceResolver.
func (r *StaticResolver) Resolve(serviceName string) (model.Service, model.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[serviceName]
	if !ok {
		return nil, model.Settings{}, fmt.Errorf("pool: no connected instance for service %q", serviceName)
	}
	return svc, r.settings[serviceName], nil
}

// Names returns all registered service names, sorted alphabetically.
func (r *StaticResolver) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ready reports whether at least one service is registered, used by the
// readiness probe's pool check.
func (r *StaticResolver) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services) > 0
}
