package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// DependencyGraph is the registered map of service -> dependencies.
// Edges are immutable once registered.
type DependencyGraph struct {
	mu    sync.RWMutex
	edges map[string][]models.ServiceDependency
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string][]models.ServiceDependency)}
}

// Register adds a dependency edge. Re-registering the same (service, dependency)
// pair is rejected to keep edges immutable.
func (g *DependencyGraph) Register(dep models.ServiceDependency) error {
	if dep.ServiceName == "" || dep.DependencyName == "" {
		return fmt.Errorf("service and dependency names are required")
	}
	if !dep.Type.Valid() {
		return fmt.Errorf("unknown dependency type %q", dep.Type)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.edges[dep.ServiceName] {
		if existing.DependencyName == dep.DependencyName {
			return fmt.Errorf("dependency %s -> %s already registered", dep.ServiceName, dep.DependencyName)
		}
	}
	g.edges[dep.ServiceName] = append(g.edges[dep.ServiceName], dep)
	return nil
}

// DependenciesOf returns the registered dependencies for a service.
func (g *DependencyGraph) DependenciesOf(service string) []models.ServiceDependency {
	g.mu.RLock()
	defer g.mu.RUnlock()

	deps := g.edges[service]
	out := make([]models.ServiceDependency, len(deps))
	copy(out, deps)
	return out
}

// Services returns all services with at least one registered dependency.
func (g *DependencyGraph) Services() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	services := make([]string, 0, len(g.edges))
	for svc := range g.edges {
		services = append(services, svc)
	}
	sort.Strings(services)
	return services
}
