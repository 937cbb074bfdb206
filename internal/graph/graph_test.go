package graph

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func TestRegisterAndLookup(t *testing.T) {
	g := NewDependencyGraph()

	err := g.Register(models.ServiceDependency{
		ServiceName:      "api",
		DependencyName:   "payments",
		Type:             models.DependencyHard,
		TimeoutThreshold: 2 * time.Second,
		FailureThreshold: 3,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	deps := g.DependenciesOf("api")
	if len(deps) != 1 || deps[0].DependencyName != "payments" {
		t.Fatalf("unexpected dependencies: %+v", deps)
	}
	if len(g.DependenciesOf("payments")) != 0 {
		t.Fatal("payments should have no dependencies")
	}
}

func TestRegisterRejectsDuplicateEdge(t *testing.T) {
	g := NewDependencyGraph()
	dep := models.ServiceDependency{ServiceName: "api", DependencyName: "db", Type: models.DependencySoft}

	if err := g.Register(dep); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := g.Register(dep); err == nil {
		t.Fatal("expected duplicate edge to be rejected")
	}
}

func TestRegisterValidation(t *testing.T) {
	g := NewDependencyGraph()

	if err := g.Register(models.ServiceDependency{DependencyName: "db", Type: models.DependencyHard}); err == nil {
		t.Fatal("expected missing service name to be rejected")
	}
	if err := g.Register(models.ServiceDependency{ServiceName: "api", DependencyName: "db", Type: "circular"}); err == nil {
		t.Fatal("expected unknown dependency type to be rejected")
	}
}

func TestServicesSorted(t *testing.T) {
	g := NewDependencyGraph()
	for _, svc := range []string{"zeta", "api", "mid"} {
		if err := g.Register(models.ServiceDependency{ServiceName: svc, DependencyName: "db", Type: models.DependencyOptional}); err != nil {
			t.Fatalf("register %s: %v", svc, err)
		}
	}

	services := g.Services()
	want := []string{"api", "mid", "zeta"}
	if len(services) != len(want) {
		t.Fatalf("services = %v, want %v", services, want)
	}
	for i := range want {
		if services[i] != want[i] {
			t.Fatalf("services = %v, want %v", services, want)
		}
	}
}
