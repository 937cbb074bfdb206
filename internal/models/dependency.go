package models

import "time"

// DependencyType captures how badly a dependency failure hurts the dependent service.
type DependencyType string

const (
	// DependencyHard failures are fatal to the dependent service.
	DependencyHard DependencyType = "hard"
	// DependencySoft failures degrade the dependent service.
	DependencySoft DependencyType = "soft"
	// DependencyOptional failures are ignorable.
	DependencyOptional DependencyType = "optional"
)

// ServiceDependency is a registered edge in the service dependency graph.
// Immutable once registered.
type ServiceDependency struct {
	ServiceName      string
	DependencyName   string
	Type             DependencyType
	TimeoutThreshold time.Duration
	FailureThreshold int
}

// Valid reports whether the dependency type is one of the closed set.
func (t DependencyType) Valid() bool {
	switch t {
	case DependencyHard, DependencySoft, DependencyOptional:
		return true
	}
	return false
}
