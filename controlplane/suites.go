package controlplane

import (
	"context"

	"github.com/kbukum/e2ekit/component"
	"github.com/kbukum/e2ekit/environment"
)

// Suite is the set of environment operations the control plane drives.
// *environment.Environment satisfies it.
type Suite interface {
	CreateSnapshot(ctx context.Context, name string) error
	RestoreSnapshot(ctx context.Context, name string) (environment.Suite, error)
	ClearCache(ctx context.Context) (environment.Suite, error)
	Suite() environment.Suite
	Health(ctx context.Context) component.Health
}

// Suites looks suites up by id.
type Suites interface {
	// Lookup returns SUITE_NOT_FOUND for unknown ids.
	Lookup(suiteID string) (Suite, error)
	// IDs returns known suite ids in a stable order.
	IDs() []string
}

// FromRegistry adapts an environment registry.
func FromRegistry(r *environment.Registry) Suites {
	return registrySuites{r: r}
}

type registrySuites struct {
	r *environment.Registry
}

func (s registrySuites) Lookup(suiteID string) (Suite, error) {
	env, err := s.r.Get(suiteID)
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (s registrySuites) IDs() []string { return s.r.IDs() }
