package environment

import (
	"sort"
	"sync"

	"github.com/kbukum/e2ekit/errors"
)

// Registry indexes environments by suite id. It satisfies
// snapshot.SuiteLookup, so the snapshot engine always sees the current
// database URL of a suite, including after a container restore.
type Registry struct {
	mu   sync.RWMutex
	envs map[string]*Environment
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{envs: make(map[string]*Environment)}
}

// Add registers env. Suite ids must be unique.
func (r *Registry) Add(env *Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.envs[env.ID()]; ok {
		return errors.AlreadyExists("suite " + env.ID())
	}
	r.envs[env.ID()] = env
	return nil
}

// Get returns the environment for suiteID.
func (r *Registry) Get(suiteID string) (*Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.envs[suiteID]
	if !ok {
		return nil, errors.SuiteNotFound(suiteID)
	}
	return env, nil
}

// DatabaseURL returns the current database URL of suiteID.
func (r *Registry) DatabaseURL(suiteID string) (string, error) {
	env, err := r.Get(suiteID)
	if err != nil {
		return "", err
	}
	url := env.DatabaseURL()
	if url == "" {
		return "", errors.SuiteNotFound(suiteID).WithDetail("reason", "suite has no database")
	}
	return url, nil
}

// IDs returns the registered suite ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.envs))
	for id := range r.envs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Environments returns the registered environments ordered by suite id.
func (r *Registry) Environments() []*Environment {
	ids := r.IDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Environment, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.envs[id])
	}
	return out
}

// Suites returns the current state of every suite ordered by suite id.
func (r *Registry) Suites() []Suite {
	envs := r.Environments()
	out := make([]Suite, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Suite())
	}
	return out
}
