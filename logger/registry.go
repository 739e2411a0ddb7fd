package logger

import (
	"sync"
)

// Component names used across the module.
const (
	ComponentSupervisor   = "supervisor"
	ComponentSnapshot     = "snapshot"
	ComponentEnvironment  = "environment"
	ComponentControlPlane = "controlplane"
	ComponentResolver     = "resolver"
	ComponentIsolation    = "isolation"
	ComponentContainer    = "dbcontainer"
	ComponentOrchestrator = "orchestrator"
	ComponentConnPool     = "connpool"
	ComponentMigration    = "migration"
	ComponentDatabase     = "database"
)

var registry = &loggerRegistry{
	loggers: make(map[string]*Logger),
}

type loggerRegistry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

// Register stores a named logger in the registry.
func Register(name string, l *Logger) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.loggers[name] = l
}

// Get retrieves a named logger. If the name is not registered it returns the
// global logger tagged with the requested component name.
func Get(name string) *Logger {
	registry.mu.RLock()
	l, ok := registry.loggers[name]
	registry.mu.RUnlock()
	if ok {
		return l
	}
	return GetGlobalLogger().WithComponent(name)
}

// RegisterDefaults seeds the registry with a component logger for every
// module component. Call it after Init so the loggers pick up the config.
func RegisterDefaults() {
	for _, name := range []string{
		ComponentSupervisor, ComponentSnapshot, ComponentEnvironment, ComponentControlPlane,
		ComponentResolver, ComponentIsolation, ComponentContainer, ComponentOrchestrator,
		ComponentConnPool, ComponentMigration, ComponentDatabase,
	} {
		Register(name, GetGlobalLogger().WithComponent(name))
	}
}
