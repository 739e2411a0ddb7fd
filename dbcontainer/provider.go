package dbcontainer

import (
	"context"
	"strings"

	"github.com/kbukum/e2ekit/logger"
)

// Instance is one suite's database.
type Instance interface {
	// ID identifies the instance (container id or database name).
	ID() string
	// ConnectionString returns the current database URL.
	ConnectionString(ctx context.Context) (string, error)
	// Snapshot records a named checkpoint of the whole database.
	Snapshot(ctx context.Context, name string) error
	// Restore returns the database to a checkpoint and reports the database
	// URL afterwards, which may differ from the one before. Callers must
	// close their connections first.
	Restore(ctx context.Context, name string) (string, error)
	// Terminate destroys the database.
	Terminate(ctx context.Context) error
}

// Provider starts suite databases.
type Provider interface {
	Start(ctx context.Context, suiteID string) (Instance, error)
}

// NewProvider returns the provider selected by cfg.Mode. runID labels
// everything the provider creates so a janitor can find leftovers.
func NewProvider(cfg Config, runID string, log *logger.Logger) (Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Get(logger.ComponentContainer)
	}
	if cfg.Mode == ModeTemplate {
		return NewTemplate(cfg, runID, log), nil
	}
	return NewPostgres(cfg, runID, log), nil
}

// checkpointName maps a snapshot name onto a valid, lower-case database
// name.
func checkpointName(prefix, name string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}
