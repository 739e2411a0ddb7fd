package orchestrator

import (
	"fmt"
	"time"

	"github.com/kbukum/e2ekit/config"
	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/controlplane"
	"github.com/kbukum/e2ekit/database/migration"
	"github.com/kbukum/e2ekit/dbcontainer"
	"github.com/kbukum/e2ekit/environment"
	"github.com/kbukum/e2ekit/handoff"
	"github.com/kbukum/e2ekit/observability"
	"github.com/kbukum/e2ekit/process"
	"github.com/kbukum/e2ekit/resolver"
	"github.com/kbukum/e2ekit/snapshot"
	"github.com/kbukum/e2ekit/validation"
)

// SuiteConfig declares one suite in e2ekit.yml.
type SuiteConfig struct {
	ID string `yaml:"id" mapstructure:"id"`
	// Migrations is a directory of golang-migrate files. Empty skips
	// migrations unless WithMigrations supplies a source.
	Migrations string   `yaml:"migrations" mapstructure:"migrations"`
	SeedFiles  []string `yaml:"seed_files" mapstructure:"seed_files"`
	Env        []string `yaml:"env" mapstructure:"env"`
	NoApp      bool     `yaml:"no_app" mapstructure:"no_app"`
	Checkpoint string   `yaml:"checkpoint" mapstructure:"checkpoint"`
}

// PortsConfig is the inclusive range application ports are taken from.
type PortsConfig struct {
	Start int `yaml:"start" mapstructure:"start"`
	End   int `yaml:"end" mapstructure:"end"`
}

// Config is the full e2ekit configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	App           process.Config       `yaml:"app" mapstructure:"app"`
	Database      dbcontainer.Config   `yaml:"database" mapstructure:"database"`
	Snapshots     snapshot.Config      `yaml:"snapshots" mapstructure:"snapshots"`
	Pools         connpool.Config      `yaml:"pools" mapstructure:"pools"`
	ControlPlane  controlplane.Config  `yaml:"control_plane" mapstructure:"control_plane"`
	Ports         PortsConfig          `yaml:"ports" mapstructure:"ports"`
	Suites        []SuiteConfig        `yaml:"suites" mapstructure:"suites"`
	Resolve       resolver.Config      `yaml:"resolve" mapstructure:"resolve"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`

	// Handoff is the context file path. Defaults to handoff.Path().
	Handoff string `yaml:"handoff" mapstructure:"handoff"`
	// ShutdownTimeout bounds Teardown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ApplyDefaults applies defaults to every section.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.App.OutputMode = c.Logging.AppOutput
	c.App.ApplyDefaults()
	c.Database.ApplyDefaults()
	c.Snapshots.ApplyDefaults()
	c.Pools.ApplyDefaults()
	c.ControlPlane.ApplyDefaults()

	if c.Ports.Start == 0 && c.Ports.End == 0 {
		c.Ports = PortsConfig{Start: 4100, End: 4999}
	}
	if c.Handoff == "" {
		c.Handoff = handoff.Path()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = c.Name
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Environment
	}
	c.Observability.ApplyDefaults()
}

// Validate validates every section. The app section is only checked when at
// least one suite runs an application.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if len(c.Suites) == 0 {
		return fmt.Errorf("suites: at least one suite is required")
	}
	seen := make(map[string]bool, len(c.Suites))
	needsApp := false
	for i, s := range c.Suites {
		if !validation.IsIdent(s.ID) {
			return fmt.Errorf("suites[%d].id %q must contain only letters, digits, '-' and '_'", i, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("suites[%d].id %q is declared twice", i, s.ID)
		}
		seen[s.ID] = true
		if !s.NoApp {
			needsApp = true
		}
	}
	if needsApp {
		if err := c.App.Validate(); err != nil {
			return err
		}
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Snapshots.Validate(); err != nil {
		return err
	}
	if err := c.ControlPlane.Validate(); err != nil {
		return err
	}
	if c.Ports.Start <= 0 || c.Ports.End > 65535 || c.Ports.Start > c.Ports.End {
		return fmt.Errorf("ports: invalid range %d-%d", c.Ports.Start, c.Ports.End)
	}
	if c.Resolve.Fallback != "" && !seen[c.Resolve.Fallback] {
		return fmt.Errorf("resolve.fallback %q is not a declared suite", c.Resolve.Fallback)
	}
	return c.Observability.Validate()
}

// Definitions converts the declared suites into environment definitions.
func (c *Config) Definitions() []environment.Definition {
	defs := make([]environment.Definition, 0, len(c.Suites))
	for _, s := range c.Suites {
		def := environment.Definition{
			SuiteID:    s.ID,
			SeedFiles:  s.SeedFiles,
			Env:        s.Env,
			NoApp:      s.NoApp,
			Checkpoint: s.Checkpoint,
		}
		if s.Migrations != "" {
			src := migration.Dir(s.Migrations)
			def.Migrations = &src
		}
		defs = append(defs, def)
	}
	return defs
}

// Load reads e2ekit.yml, .env files and E2EKIT_* variables into a Config
// with defaults applied and validated.
func Load(opts ...config.LoaderOption) (*Config, error) {
	var cfg Config
	if err := config.LoadConfig("e2ekit", &cfg, opts...); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}
