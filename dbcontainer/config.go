package dbcontainer

import (
	"fmt"
	"time"
)

// Provider modes.
const (
	ModeContainer = "container"
	ModeTemplate  = "template"
)

// Labels put on every container started by this package.
const (
	LabelManaged = "dev.e2ekit.managed"
	LabelRun     = "dev.e2ekit.run"
	LabelSuite   = "dev.e2ekit.suite"
)

// Config selects and configures the database provider.
type Config struct {
	// Mode is "container" (one Postgres container per suite) or "template"
	// (one database per suite on an existing server).
	Mode     string `yaml:"mode" mapstructure:"mode"`
	Image    string `yaml:"image" mapstructure:"image"`
	Database string `yaml:"database" mapstructure:"database"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// AdminURL is the maintenance connection used in template mode.
	AdminURL       string            `yaml:"admin_url" mapstructure:"admin_url"`
	StartupTimeout time.Duration     `yaml:"startup_timeout" mapstructure:"startup_timeout"`
	Labels         map[string]string `yaml:"labels" mapstructure:"labels"`
	// DockerHost overrides DOCKER_HOST for the janitor.
	DockerHost string `yaml:"docker_host" mapstructure:"docker_host"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeContainer
	}
	if c.Image == "" {
		c.Image = "postgres:16-alpine"
	}
	if c.Database == "" {
		c.Database = "e2e"
	}
	if c.Username == "" {
		c.Username = "e2e"
	}
	if c.Password == "" {
		c.Password = "e2e"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 60 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeContainer:
		if c.Database == "postgres" {
			return fmt.Errorf("dbcontainer.database must not be %q: container snapshots need a non-maintenance database", c.Database)
		}
	case ModeTemplate:
		if c.AdminURL == "" {
			return fmt.Errorf("dbcontainer.admin_url is required in template mode")
		}
	default:
		return fmt.Errorf("dbcontainer.mode must be %q or %q, got %q", ModeContainer, ModeTemplate, c.Mode)
	}
	return nil
}
