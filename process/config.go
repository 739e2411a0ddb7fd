package process

import (
	"fmt"
	"time"
)

// Config configures how application instances are launched and supervised.
type Config struct {
	// Command launches one application instance. PORT and DATABASE_URL are
	// injected through the environment.
	Command Command `yaml:"command" mapstructure:"command"`
	// Build is an optional one-shot command run once before any instance starts.
	Build *Command `yaml:"build,omitempty" mapstructure:"build"`
	// Hostname is bound by the app and used to build its URL.
	Hostname string `yaml:"hostname" mapstructure:"hostname"`
	// ReadyPath is polled until any HTTP response is returned.
	ReadyPath string `yaml:"ready_path" mapstructure:"ready_path"`
	// PollInterval is the time between readiness probes.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	// ReadyTimeout bounds readiness for apps backed by a native database.
	ReadyTimeout time.Duration `yaml:"ready_timeout" mapstructure:"ready_timeout"`
	// ContainerReadyTimeout bounds readiness for apps backed by a database container.
	ContainerReadyTimeout time.Duration `yaml:"container_ready_timeout" mapstructure:"container_ready_timeout"`
	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	// StderrLines is the number of stderr lines kept for crash diagnostics.
	StderrLines int `yaml:"stderr_lines" mapstructure:"stderr_lines"`
	// Env holds extra KEY=VALUE pairs for every instance.
	Env []string `yaml:"env" mapstructure:"env"`
	// OutputMode is "all", "classified" or "none"; see logger.Config.AppOutput.
	OutputMode string `yaml:"-" mapstructure:"-"`
}

// ApplyDefaults applies default values.
func (c *Config) ApplyDefaults() {
	if c.Hostname == "" {
		c.Hostname = "127.0.0.1"
	}
	if c.ReadyPath == "" {
		c.ReadyPath = "/"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 60 * time.Second
	}
	if c.ContainerReadyTimeout == 0 {
		c.ContainerReadyTimeout = 120 * time.Second
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.StderrLines == 0 {
		c.StderrLines = 20
	}
	if c.OutputMode == "" {
		c.OutputMode = "classified"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Command.Binary == "" {
		return fmt.Errorf("app.command.binary is required")
	}
	if c.Build != nil && c.Build.Binary == "" {
		return fmt.Errorf("app.build.binary is required when app.build is set")
	}
	if c.PollInterval <= 0 || c.ReadyTimeout <= 0 || c.ContainerReadyTimeout <= 0 {
		return fmt.Errorf("app poll interval and ready timeouts must be positive")
	}
	if c.PollInterval >= c.ReadyTimeout {
		return fmt.Errorf("app.poll_interval (%s) must be shorter than app.ready_timeout (%s)", c.PollInterval, c.ReadyTimeout)
	}
	if c.StderrLines < 1 {
		return fmt.Errorf("app.stderr_lines must be at least 1")
	}
	return nil
}
