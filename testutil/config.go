package testutil

import (
	"github.com/kbukum/e2ekit/config"
	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/controlplane/client"
	"github.com/kbukum/e2ekit/handoff"
	"github.com/kbukum/e2ekit/resolver"
	"github.com/kbukum/e2ekit/snapshot"
)

// Config is the worker's view of e2ekit.yml. Sections setup alone needs are
// ignored.
type Config struct {
	Resolve   resolver.Config `yaml:"resolve" mapstructure:"resolve"`
	Snapshots snapshot.Config `yaml:"snapshots" mapstructure:"snapshots"`
	Pools     connpool.Config `yaml:"pools" mapstructure:"pools"`
	Client    client.Config   `yaml:"client" mapstructure:"client"`
	// Handoff is the context file path. Defaults to handoff.Path().
	Handoff string `yaml:"handoff" mapstructure:"handoff"`
}

// ApplyDefaults applies defaults to every section.
func (c *Config) ApplyDefaults() {
	c.Snapshots.ApplyDefaults()
	c.Pools.ApplyDefaults()
	c.Client.ApplyDefaults()
	if c.Handoff == "" {
		c.Handoff = handoff.Path()
	}
}

// LoadConfig reads the worker configuration the same way the CLI does.
// A missing e2ekit.yml leaves every section at its default.
func LoadConfig(opts ...config.LoaderOption) (Config, error) {
	var cfg Config
	if err := config.LoadConfig("e2ekit", &cfg, opts...); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
