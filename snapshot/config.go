package snapshot

import (
	"fmt"
	"strings"
	"time"
)

// DefaultExcludedTables are never dumped or truncated. Restoring a snapshot
// must not log out a browser session, and migration bookkeeping belongs to
// the migrator. Matching is case-insensitive.
var DefaultExcludedTables = []string{
	"user", "users",
	"session", "sessions",
	"account", "accounts",
	"key", "keys",
	"verification", "verificationtoken", "verification_token", "verification_tokens",
	"schema_migrations", "_prisma_migrations",
}

// Config configures the snapshot engine.
type Config struct {
	// Dir is the root of the snapshot store; files live at Dir/<suite>/<name>.json.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// Schema is the database schema whose tables are captured.
	Schema string `yaml:"schema" mapstructure:"schema"`
	// Exclude adds table names to DefaultExcludedTables.
	Exclude []string `yaml:"exclude" mapstructure:"exclude"`
	// RestoreAttempts bounds retries of a restore that lost a serialization
	// race with another worker.
	RestoreAttempts int `yaml:"restore_attempts" mapstructure:"restore_attempts"`
	// StatementTimeout bounds the whole restore transaction. Zero disables it.
	StatementTimeout time.Duration `yaml:"statement_timeout" mapstructure:"statement_timeout"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = ".snapshots"
	}
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.RestoreAttempts <= 0 {
		c.RestoreAttempts = 3
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return fmt.Errorf("snapshot.dir is required")
	}
	if strings.TrimSpace(c.Schema) == "" {
		return fmt.Errorf("snapshot.schema is required")
	}
	return nil
}

func (c *Config) excluded() map[string]bool {
	set := make(map[string]bool, len(DefaultExcludedTables)+len(c.Exclude))
	for _, t := range DefaultExcludedTables {
		set[strings.ToLower(t)] = true
	}
	for _, t := range c.Exclude {
		set[strings.ToLower(t)] = true
	}
	return set
}
