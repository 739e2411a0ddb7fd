package controlplane

import (
	"fmt"
	"net"
	"time"
)

// Config holds control-plane server configuration.
type Config struct {
	// Addr is the listen address. Port 0 picks an ephemeral port.
	Addr string `yaml:"addr" mapstructure:"addr"`
	// ReadTimeout bounds reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	// WriteTimeout bounds a whole request. Restores restart an application,
	// so this must exceed the supervisor's ready timeout.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	// IdleTimeout closes idle keep-alive connections.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// AllowNonLoopback permits binding to a non-loopback address.
	AllowNonLoopback bool `yaml:"allow_non_loopback" mapstructure:"allow_non_loopback"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:0"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return fmt.Errorf("control_plane.addr is invalid (got: %q): %w", c.Addr, err)
	}
	if port == "" {
		return fmt.Errorf("control_plane.addr must include a port (got: %q)", c.Addr)
	}
	if !c.AllowNonLoopback && !isLoopback(host) {
		return fmt.Errorf("control_plane.addr must be a loopback address (got: %q)", c.Addr)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("control_plane timeouts must be non-negative")
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
