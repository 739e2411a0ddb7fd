package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestServiceConfigApplyDefaults(t *testing.T) {
	var cfg ServiceConfig
	cfg.ApplyDefaults()
	if cfg.Name != "e2ekit" {
		t.Errorf("expected default name, got %q", cfg.Name)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected 'local', got %q", cfg.Environment)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected logging defaults applied, got %q", cfg.Logging.Level)
	}

	debug := ServiceConfig{Debug: true}
	debug.ApplyDefaults()
	if debug.Logging.Level != "debug" {
		t.Errorf("expected debug level when debug=true, got %q", debug.Logging.Level)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	valid := ServiceConfig{Name: "e2ekit", Environment: "ci"}
	valid.Logging.ApplyDefaults()

	tests := []struct {
		name    string
		mutate  func(c *ServiceConfig)
		wantErr string
	}{
		{"valid", func(c *ServiceConfig) {}, ""},
		{"missing name", func(c *ServiceConfig) { c.Name = "" }, "config.name is required"},
		{"bad environment", func(c *ServiceConfig) { c.Environment = "prod" }, "config.environment must be one of"},
		{"bad logging", func(c *ServiceConfig) { c.Logging.Level = "loud" }, "config.logging"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

type testConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Snapshots     struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"snapshots"`
	ControlPlane struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"control_plane"`
}

func TestLoadConfigWithYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "e2ekit.yml")

	yamlContent := `
name: e2ekit
environment: ci
snapshots:
  dir: .snapshots
control_plane:
  addr: 127.0.0.1:0
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	var cfg testConfig
	if err := LoadConfig("e2ekit", &cfg, WithConfigFile(configPath), WithEnvFile(filepath.Join(dir, "missing.env"))); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Environment != "ci" {
		t.Errorf("expected environment 'ci', got %q", cfg.Environment)
	}
	if cfg.Snapshots.Dir != ".snapshots" {
		t.Errorf("expected snapshots.dir, got %q", cfg.Snapshots.Dir)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "e2ekit.yml")
	if err := os.WriteFile(configPath, []byte("control_plane:\n  addr: 127.0.0.1:1111\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("E2EKIT_CONTROL_PLANE_ADDR", "127.0.0.1:2222")

	var cfg testConfig
	if err := LoadConfig("e2ekit", &cfg, WithConfigFile(configPath), WithEnvFile(filepath.Join(dir, "missing.env"))); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ControlPlane.Addr != "127.0.0.1:2222" {
		t.Errorf("expected env override, got %q", cfg.ControlPlane.Addr)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("e2ekit", &cfg, WithConfigFile("/nonexistent/path.yml"), WithEnvFile("/nonexistent/.env"))
	if err != nil {
		t.Fatalf("expected LoadConfig to succeed with missing file, got %v", err)
	}
}

func TestResolverWithMockFS(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		"test/e2e/e2ekit.yml": true,
		"e2e/.env.e2e":        true,
	}}
	resolver := &Resolver{FileSystem: fs}
	files := resolver.ResolveFiles("e2ekit", LoaderConfig{})
	if files.ConfigFile != "test/e2e/e2ekit.yml" {
		t.Errorf("expected config file at test/e2e/e2ekit.yml, got %q", files.ConfigFile)
	}
	if files.EnvFile != "e2e/.env.e2e" {
		t.Errorf("expected env file at e2e/.env.e2e, got %q", files.EnvFile)
	}

	explicit := resolver.ResolveFiles("e2ekit", LoaderConfig{ConfigFile: "x.yml"})
	if explicit.ConfigFile != "x.yml" {
		t.Errorf("explicit path should win, got %q", explicit.ConfigFile)
	}
}

type mockFS struct {
	files map[string]bool
}

func (m *mockFS) Exists(path string) bool  { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error { return nil }

func TestGenerateEnvKeyVariants(t *testing.T) {
	got := generateEnvKeyVariants("CONTROL_PLANE_ADDR")
	for _, want := range []string{"control_plane_addr", "control.plane.addr", "control_plane.addr"} {
		if !slices.Contains(got, want) {
			t.Errorf("expected variant %q in %v", want, got)
		}
	}
	if single := generateEnvKeyVariants("NAME"); len(single) != 1 || single[0] != "name" {
		t.Errorf("unexpected single-part variants: %v", single)
	}
}

func TestLoaderOptions(t *testing.T) {
	var lc LoaderConfig
	WithFileSystem(&mockFS{})(&lc)
	WithConfigFile("/path/to/e2ekit.yml")(&lc)
	WithEnvFile("/path/to/.env")(&lc)
	if lc.FileSystem == nil || lc.ConfigFile != "/path/to/e2ekit.yml" || lc.EnvFile != "/path/to/.env" {
		t.Errorf("unexpected loader config: %+v", lc)
	}
}
