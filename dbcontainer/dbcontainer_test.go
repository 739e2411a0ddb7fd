package dbcontainer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/kbukum/e2ekit/logger"
)

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Mode != ModeContainer || cfg.Image != "postgres:16-alpine" || cfg.Database != "e2e" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"container ok", Config{Mode: ModeContainer, Database: "app"}, ""},
		{"maintenance db", Config{Mode: ModeContainer, Database: "postgres"}, "must not be"},
		{"template needs admin url", Config{Mode: ModeTemplate}, "admin_url"},
		{"template ok", Config{Mode: ModeTemplate, AdminURL: "postgres://u@h/postgres"}, ""},
		{"unknown mode", Config{Mode: "vm"}, "mode must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{Mode: ModeTemplate, AdminURL: "postgres://u@h/postgres"}, "run", logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*Template); !ok {
		t.Errorf("expected *Template, got %T", p)
	}
	p, err = NewProvider(Config{}, "run", logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*Postgres); !ok {
		t.Errorf("expected *Postgres, got %T", p)
	}
}

func TestCheckpointName(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"cp_", "initial", "cp_initial"},
		{"cp_", "After-Login.v2", "cp_after_login_v2"},
		{"cp_", strings.Repeat("x", 80), "cp_" + strings.Repeat("x", 60)},
	}
	for _, tt := range tests {
		if got := checkpointName(tt.prefix, tt.name); got != tt.want {
			t.Errorf("checkpointName(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestDatabaseNameAndURL(t *testing.T) {
	if got := databaseName("3f2a9c1e-0000-4000-8000-000000000000", "Dashboard"); got != "e2e_dashboard_3f2a9c1e" {
		t.Errorf("unexpected database name %q", got)
	}
	u, err := withDatabase("postgres://app:pw@localhost:5432/postgres?sslmode=disable", "e2e_x")
	if err != nil {
		t.Fatal(err)
	}
	if u != "postgres://app:pw@localhost:5432/e2e_x?sslmode=disable" {
		t.Errorf("unexpected url %q", u)
	}
	if _, err := withDatabase("host=localhost", "x"); err == nil {
		t.Error("expected error for keyword/value DSN")
	}
}

type fakeDocker struct {
	containers []container.Summary
	ports      map[string]string
	removed    []string
	failRemove map[string]bool
}

func (f *fakeDocker) ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	return f.containers, nil
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	var resp container.InspectResponse
	resp.NetworkSettings = &container.NetworkSettings{}
	if p, ok := f.ports[id]; ok {
		resp.NetworkSettings.Ports = nat.PortMap{
			nat.Port("5432/tcp"): []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: p}},
		}
	}
	return resp, nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	if f.failRemove[id] {
		return errors.New("permission denied")
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func summary(id, run, suite string, age time.Duration) container.Summary {
	return container.Summary{
		ID:      id,
		Names:   []string{"/" + id},
		State:   "running",
		Created: time.Now().Add(-age).Unix(),
		Labels:  map[string]string{LabelManaged: "true", LabelRun: run, LabelSuite: suite},
	}
}

func TestJanitor_ListAndPrune(t *testing.T) {
	api := &fakeDocker{
		containers: []container.Summary{
			summary("new-current", "run-now", "dashboard", time.Minute),
			summary("old-a", "run-old", "dashboard", 3*time.Hour),
			summary("old-b", "run-old", "interview", 2*time.Hour),
			summary("recent-other", "run-other", "interview", 5*time.Minute),
		},
		ports:      map[string]string{"old-a": "55001"},
		failRemove: map[string]bool{"old-b": true},
	}
	j := &Janitor{api: api, log: logger.Nop()}

	all, err := j.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if all[0].ID != "old-a" || all[0].HostPort != "55001" || all[0].SuiteID != "dashboard" {
		t.Errorf("unexpected first leftover: %+v", all[0])
	}

	removed, err := j.Prune(context.Background(), PruneOptions{KeepRun: "run-now", OlderThan: time.Hour})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != "old-a" {
		t.Errorf("expected only old-a removed, got %+v", removed)
	}
	if strings.Join(api.removed, ",") != "old-a" {
		t.Errorf("unexpected docker removals: %v", api.removed)
	}
}

func TestJanitor_DryRun(t *testing.T) {
	api := &fakeDocker{containers: []container.Summary{summary("x", "r", "s", time.Hour)}}
	j := &Janitor{api: api, log: logger.Nop()}
	removed, err := j.Prune(context.Background(), PruneOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || len(api.removed) != 0 {
		t.Errorf("dry run should report but not remove: reported=%d removed=%d", len(removed), len(api.removed))
	}
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct{ in, want string }{
		{"e2e", "'e2e'"},
		{"o'brien", "'o''brien'"},
	}
	for _, tt := range tests {
		if got := quoteLiteral(tt.in); got != tt.want {
			t.Errorf("quoteLiteral(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
