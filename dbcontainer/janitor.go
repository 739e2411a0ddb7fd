package dbcontainer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/kbukum/e2ekit/logger"
)

// dockerAPI is the part of the Docker client the janitor uses.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Leftover describes a database container created by a previous run.
type Leftover struct {
	ID      string
	Name    string
	RunID   string
	SuiteID string
	State   string
	Created time.Time
	// HostPort is the host port bound to 5432/tcp, if any.
	HostPort string
}

// Janitor finds and removes database containers left behind by runs that
// crashed before their teardown.
type Janitor struct {
	api dockerAPI
	log *logger.Logger
}

// NewJanitor connects to the Docker daemon. An empty host uses DOCKER_HOST.
func NewJanitor(host string, log *logger.Logger) (*Janitor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}
	if log == nil {
		log = logger.Get(logger.ComponentContainer)
	}
	return &Janitor{api: cli, log: log}, nil
}

// List returns managed containers, oldest first.
func (j *Janitor) List(ctx context.Context) ([]Leftover, error) {
	f := filters.NewArgs()
	f.Add("label", LabelManaged+"=true")

	containers, err := j.api.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("docker: list containers: %w", err)
	}

	out := make([]Leftover, 0, len(containers))
	for _, c := range containers {
		l := Leftover{
			ID:      c.ID,
			RunID:   c.Labels[LabelRun],
			SuiteID: c.Labels[LabelSuite],
			State:   c.State,
			Created: time.Unix(c.Created, 0),
		}
		if len(c.Names) > 0 {
			l.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		l.HostPort = j.hostPort(ctx, c.ID)
		out = append(out, l)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Created.Before(out[b].Created) })
	return out, nil
}

func (j *Janitor) hostPort(ctx context.Context, id string) string {
	info, err := j.api.ContainerInspect(ctx, id)
	if err != nil || info.NetworkSettings == nil {
		return ""
	}
	bindings := info.NetworkSettings.Ports[nat.Port("5432/tcp")]
	if len(bindings) == 0 {
		return ""
	}
	return bindings[0].HostPort
}

// PruneOptions selects which leftovers to remove.
type PruneOptions struct {
	// KeepRun is a run id whose containers are never removed (the current run).
	KeepRun string
	// OlderThan skips containers younger than this. Zero removes all.
	OlderThan time.Duration
	// DryRun lists what would be removed without removing it.
	DryRun bool
}

// Prune removes leftovers matching opts and returns the ones it removed (or
// would remove, for a dry run). Removal failures are logged and skipped.
func (j *Janitor) Prune(ctx context.Context, opts PruneOptions) ([]Leftover, error) {
	all, err := j.List(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-opts.OlderThan)
	var removed []Leftover
	for _, l := range all {
		if opts.KeepRun != "" && l.RunID == opts.KeepRun {
			continue
		}
		if opts.OlderThan > 0 && l.Created.After(cutoff) {
			continue
		}
		if !opts.DryRun {
			err := j.api.ContainerRemove(ctx, l.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
			if err != nil && !client.IsErrNotFound(err) {
				j.log.Warn("failed to remove leftover container", logger.Fields(
					logger.FieldContainerID, shortID(l.ID), logger.FieldError, err.Error()))
				continue
			}
		}
		j.log.Info("removed leftover container", logger.Fields(
			logger.FieldContainerID, shortID(l.ID), logger.FieldSuiteID, l.SuiteID, "run_id", l.RunID, "dry_run", opts.DryRun))
		removed = append(removed, l)
	}
	return removed, nil
}

// Close releases the Docker client.
func (j *Janitor) Close() error {
	return j.api.Close()
}
