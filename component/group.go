package component

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is a Component made of independent members that start and stop
// concurrently. If any member fails to start, the members that did start are
// stopped again before Start returns.
type Group struct {
	name    string
	members []Component

	mu      sync.Mutex
	started []Component
}

// NewGroup creates a group component.
func NewGroup(name string, members ...Component) *Group {
	return &Group{name: name, members: members}
}

// Name implements Component.
func (g *Group) Name() string { return g.name }

// Members returns the group members in the order they were given.
func (g *Group) Members() []Component { return g.members }

// Start implements Component.
func (g *Group) Start(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, m := range g.members {
		eg.Go(func() error {
			if err := m.Start(egCtx); err != nil {
				return fmt.Errorf("%s: %w", m.Name(), err)
			}
			g.mu.Lock()
			g.started = append(g.started, m)
			g.mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		// ctx may already be cancelled; teardown still has to run
		_ = g.Stop(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

// Stop implements Component. Every started member is stopped; failures are joined.
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	started := g.started
	g.started = nil
	g.mu.Unlock()

	errs := make([]error, len(started))
	var wg sync.WaitGroup
	for i, m := range started {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Stop(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", m.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Health implements Component. The group is degraded if some members are
// unhealthy and unhealthy if all of them are.
func (g *Group) Health(ctx context.Context) Health {
	unhealthy := 0
	var msgs []string
	for _, m := range g.members {
		h := m.Health(ctx)
		if h.Status != StatusHealthy {
			unhealthy++
			msgs = append(msgs, fmt.Sprintf("%s: %s", h.Name, h.Message))
		}
	}
	h := Health{Name: g.name, Status: StatusHealthy}
	switch {
	case len(g.members) > 0 && unhealthy == len(g.members):
		h.Status = StatusUnhealthy
	case unhealthy > 0:
		h.Status = StatusDegraded
	}
	if len(msgs) > 0 {
		h.Message = fmt.Sprint(msgs)
	}
	return h
}
