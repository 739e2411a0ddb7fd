package controlplane

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/e2ekit/component"
	"github.com/kbukum/e2ekit/controlplane/client"
	"github.com/kbukum/e2ekit/environment"
	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/logger"
	"github.com/kbukum/e2ekit/observability"
	"github.com/kbukum/e2ekit/validation"
	"github.com/kbukum/e2ekit/version"
)

var arity = map[string]string{
	client.ActionSnapshot:   "/snapshot/:suiteId/:name",
	client.ActionRestore:    "/restore/:suiteId/:name",
	client.ActionClearCache: "/clear-cache/:suiteId",
}

// run looks up the suite and executes fn inside a traced operation.
func (s *Server) run(c *gin.Context, action string, fn func(ctx context.Context, suite Suite) error) bool {
	suiteID := c.Param("suiteId")
	suite, err := s.suites.Lookup(suiteID)
	if err != nil {
		respondWithError(c, err)
		return false
	}
	if name, ok := c.Params.Get("name"); ok && !validation.IsIdent(name) {
		respondWithError(c, errors.InvalidInput("name", "must be a simple identifier"))
		return false
	}

	ctx, op := observability.StartOperation(c.Request.Context(), observability.SpanControlPlane, logger.ComponentControlPlane, action, suiteID, s.telemetry)
	err = op.End(ctx, fn(ctx, suite))

	log := s.log.WithContext(ctx).WithSuite(suiteID)
	fields := logger.MergeWithDuration(logger.Fields(logger.FieldOperation, action, logger.FieldSnapshot, c.Param("name")), op.Duration())
	if err != nil {
		log.Error("Control plane operation failed", logger.MergeWithError(fields, err))
		respondWithError(c, err)
		return false
	}
	log.Info("Control plane operation completed", fields)
	return true
}

func (s *Server) handleSnapshot(c *gin.Context) {
	name := c.Param("name")
	ok := s.run(c, client.ActionSnapshot, func(ctx context.Context, suite Suite) error {
		return suite.CreateSnapshot(ctx, name)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, client.SnapshotResponse{
		Success: true,
		Action:  client.ActionSnapshot,
		SuiteID: c.Param("suiteId"),
		Name:    name,
	})
}

func (s *Server) handleRestore(c *gin.Context) {
	name := c.Param("name")
	var out environment.Suite
	ok := s.run(c, client.ActionRestore, func(ctx context.Context, suite Suite) error {
		before := suite.Suite()
		after, err := suite.RestoreSnapshot(ctx, name)
		if err != nil {
			return err
		}
		out = after
		if before.DatabaseURL != after.DatabaseURL || before.AppURL != after.AppURL {
			return s.notify(after)
		}
		return nil
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, client.RestoreResponse{
		Success:     true,
		Action:      client.ActionRestore,
		SuiteID:     out.SuiteID,
		Name:        name,
		AppURL:      out.AppURL,
		DatabaseURL: out.DatabaseURL,
	})
}

func (s *Server) handleClearCache(c *gin.Context) {
	var out environment.Suite
	ok := s.run(c, client.ActionClearCache, func(ctx context.Context, suite Suite) error {
		before := suite.Suite()
		after, err := suite.ClearCache(ctx)
		if err != nil {
			return err
		}
		out = after
		if before.AppURL != after.AppURL {
			return s.notify(after)
		}
		return nil
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, client.ClearCacheResponse{
		Success: true,
		Action:  client.ActionClearCache,
		SuiteID: out.SuiteID,
		AppURL:  out.AppURL,
	})
}

func (s *Server) notify(suite environment.Suite) error {
	if s.onChange == nil {
		return nil
	}
	if err := s.onChange(suite); err != nil {
		return errors.Internal(err).WithDetail("suite_id", suite.SuiteID)
	}
	return nil
}

func (s *Server) handleSuites(c *gin.Context) {
	resp := client.SuitesResponse{Suites: []client.SuiteInfo{}}
	for _, id := range s.suites.IDs() {
		suite, err := s.suites.Lookup(id)
		if err != nil {
			continue
		}
		st := suite.Suite()
		resp.Suites = append(resp.Suites, client.SuiteInfo{SuiteID: id, AppURL: st.AppURL, DatabaseURL: st.DatabaseURL})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	build := version.Get()
	status := component.StatusHealthy
	components := []component.Health{}
	for _, id := range s.suites.IDs() {
		suite, err := s.suites.Lookup(id)
		if err != nil {
			continue
		}
		h := suite.Health(ctx)
		components = append(components, h)
		switch {
		case h.Status == component.StatusUnhealthy:
			status = component.StatusUnhealthy
		case h.Status == component.StatusDegraded && status != component.StatusUnhealthy:
			status = component.StatusDegraded
		}
	}

	httpStatus := http.StatusOK
	if status == component.StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":     status,
		"service":    "e2ekit",
		"version":    build.Short(),
		"build":      build,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"components": components,
	})
}

// handleNoRoute answers unknown actions and known actions with the wrong
// number of path segments.
func (s *Server) handleNoRoute(c *gin.Context) {
	parts := strings.Split(strings.Trim(c.Request.URL.Path, "/"), "/")
	action := parts[0]
	if route, ok := arity[action]; ok {
		respondWithError(c, errors.New(errors.ErrCodeInvalidAction,
			"expected POST "+route, http.StatusBadRequest).WithDetail("action", action))
		return
	}
	respondWithError(c, errors.InvalidAction(action))
}

func (s *Server) handleNoMethod(c *gin.Context) {
	respondWithError(c, errors.New(errors.ErrCodeInvalidAction,
		c.Request.Method+" is not supported for "+c.Request.URL.Path, http.StatusMethodNotAllowed))
}
