//go:build integration

package migration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/kbukum/e2ekit/logger"
)

func TestRunner_UpDownAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("e2e"),
		tcpostgres.WithUsername("e2e"),
		tcpostgres.WithPassword("e2e"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	tr := NewTracker()
	runner := NewRunner(tr, logger.Nop())
	src := Source{FS: testMigrations, Path: "migrations"}

	res, err := runner.Up(ctx, url, src)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, uint(1), res.Version)

	again, err := runner.Up(ctx, url, src)
	require.NoError(t, err)
	assert.True(t, again.Skipped)

	conn, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "INSERT INTO participant (name) VALUES ('ada')")
	require.NoError(t, err)

	require.NoError(t, runner.Down(ctx, url, src))
	_, ok := tr.Done(url)
	assert.False(t, ok)

	v, dirty, err := runner.Version(ctx, url, src)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)
}
