//go:build integration

package dbcontainer

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/e2ekit/logger"
)

func TestPostgres_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	p := NewPostgres(Config{Image: "postgres:16-alpine", Database: "e2e", Username: "e2e", Password: "e2e", StartupTimeout: 2 * time.Minute}, "itest", logger.Nop())

	inst, err := p.Start(ctx, "dashboard")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() { _ = inst.Terminate(context.Background()) })

	exec := func(url, sql string) {
		conn, err := pgx.Connect(ctx, url)
		require.NoError(t, err)
		defer conn.Close(ctx)
		_, err = conn.Exec(ctx, sql)
		require.NoError(t, err)
	}
	count := func(url string) (n int) {
		conn, err := pgx.Connect(ctx, url)
		require.NoError(t, err)
		defer conn.Close(ctx)
		require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM participant").Scan(&n))
		return n
	}

	url, err := inst.ConnectionString(ctx)
	require.NoError(t, err)
	exec(url, "CREATE TABLE participant (id INT); INSERT INTO participant VALUES (1)")

	idle, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	defer idle.Close(ctx)

	require.NoError(t, inst.Snapshot(ctx, "seeded"), "open sessions must not block the checkpoint")
	exec(url, "INSERT INTO participant VALUES (2)")

	newURL, err := inst.Restore(ctx, "seeded")
	require.NoError(t, err)
	assert.Equal(t, 1, count(newURL))
}
