// Package orchestrator runs the global setup and teardown of an
// end-to-end run.
//
// Setup provisions every suite declared in the configuration at once
// (database, migrations, seed, application), starts the control plane on a
// loopback port and writes the hand-off file workers read. Teardown undoes
// all of it and never fails.
//
//	cfg, err := orchestrator.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	run, err := orchestrator.Setup(ctx, *cfg,
//	    orchestrator.WithSeed("dashboard", seedDashboard),
//	    orchestrator.WithMigrations("dashboard", migration.Source{FS: migrationsFS, Path: "migrations"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer run.Teardown(context.Background())
//
// Suites start concurrently; the first failure cancels the others and
// everything already provisioned is cleaned up before Setup returns. When a
// control-plane restore moves a suite to a new database URL the hand-off
// file is rewritten, so workers started afterwards see the new URL.
package orchestrator
