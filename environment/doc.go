// Package environment owns the suites of an end-to-end run.
//
// An Environment provisions exactly one suite: a database from a
// dbcontainer.Provider, schema migrations, a caller-supplied seed callback,
// a port, and an application process. A Registry indexes environments by
// suite id for the control plane and the snapshot engine.
//
//	env, err := environment.New(environment.Definition{
//	    SuiteID:    "dashboard",
//	    Migrations: &migration.Source{FS: migrationsFS, Path: "migrations"},
//	    Seed:       seedDashboard,
//	}, deps)
//	suite, err := env.Initialise(ctx)
//	defer env.Cleanup(context.Background())
//
// Container-level snapshot and restore stop the application first and
// restart it afterwards, holding a per-suite lock so no caller observes an
// application mid-swap.
package environment
