// Package testutil is the worker-side harness for `go test` packages that
// run against an e2ekit environment.
//
// Setup (`e2ekit up` or orchestrator.Setup) leaves a hand-off file behind.
// Main reads it once per test binary, builds the resolver, the pool
// registry, the snapshot engine and the control-plane client, and checks
// for leaked isolation scopes after the tests ran:
//
//	var h *testutil.Harness
//
//	func TestMain(m *testing.M) {
//	    os.Exit(testutil.Main(m, &h))
//	}
//
//	func TestCreateParticipant(t *testing.T) {
//	    env := h.Isolate(t)
//	    _, err := env.Pool.Exec(ctx, `INSERT INTO participant ...`)
//	    ...
//	}
//
// Isolate resolves the calling test's suite from its file path, restores the
// suite's "initial" snapshot and registers a cleanup that restores it again
// when the test finishes.
package testutil
