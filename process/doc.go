// Package process supervises application server processes for test suites.
//
// A Supervisor launches one instance per suite in its own process group with
// PORT and DATABASE_URL injected, forwards its classified output to the
// suite logger, and polls its URL until any HTTP response arrives. Each
// instance moves through starting, ready, stopping, stopped or crashed, so a
// crash during startup can be told apart from a crash after the app was ready.
package process
