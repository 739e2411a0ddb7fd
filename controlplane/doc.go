// Package controlplane exposes per-suite environment operations over HTTP so
// that test workers running in other processes can snapshot, restore, and
// restart a suite's application.
//
// The server binds to loopback only. Routes:
//
//	POST /snapshot/:suiteId/:name
//	POST /restore/:suiteId/:name
//	POST /clear-cache/:suiteId
//	GET  /health
//	GET  /suites
//	GET  /metrics
//
// Errors are JSON bodies of the form {"error": "...", "code": "..."}. Client
// is the typed counterpart used by workers.
package controlplane
