// Package dbcontainer provides the suite database: a fresh Postgres per suite
// with whole-database checkpoints.
//
// Two providers implement the same Instance contract:
//
//   - Postgres runs one testcontainers Postgres container per suite and uses
//     the module's template-database Snapshot/Restore.
//   - Template creates one database per suite on an existing server and
//     keeps checkpoints as template databases.
//
// Containers carry dev.e2ekit.* labels. A Janitor lists and removes the ones
// a crashed run left behind.
package dbcontainer
