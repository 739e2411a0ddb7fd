// Package snapshot captures and restores the row state of a suite database.
//
// A snapshot is a JSON file at <dir>/<suiteId>/<name>.json holding an array
// of {tableName, rows} objects. CreateSnapshot dumps every base table of the
// schema except the excluded authentication and migration tables.
// RestoreSnapshot truncates exactly the tables in the file and re-inserts
// their rows in a single SERIALIZABLE transaction with
// session_replication_role set to replica, so foreign keys do not dictate
// insert order. A failed restore rolls back and leaves the database as it
// was.
//
// The "initial" snapshot is the state right after seeding; isolation scopes
// return to it before and after every test.
package snapshot
