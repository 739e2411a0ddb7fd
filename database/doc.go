// Package database provides the GORM client handed to seed callbacks.
//
// A suite database is opened with Open, which retries the initial connect
// because containers often accept TCP before Postgres is ready:
//
//	db, err := database.Open(ctx, database.Config{URL: suite.DatabaseURL}, log)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.WithTransaction(ctx, func(tx *gorm.DB) error {
//	    return tx.Exec(`INSERT INTO participant (name) VALUES (?)`, "ada").Error
//	})
//
// # Subpackages
//
//   - migration: file-based migrations using golang-migrate, with a per-URL tracker
//   - fixtures: table fixtures and SQL seed files for seeding suites
package database
