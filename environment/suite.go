package environment

import (
	"context"

	"github.com/kbukum/e2ekit/database"
	"github.com/kbukum/e2ekit/database/fixtures"
	"github.com/kbukum/e2ekit/database/migration"
	"github.com/kbukum/e2ekit/logger"
)

// Suite is the externally visible state of one environment.
type Suite struct {
	SuiteID     string                 `json:"suiteId" validate:"required,ident"`
	AppURL      string                 `json:"appUrl"`
	DatabaseURL string                 `json:"databaseUrl" validate:"required"`
	Port        int                    `json:"port,omitempty"`
	DatabaseID  string                 `json:"databaseId,omitempty"`
	TestData    map[string]interface{} `json:"testData,omitempty"`
}

// SeedContext is handed to a SeedFunc.
type SeedContext struct {
	SuiteID  string
	DB       *database.DB
	Fixtures *fixtures.Loader
	Log      *logger.Logger
}

// SeedFunc populates a freshly migrated database. The returned map is
// published to workers as the suite's test data.
type SeedFunc func(ctx context.Context, seed SeedContext) (map[string]interface{}, error)

// Definition describes one suite.
type Definition struct {
	SuiteID string `validate:"required,ident"`
	// Migrations is applied before seeding. Nil skips migrations.
	Migrations *migration.Source
	// SeedFiles are SQL files run in order before Seed.
	SeedFiles []string
	Seed      SeedFunc
	// Env holds extra KEY=VALUE pairs for this suite's application.
	Env []string
	// NoApp provisions the database only.
	NoApp bool
	// Checkpoint, when set, names a container-level checkpoint taken right
	// after seeding.
	Checkpoint string
}
