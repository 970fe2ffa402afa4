// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/capsulekeeper/internal/dbx"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/migrations"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/burstkeys"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/capsules"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/grantlocks"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Capsules returns a capsules.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Capsules(db dbx.DBTX) capsules.Repository {
	return capsules.NewPostgresRepository(db)
}

// BurstKeys returns a burstkeys.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) BurstKeys(db dbx.DBTX) burstkeys.Repository {
	return burstkeys.NewPostgresRepository(db)
}

// GrantLocks returns the table-backed grant lock store bound to the provided DBTX.
func (m *PostgresRepositoryManager) GrantLocks(db dbx.DBTX) grantlocks.Repository {
	return grantlocks.NewPostgresRepository(db)
}

// Audit returns an audit.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
