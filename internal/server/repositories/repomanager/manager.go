package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/capsulekeeper/internal/dbx"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/burstkeys"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/capsules"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/grantlocks"
)

// RepositoryManager vends repositories bound to a DBTX so services can run
// them either directly on the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Capsules(db dbx.DBTX) capsules.Repository
	BurstKeys(db dbx.DBTX) burstkeys.Repository
	GrantLocks(db dbx.DBTX) grantlocks.Repository
	Audit(db dbx.DBTX) audit.Repository
}
