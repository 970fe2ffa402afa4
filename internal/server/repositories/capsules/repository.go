// Package capsules declares the repository contract for capsule records and
// its PostgreSQL implementation.
package capsules

import (
	"context"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
)

// Repository persists capsules.
type Repository interface {
	// Create inserts a new capsule. The caller assigns the ID.
	Create(ctx context.Context, c *models.Capsule) error

	// Get returns a capsule by id or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.Capsule, error)

	// GetForUpdate is Get with a row lock; only meaningful inside a transaction.
	GetForUpdate(ctx context.Context, id string) (*models.Capsule, error)

	// Revoke flips an active capsule to revoked. It reports false when the
	// capsule was already revoked.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)

	// SetLedgerRef attaches the external ledger receipt to a capsule.
	SetLedgerRef(ctx context.Context, id string, ref string) error
}
