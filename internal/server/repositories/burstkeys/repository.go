// Package burstkeys declares the repository contract for burst keys and its
// PostgreSQL implementation.
package burstkeys

import (
	"context"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
)

// Repository persists burst keys. Status is never stored; callers derive it
// with models.BurstKey.StatusAt.
type Repository interface {
	// Create stores a freshly issued key.
	Create(ctx context.Context, k *models.BurstKey) error

	// GetBySecretHash looks a key up by the digest of its bearer secret.
	// Implementations return common.ErrorNotFound when absent.
	GetBySecretHash(ctx context.Context, secretHash string) (*models.BurstKey, error)

	// ListForPair returns every key ever issued to accessorID for capsuleID.
	ListForPair(ctx context.Context, accessorID, capsuleID string) ([]*models.BurstKey, error)

	// MarkConsumed sets consumed_at on a key that is neither consumed nor
	// expired at `at`, as one conditional write. It reports whether this call
	// performed the transition.
	MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error)

	// CountExpiredBetween counts unconsumed keys whose expiry fell in (from, to].
	CountExpiredBetween(ctx context.Context, from, to time.Time) (int64, error)
}
