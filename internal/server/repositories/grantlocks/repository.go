// Package grantlocks stores the per-(accessor, capsule) lock that keeps at
// most one burst key live for a pair. Two backends exist: a PostgreSQL table
// and Redis keys with a TTL.
package grantlocks

import (
	"context"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
)

// Repository is the grant lock contract shared by both backends.
type Repository interface {
	// Acquire places l unless an unexpired lock for the same pair exists.
	// An expired lock is taken over. On contention it returns false and the
	// burst id of the current holder.
	Acquire(ctx context.Context, l models.GrantLock, now time.Time) (acquired bool, holderBurstID string, err error)

	// Release removes the lock for l's pair only if it is still held by
	// l.BurstID.
	Release(ctx context.Context, l models.GrantLock) error

	// Purge removes locks that expired at or before now and reports how many.
	Purge(ctx context.Context, now time.Time) (int64, error)
}
