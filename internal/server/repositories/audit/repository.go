// Package audit declares the append-only audit trail repository.
package audit

import (
	"context"

	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
)

// Repository stores audit entries. There is no update or delete.
type Repository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	// ListByCapsule returns at most limit entries, newest first.
	ListByCapsule(ctx context.Context, capsuleID string, limit int) ([]*models.AuditEntry, error)
}
