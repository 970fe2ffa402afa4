package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/repomanager"
)

// AuditService is the append-only audit trail. Record never fails the caller.
type AuditService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	maxLimit    int
	logger      logging.Logger
	now         func() time.Time
}

func NewAuditService(db *sql.DB, m repomanager.RepositoryManager, maxLimit int, logger logging.Logger) *AuditService {
	if maxLimit < 1 {
		maxLimit = 100
	}
	return &AuditService{
		db:          db,
		repomanager: m,
		maxLimit:    maxLimit,
		logger:      logger,
		now:         time.Now,
	}
}

// Record appends e, filling in ID and CreatedAt when unset. A failed write is
// logged and dropped. The write outlives cancellation of ctx.
func (s *AuditService) Record(ctx context.Context, e *models.AuditEntry) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.repomanager.Audit(s.db).Append(ctx, e); err != nil {
		s.logger.Warn(ctx, "audit write failed",
			"kind", string(e.Kind),
			"capsule_id", e.CapsuleID,
			"accessor_id", e.AccessorID,
			"error", err,
		)
	}
}

// Query returns the newest entries for capsuleID first. limit is clamped to
// (0, maxLimit]; a non-positive limit means maxLimit.
func (s *AuditService) Query(ctx context.Context, capsuleID string, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 || limit > s.maxLimit {
		limit = s.maxLimit
	}

	entries, err := s.repomanager.Audit(s.db).ListByCapsule(ctx, capsuleID, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	return entries, nil
}
