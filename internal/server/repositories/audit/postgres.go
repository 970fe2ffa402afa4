package audit

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/capsulekeeper/internal/dbx"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (id, kind, capsule_id, accessor_id, burst_id, conflicting_burst_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, string(e.Kind), e.CapsuleID, e.AccessorID, e.BurstID, e.ConflictingBurstID, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByCapsule(ctx context.Context, capsuleID string, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, kind, capsule_id, accessor_id, burst_id, conflicting_burst_id, reason, created_at
		FROM audit_entries
		WHERE capsule_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, capsuleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit entries: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEntry
	for rows.Next() {
		var (
			e    models.AuditEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.CapsuleID, &e.AccessorID, &e.BurstID, &e.ConflictingBurstID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Kind = models.AuditKind(kind)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
