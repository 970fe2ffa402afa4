package grantlocks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/dbx"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
)

// PostgresRepository keeps grant locks in the grant_locks table, whose primary
// key is the (accessor_id, capsule_id) pair.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Acquire(ctx context.Context, l models.GrantLock, now time.Time) (bool, string, error) {
	insert := `
		INSERT INTO grant_locks (accessor_id, capsule_id, burst_id, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, insert, l.AccessorID, l.CapsuleID, l.BurstID, l.ExpiresAt)
	if err == nil {
		return true, "", nil
	}
	if !dbx.IsUniqueViolation(err) {
		return false, "", fmt.Errorf("db error: %w", err)
	}

	// the pair is locked; take it over only if the holder has expired
	takeover := `
		UPDATE grant_locks SET burst_id = $3, expires_at = $4
		WHERE accessor_id = $1 AND capsule_id = $2 AND expires_at <= $5
	`
	res, err := r.db.ExecContext(ctx, takeover, l.AccessorID, l.CapsuleID, l.BurstID, l.ExpiresAt, now)
	if err != nil {
		return false, "", fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return true, "", nil
	}

	holder, err := r.holder(ctx, l.AccessorID, l.CapsuleID)
	if err != nil {
		return false, "", err
	}
	return false, holder, nil
}

func (r *PostgresRepository) holder(ctx context.Context, accessorID, capsuleID string) (string, error) {
	query := `SELECT burst_id FROM grant_locks WHERE accessor_id = $1 AND capsule_id = $2`

	var burstID string
	err := r.db.QueryRowContext(ctx, query, accessorID, capsuleID).Scan(&burstID)
	if err != nil {
		// released between our insert and this read
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return burstID, nil
}

func (r *PostgresRepository) Release(ctx context.Context, l models.GrantLock) error {
	query := `DELETE FROM grant_locks WHERE accessor_id = $1 AND capsule_id = $2 AND burst_id = $3`
	if _, err := r.db.ExecContext(ctx, query, l.AccessorID, l.CapsuleID, l.BurstID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM grant_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
