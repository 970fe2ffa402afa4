package capsules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/dbx"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
)

const selectColumns = `id, owner_id, encrypted_content, content_hash, capsule_type, metadata,
		owner_public_key, status, ledger_ref, created_at, revoked_at`

// PostgresRepository implements Repository over dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Capsule) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := `
		INSERT INTO capsules (id, owner_id, encrypted_content, content_hash, capsule_type, metadata, owner_public_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.EncryptedContent, c.ContentHash, c.CapsuleType, meta, c.OwnerPublicKey, string(c.Status), c.CreatedAt,
	); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Capsule, error) {
	query := `SELECT ` + selectColumns + ` FROM capsules WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Capsule, error) {
	query := `SELECT ` + selectColumns + ` FROM capsules WHERE id = $1 FOR UPDATE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE capsules SET status = 'revoked', revoked_at = $2
		WHERE id = $1 AND status = 'active'
	`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) SetLedgerRef(ctx context.Context, id string, ref string) error {
	query := `UPDATE capsules SET ledger_ref = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, ref)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Capsule, error) {
	var (
		c       models.Capsule
		meta    []byte
		status  string
		revoked sql.NullTime
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.EncryptedContent, &c.ContentHash, &c.CapsuleType, &meta,
		&c.OwnerPublicKey, &status, &c.LedgerRef, &c.CreatedAt, &revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	c.Status = models.CapsuleStatus(status)
	if revoked.Valid {
		t := revoked.Time
		c.RevokedAt = &t
	}
	return &c, nil
}
