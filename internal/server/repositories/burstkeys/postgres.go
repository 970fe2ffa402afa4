package burstkeys

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

const selectColumns = `id, secret_hash, capsule_id, accessor_id, accessor_pub_key, context,
		issued_at, expires_at, consumed_at`

// PostgresRepository implements Repository over dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, k *models.BurstKey) error {
	ctxJSON, err := encodeContext(k.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO burst_keys (id, secret_hash, capsule_id, accessor_id, accessor_pub_key, context, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.db.ExecContext(ctx, query,
		k.ID, k.SecretHash, k.CapsuleID, k.AccessorID, k.AccessorPubKey, ctxJSON, k.IssuedAt, k.ExpiresAt,
	); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetBySecretHash(ctx context.Context, secretHash string) (*models.BurstKey, error) {
	query := `SELECT ` + selectColumns + ` FROM burst_keys WHERE secret_hash = $1`

	k, err := scanKey(r.db.QueryRowContext(ctx, query, secretHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return k, nil
}

func (r *PostgresRepository) ListForPair(ctx context.Context, accessorID, capsuleID string) ([]*models.BurstKey, error) {
	query := `SELECT ` + selectColumns + ` FROM burst_keys
		WHERE accessor_id = $1 AND capsule_id = $2
		ORDER BY issued_at DESC`

	rows, err := r.db.QueryContext(ctx, query, accessorID, capsuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to select burst keys: %w", err)
	}
	defer rows.Close()

	var result []*models.BurstKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE burst_keys SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2
	`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) CountExpiredBetween(ctx context.Context, from, to time.Time) (int64, error) {
	query := `
		SELECT count(*) FROM burst_keys
		WHERE consumed_at IS NULL AND expires_at > $1 AND expires_at <= $2
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(s scanner) (*models.BurstKey, error) {
	var (
		k        models.BurstKey
		ctxJSON  []byte
		consumed sql.NullTime
	)
	err := s.Scan(&k.ID, &k.SecretHash, &k.CapsuleID, &k.AccessorID, &k.AccessorPubKey, &ctxJSON,
		&k.IssuedAt, &k.ExpiresAt, &consumed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &k.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if consumed.Valid {
		t := consumed.Time
		k.ConsumedAt = &t
	}
	return &k, nil
}

func encodeContext(c map[string]any) ([]byte, error) {
	if c == nil {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return b, nil
}
