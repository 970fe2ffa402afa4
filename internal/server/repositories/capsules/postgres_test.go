package capsules

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var capsuleColumns = []string{
	"id", "owner_id", "encrypted_content", "content_hash", "capsule_type", "metadata",
	"owner_public_key", "status", "ledger_ref", "created_at", "revoked_at",
}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Now().UTC()
	c := &models.Capsule{
		ID:               "cap_1",
		OwnerID:          "owner_1",
		EncryptedContent: []byte{0xde, 0xad},
		ContentHash:      "blake3:00",
		CapsuleType:      "medical",
		Metadata:         models.CapsuleMetadata{Title: "ICE card", Tags: []string{"ice"}},
		Status:           models.CapsuleActive,
		CreatedAt:        created,
	}

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+capsules\b.*VALUES\s*\(\$1,.*\$9\)\s*$`).
		WithArgs("cap_1", "owner_1", []byte{0xde, 0xad}, "blake3:00", "medical",
			[]byte(`{"title":"ICE card","tags":["ice"]}`), "", "active", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+capsules`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.Capsule{ID: "cap_1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Now().UTC()
	revoked := created.Add(time.Hour)
	rows := sqlmock.NewRows(capsuleColumns).
		AddRow("cap_1", "owner_1", []byte{1}, "blake3:00", "medical", []byte(`{"title":"t"}`),
			"pk", "revoked", "rcpt-1", created, revoked)

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*owner_id.*FROM\s+capsules\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("cap_1").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "cap_1")
	require.NoError(t, err)
	assert.Equal(t, "owner_1", got.OwnerID)
	assert.Equal(t, "t", got.Metadata.Title)
	assert.Equal(t, models.CapsuleRevoked, got.Status)
	assert.Equal(t, "rcpt-1", got.LedgerRef)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(revoked))
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+capsules`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetForUpdate_LocksRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(capsuleColumns).
		AddRow("cap_1", "owner_1", []byte{1}, "h", "", []byte(`{}`), "", "active", "", time.Now(), nil)
	mock.ExpectQuery(`FROM\s+capsules\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE`).WithArgs("cap_1").WillReturnRows(rows)

	got, err := repo.GetForUpdate(context.Background(), "cap_1")
	require.NoError(t, err)
	assert.True(t, got.IsActive())
	assert.Nil(t, got.RevokedAt)
}

func TestRevoke(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "active capsule", affected: 1, want: true},
		{name: "already revoked", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			at := time.Now()
			mock.ExpectExec(`(?s)UPDATE\s+capsules\s+SET\s+status\s*=\s*'revoked'.*WHERE\s+id\s*=\s*\$1\s+AND\s+status\s*=\s*'active'`).
				WithArgs("cap_1", at).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.Revoke(context.Background(), "cap_1", at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetLedgerRef(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+capsules\s+SET\s+ledger_ref`).WithArgs("cap_1", "rcpt").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+capsules\s+SET\s+ledger_ref`).WithArgs("missing", "rcpt").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetLedgerRef(context.Background(), "cap_1", "rcpt"))
	require.ErrorIs(t, repo.SetLedgerRef(context.Background(), "missing", "rcpt"), common.ErrorNotFound)
}
