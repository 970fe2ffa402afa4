package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+audit_entries\b.*VALUES\s*\(\$1,.*\$8\)\s*$`).
		WithArgs("a1", "duplicate-blocked", "cap_1", "medic_joe", "", "burst_1", "active burst key exists", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepository(db)
	err = repo.Append(context.Background(), &models.AuditEntry{
		ID:                 "a1",
		Kind:               models.AuditDuplicateBlocked,
		CapsuleID:          "cap_1",
		AccessorID:         "medic_joe",
		ConflictingBurstID: "burst_1",
		Reason:             "active burst key exists",
		CreatedAt:          at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_DBError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+audit_entries`).WillReturnError(errors.New("boom"))

	err = NewPostgresRepository(db).Append(context.Background(), &models.AuditEntry{ID: "a1"})
	require.ErrorContains(t, err, "boom")
}

func TestListByCapsule(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	t0 := t1.Add(-time.Minute)
	rows := sqlmock.NewRows([]string{"id", "kind", "capsule_id", "accessor_id", "burst_id", "conflicting_burst_id", "reason", "created_at"}).
		AddRow("a2", "access-consumed", "cap_1", "medic_joe", "burst_1", "", "burst key consumed", t1).
		AddRow("a1", "access-granted-full", "cap_1", "medic_joe", "burst_1", "", "burst key issued", t0)

	mock.ExpectQuery(`(?s)FROM\s+audit_entries\s+WHERE\s+capsule_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at\s+DESC.*LIMIT\s+\$2`).
		WithArgs("cap_1", 50).
		WillReturnRows(rows)

	got, err := NewPostgresRepository(db).ListByCapsule(context.Background(), "cap_1", 50)
	require.NoError(t, err)

	want := []*models.AuditEntry{
		{ID: "a2", Kind: models.AuditAccessConsumed, CapsuleID: "cap_1", AccessorID: "medic_joe", BurstID: "burst_1", Reason: "burst key consumed", CreatedAt: t1},
		{ID: "a1", Kind: models.AuditAccessGrantedFull, CapsuleID: "cap_1", AccessorID: "medic_joe", BurstID: "burst_1", Reason: "burst key issued", CreatedAt: t0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListByCapsule mismatch (-want +got):\n%s", diff)
	}
}

func TestListByCapsule_ScanError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id"}).AddRow("a1")
	mock.ExpectQuery(`FROM\s+audit_entries`).WillReturnRows(rows)

	_, err = NewPostgresRepository(db).ListByCapsule(context.Background(), "cap_1", 10)
	require.Error(t, err)
}
