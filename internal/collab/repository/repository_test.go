package repository

import (
	"context"
	"testing"
	"time"

	"coedit/internal/collab/model"
	"coedit/pkg/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestGetContent(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT body, version FROM contents WHERE content_type = \\$1 AND content_id = \\$2").
		WithArgs("note", "n1").
		WillReturnRows(sqlmock.NewRows([]string{"body", "version"}).AddRow("Hello", int64(4)))

	body, version, err := repo.GetContent(context.Background(), "note", "n1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", body)
	assert.Equal(t, int64(4), version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveContentGuardsVersion(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE contents SET body = \\$1, version = \\$2").
		WithArgs("Hello!", int64(5), "note", "n1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveContent(context.Background(), "note", "n1", "Hello!", 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessLevelOwnerIsAdmin(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT owner_id FROM contents").
		WithArgs("note", "n1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("u1"))

	level, ok, err := repo.AccessLevel(context.Background(), "note", "n1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.PermissionAdmin, level)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessLevelCollaborator(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT owner_id FROM contents").
		WithArgs("note", "n1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("someone-else"))
	mock.ExpectQuery("SELECT permission FROM content_collaborators").
		WithArgs("note", "n1", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"permission"}).AddRow("comment"))

	level, ok, err := repo.AccessLevel(context.Background(), "note", "n1", "u2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.PermissionComment, level)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccessLevelStrangerHasNone(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT owner_id FROM contents").
		WithArgs("note", "n1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("someone-else"))
	mock.ExpectQuery("SELECT permission FROM content_collaborators").
		WithArgs("note", "n1", "stranger").
		WillReturnRows(sqlmock.NewRows([]string{"permission"}))

	_, ok, err := repo.AccessLevel(context.Background(), "note", "n1", "stranger")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSessionUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	sess := model.Session{
		Token:             "tok-1",
		ContentType:       "note",
		ContentID:         "n1",
		CreatedBy:         "u1",
		Status:            model.SessionActive,
		DefaultPermission: model.PermissionEdit,
		MaxParticipants:   8,
		CreatedAt:         now,
		StartedAt:         now,
		LastActivityAt:    now,
		Snapshot:          model.Snapshot{Content: "Hello", Version: 2},
		AutoSave:          true,
		AutoSaveInterval:  10 * time.Second,
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("tok-1", "note", "n1", "u1", "active", "edit",
			8, now, now, nil, now, int64(2), true, int64(10000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.SaveSession(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendOperation(t *testing.T) {
	repo, mock := newMockRepo(t)

	applied := time.Now()
	op := model.Operation{
		SessionToken: "tok-1",
		Seq:          7,
		UserID:       "u1",
		ClientOpID:   "op-7",
		Kind:         model.OpInsert,
		Start:        3,
		End:          3,
		Text:         "hi",
		BaseVersion:  6,
		Status:       model.OpApplied,
		AppliedAt:    applied,
	}

	mock.ExpectExec("INSERT INTO operations").
		WithArgs("tok-1", int64(7), "u1", "op-7", "insert", "",
			3, 3, "hi", 0, "", int64(6), "applied", false, "", applied).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.AppendOperation(context.Background(), op))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationsSince(t *testing.T) {
	repo, mock := newMockRepo(t)

	applied := time.Now()
	rows := sqlmock.NewRows([]string{
		"seq", "user_id", "client_op_id", "kind", "content_path", "start_pos", "end_pos",
		"text", "length", "replacement", "base_version", "status", "has_conflict", "resolution", "applied_at",
	}).
		AddRow(int64(2), "u1", "op-2", "insert", "", 1, 1, "x", 0, "", int64(1), "applied", false, "", applied).
		AddRow(int64(3), "u2", "op-3", "delete", "", 0, 2, "", 2, "", int64(2), "applied", false, "", applied)

	mock.ExpectQuery("SELECT seq, user_id, client_op_id, kind").
		WithArgs("tok-1", int64(1)).
		WillReturnRows(rows)

	ops, err := repo.OperationsSince(context.Background(), "tok-1", 1)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, model.OpInsert, ops[0].Kind)
	assert.Equal(t, int64(3), ops[1].Seq)
	assert.Equal(t, "tok-1", ops[1].SessionToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddComment(t *testing.T) {
	repo, mock := newMockRepo(t)

	created := time.Now()
	comment := model.Comment{
		ID:           "c-1",
		SessionToken: "tok-1",
		UserID:       "u2",
		Content:      "typo here",
		Position:     12,
		CreatedAt:    created,
	}

	mock.ExpectExec("INSERT INTO comments").
		WithArgs("c-1", "tok-1", "u2", "typo here", "", 12, created).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.AddComment(context.Background(), comment))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionsByUser(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"token", "content_type", "content_id", "created_by", "status", "last_activity_at", "version"}).
		AddRow("tok-2", "note", "n2", "u1", "active", now, int64(9)).
		AddRow("tok-1", "note", "n1", "u9", "ended", now.Add(-time.Hour), int64(3))

	mock.ExpectQuery("SELECT token, content_type, content_id, created_by, status, last_activity_at, version").
		WithArgs("u1").
		WillReturnRows(rows)

	sessions, err := repo.SessionsByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "tok-2", sessions[0].Token)
	assert.Equal(t, model.SessionEnded, sessions[1].Status)
	assert.Equal(t, int64(9), sessions[0].Snapshot.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
