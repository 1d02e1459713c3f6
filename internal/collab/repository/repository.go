package repository

import (
	"context"
	"database/sql"
	"time"

	"coedit/internal/collab/model"
	"coedit/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the engine's persistence collaborator: the authoritative
// content store plus the append-only session/operation/event history used
// for replay and audit. Operations and events are only ever inserted;
// sessions, participants, and cursor states are upserted.
type Repository struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{DB: db}
}

// GetContent reads the authoritative body and version for a content item.
func (r *Repository) GetContent(ctx context.Context, contentType, contentID string) (string, int64, error) {
	var body string
	var version int64
	err := r.DB.QueryRowContext(ctx,
		"SELECT body, version FROM contents WHERE content_type = $1 AND content_id = $2",
		contentType, contentID).Scan(&body, &version)
	if err != nil {
		logger.Sugar.Errorf("Failed to load content %s/%s: %v", contentType, contentID, err)
		return "", 0, err
	}
	return body, version, nil
}

// SaveContent writes a snapshot back to the content store. The version
// guard keeps a late save from clobbering a newer one.
func (r *Repository) SaveContent(ctx context.Context, contentType, contentID, content string, version int64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE contents SET body = $1, version = $2, updated_at = NOW()
		 WHERE content_type = $3 AND content_id = $4 AND version <= $2`,
		content, version, contentType, contentID)
	if err != nil {
		logger.Sugar.Errorf("Failed to save content %s/%s at version %d: %v", contentType, contentID, version, err)
	}
	return err
}

// AccessLevel answers what permission a user holds on a content item:
// owners are admins, collaborators carry their granted level, everyone
// else has no access.
func (r *Repository) AccessLevel(ctx context.Context, contentType, contentID, userID string) (model.Permission, bool, error) {
	var ownerID string
	err := r.DB.QueryRowContext(ctx,
		"SELECT owner_id FROM contents WHERE content_type = $1 AND content_id = $2",
		contentType, contentID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return model.PermissionView, false, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to check owner for %s/%s: %v", contentType, contentID, err)
		return model.PermissionView, false, err
	}
	if ownerID == userID {
		return model.PermissionAdmin, true, nil
	}

	var level string
	err = r.DB.QueryRowContext(ctx,
		`SELECT permission FROM content_collaborators
		 WHERE content_type = $1 AND content_id = $2 AND user_id = $3`,
		contentType, contentID, userID).Scan(&level)
	if err == sql.ErrNoRows {
		return model.PermissionView, false, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to check collaborator %s on %s/%s: %v", userID, contentType, contentID, err)
		return model.PermissionView, false, err
	}
	return model.ParsePermission(level), true, nil
}

func (r *Repository) SaveSession(ctx context.Context, s model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions (token, content_type, content_id, created_by, status, default_permission,
		                       max_participants, created_at, started_at, ended_at, last_activity_at,
		                       version, auto_save, auto_save_interval_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (token) DO UPDATE SET
		   status = $5, ended_at = $10, last_activity_at = $11, version = $12`,
		s.Token, s.ContentType, s.ContentID, s.CreatedBy, string(s.Status), s.DefaultPermission.String(),
		s.MaxParticipants, s.CreatedAt, s.StartedAt, s.EndedAt, s.LastActivityAt,
		s.Snapshot.Version, s.AutoSave, s.AutoSaveInterval.Milliseconds())
	if err != nil {
		logger.Sugar.Errorf("Failed to save session %s: %v", s.Token, err)
	}
	return err
}

func (r *Repository) SaveParticipant(ctx context.Context, token string, p model.Participant) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO participants (session_token, user_id, name, color, permission, status,
		                           joined_at, left_at, last_seen_at, edits, comments, cursor_moves)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (session_token, user_id) DO UPDATE SET
		   permission = $5, status = $6, left_at = $8, last_seen_at = $9,
		   edits = $10, comments = $11, cursor_moves = $12`,
		token, p.UserID, p.Name, p.Color, p.Permission.String(), string(p.Status),
		p.JoinedAt, p.LeftAt, p.LastSeenAt, p.Edits, p.Comments, p.CursorMoves)
	if err != nil {
		logger.Sugar.Errorf("Failed to save participant %s in session %s: %v", p.UserID, token, err)
	}
	return err
}

func (r *Repository) AppendOperation(ctx context.Context, op model.Operation) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO operations (session_token, seq, user_id, client_op_id, kind, content_path,
		                         start_pos, end_pos, text, length, replacement, base_version,
		                         status, has_conflict, resolution, applied_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		op.SessionToken, op.Seq, op.UserID, op.ClientOpID, string(op.Kind), op.Path,
		op.Start, op.End, op.Text, op.Length, op.Replacement, op.BaseVersion,
		string(op.Status), op.HasConflict, op.Resolution, op.AppliedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to append operation %d for session %s: %v", op.Seq, op.SessionToken, err)
	}
	return err
}

// OperationsSince reads back persisted history, used for replay and audit,
// never on the edit hot path.
func (r *Repository) OperationsSince(ctx context.Context, token string, fromSeq int64) ([]model.Operation, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT seq, user_id, client_op_id, kind, content_path, start_pos, end_pos,
		        text, length, replacement, base_version, status, has_conflict, resolution, applied_at
		 FROM operations WHERE session_token = $1 AND seq > $2 ORDER BY seq ASC`,
		token, fromSeq)
	if err != nil {
		logger.Sugar.Errorf("Failed to read operations for session %s: %v", token, err)
		return nil, err
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		op := model.Operation{SessionToken: token}
		var kind, status string
		if err := rows.Scan(&op.Seq, &op.UserID, &op.ClientOpID, &kind, &op.Path,
			&op.Start, &op.End, &op.Text, &op.Length, &op.Replacement, &op.BaseVersion,
			&status, &op.HasConflict, &op.Resolution, &op.AppliedAt); err != nil {
			return nil, err
		}
		op.Kind = model.OperationKind(kind)
		op.Status = model.OperationStatus(status)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (r *Repository) UpsertCursor(ctx context.Context, cur model.CursorState) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO cursor_states (session_token, user_id, content_path, start_pos, end_pos,
		                            typing, last_typing_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (session_token, user_id) DO UPDATE SET
		   content_path = $3, start_pos = $4, end_pos = $5, typing = $6,
		   last_typing_at = $7, updated_at = $8`,
		cur.SessionToken, cur.UserID, cur.Path, cur.Start, cur.End,
		cur.Typing, cur.LastTypingAt, cur.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to upsert cursor for %s in session %s: %v", cur.UserID, cur.SessionToken, err)
	}
	return err
}

func (r *Repository) AppendEvent(ctx context.Context, token, kind string, payload []byte) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO events (id, session_token, kind, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), token, kind, payload, time.Now().UTC())
	if err != nil {
		logger.Sugar.Errorf("Failed to append %s event for session %s: %v", kind, token, err)
	}
	return err
}

func (r *Repository) AddComment(ctx context.Context, c model.Comment) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO comments (id, session_token, user_id, content, content_path, position, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.SessionToken, c.UserID, c.Content, c.Path, c.Position, c.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to add comment %s: %v", c.ID, err)
	}
	return err
}

// SessionsByUser lists the sessions a user created or participated in,
// newest first.
func (r *Repository) SessionsByUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT token, content_type, content_id, created_by, status, last_activity_at, version
		 FROM sessions WHERE created_by = $1
		 UNION
		 SELECT s.token, s.content_type, s.content_id, s.created_by, s.status, s.last_activity_at, s.version
		 FROM sessions s JOIN participants p ON s.token = p.session_token WHERE p.user_id = $1
		 ORDER BY last_activity_at DESC`,
		userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list sessions for user %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		var status string
		if err := rows.Scan(&s.Token, &s.ContentType, &s.ContentID, &s.CreatedBy,
			&status, &s.LastActivityAt, &s.Snapshot.Version); err != nil {
			continue
		}
		s.Status = model.SessionStatus(status)
		sessions = append(sessions, s)
	}
	return sessions, nil
}
