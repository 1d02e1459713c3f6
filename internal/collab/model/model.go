package model

import "time"

// Permission is an ordered edit-access level. Higher levels include the
// capabilities of lower ones.
type Permission int

const (
	PermissionView Permission = iota
	PermissionComment
	PermissionEdit
	PermissionAdmin
)

var permissionNames = map[Permission]string{
	PermissionView:    "view",
	PermissionComment: "comment",
	PermissionEdit:    "edit",
	PermissionAdmin:   "admin",
}

var permissionValues = map[string]Permission{
	"view":    PermissionView,
	"comment": PermissionComment,
	"edit":    PermissionEdit,
	"admin":   PermissionAdmin,
}

func (p Permission) String() string { return permissionNames[p] }

// Allows reports whether the level satisfies the required minimum.
func (p Permission) Allows(min Permission) bool { return p >= min }

// ParsePermission returns the level for a wire name, defaulting to view.
func ParsePermission(s string) Permission {
	if p, ok := permissionValues[s]; ok {
		return p
	}
	return PermissionView
}

func (p Permission) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Permission) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	*p = ParsePermission(s)
	return nil
}

// Identity is what the auth middleware extracts from a validated token:
// the authenticated user plus display attributes for cursors.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// SessionStatus is the lifecycle state of a collaborative session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionEnded  SessionStatus = "ended"
)

// Snapshot is the full content plus the version it reflects. It bootstraps
// new joiners and is the auto-save payload.
type Snapshot struct {
	Content string `json:"content"`
	Version int64  `json:"version"`
}

// Session is one live collaborative context over one content item.
type Session struct {
	Token             string        `json:"token"`
	ContentType       string        `json:"content_type"`
	ContentID         string        `json:"content_id"`
	CreatedBy         string        `json:"created_by"`
	Status            SessionStatus `json:"status"`
	DefaultPermission Permission    `json:"default_permission"`
	MaxParticipants   int           `json:"max_participants"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	LastActivityAt    time.Time     `json:"last_activity_at"`
	Snapshot          Snapshot      `json:"snapshot"`
	AutoSave          bool          `json:"auto_save"`
	AutoSaveInterval  time.Duration `json:"auto_save_interval"`
}

// ContentKey identifies the content item a session is bound to.
func (s *Session) ContentKey() string { return s.ContentType + ":" + s.ContentID }

// ParticipantStatus distinguishes connectivity state from permission level.
type ParticipantStatus string

const (
	ParticipantActive ParticipantStatus = "active"
	ParticipantAway   ParticipantStatus = "away"
	ParticipantLeft   ParticipantStatus = "left"
	ParticipantKicked ParticipantStatus = "kicked"
)

// Participant is one user's membership in a session.
type Participant struct {
	UserID      string            `json:"user_id"`
	Name        string            `json:"name"`
	Color       string            `json:"color"`
	Permission  Permission        `json:"permission"`
	Status      ParticipantStatus `json:"status"`
	JoinedAt    time.Time         `json:"joined_at"`
	LeftAt      *time.Time        `json:"left_at,omitempty"`
	LastSeenAt  time.Time         `json:"last_seen_at"`
	Edits       int               `json:"edits"`
	Comments    int               `json:"comments"`
	CursorMoves int               `json:"cursor_moves"`
}

// OperationKind is the closed set of edit types.
type OperationKind string

const (
	OpInsert  OperationKind = "insert"
	OpDelete  OperationKind = "delete"
	OpReplace OperationKind = "replace"
	OpFormat  OperationKind = "format"
)

// OperationStatus tracks an operation through the accept pipeline.
type OperationStatus string

const (
	OpPending    OperationStatus = "pending"
	OpApplied    OperationStatus = "applied"
	OpRejected   OperationStatus = "rejected"
	OpConflicted OperationStatus = "conflicted"
)

// RejectedKind names why a rejected operation was refused.
type RejectedKind string

const (
	RejectNone               RejectedKind = ""
	RejectSupersededByDelete RejectedKind = "superseded_by_delete"
	RejectStale              RejectedKind = "stale"
	RejectMalformed          RejectedKind = "malformed"
	RejectPermission         RejectedKind = "permission_denied"
)

// Operation is one atomic edit attempt. Offsets are rune offsets into the
// content at the operation's base version; the transformer rewrites them
// against everything applied since. Parent references are carried as plain
// sequence numbers, never pointers into the log.
type Operation struct {
	SessionToken string          `json:"session_token"`
	UserID       string          `json:"user_id"`
	ClientOpID   string          `json:"operation_id"`
	Seq          int64           `json:"seq"`
	Kind         OperationKind   `json:"type"`
	Path         string          `json:"content_path"`
	Start        int             `json:"start"`
	End          int             `json:"end"`
	Text         string          `json:"text,omitempty"`
	Length       int             `json:"length,omitempty"`
	Replacement  string          `json:"replacement,omitempty"`
	BaseVersion  int64           `json:"base_version"`
	Status       OperationStatus `json:"status"`
	HasConflict  bool            `json:"has_conflict,omitempty"`
	Resolution   string          `json:"resolution,omitempty"`
	RejectedKind RejectedKind    `json:"rejected_kind,omitempty"`
	AppliedAt    time.Time       `json:"applied_at,omitempty"`
}

// CursorState is the ephemeral per-participant pointer. One per
// (session, user); overwritten on every update, never appended.
type CursorState struct {
	SessionToken string     `json:"session_token"`
	UserID       string     `json:"user_id"`
	Path         string     `json:"content_path"`
	Start        int        `json:"start"`
	End          int        `json:"end"`
	Typing       bool       `json:"typing"`
	LastTypingAt *time.Time `json:"last_typing_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Comment is an annotation anchored to a position, broadcast and persisted
// but never part of the operation log.
type Comment struct {
	ID           string    `json:"id"`
	SessionToken string    `json:"session_token"`
	UserID       string    `json:"user_id"`
	Content      string    `json:"content"`
	Path         string    `json:"content_path"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
}
