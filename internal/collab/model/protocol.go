package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all socket traffic in both directions.
// UserID and SessionToken are server-authoritative on inbound messages:
// the transport overwrites them before dispatch.
type Message struct {
	Kind         string          `json:"kind"`
	SessionToken string          `json:"session_token,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Client -> session message kinds.
const (
	KindEditOperation  = "edit_operation"
	KindUpdateCursor   = "update_cursor"
	KindTypingStart    = "typing_start"
	KindTypingStop     = "typing_stop"
	KindAddComment     = "add_comment"
	KindSaveDocument   = "save_document"
	KindSessionControl = "session_control"
	KindHeartbeat      = "heartbeat"
)

// Session -> client event kinds.
const (
	KindSessionJoined      = "session_joined"
	KindParticipantJoined  = "participant_joined"
	KindParticipantLeft    = "participant_left"
	KindCursorUpdate       = "cursor_update"
	KindCommentAdded       = "comment_added"
	KindDocumentSaved      = "document_saved"
	KindDocumentAutoSaved  = "document_auto_saved"
	KindSaveError          = "save_error"
	KindSessionPaused      = "session_paused"
	KindSessionResumed     = "session_resumed"
	KindSessionEnded       = "session_ended"
	KindHeartbeatAck       = "heartbeat_acknowledged"
	KindError              = "error"
)

// Session control actions.
const (
	ActionPauseSession  = "pause_session"
	ActionResumeSession = "resume_session"
	ActionEndSession    = "end_session"
)

// Client -> session payloads.

type EditPayload struct {
	OperationID string        `json:"operation_id"`
	Type        OperationKind `json:"type"`
	Path        string        `json:"content_path"`
	Position    int           `json:"position"`
	End         int           `json:"end,omitempty"`
	Content     string        `json:"content,omitempty"`
	Length      int           `json:"length,omitempty"`
	BaseVersion int64         `json:"base_version"`
}

type CursorPosition struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Path  string `json:"content_path"`
}

type CursorPayload struct {
	Position CursorPosition `json:"position"`
}

type TypingPayload struct {
	Path string `json:"content_path"`
}

type CommentPayload struct {
	Content  string `json:"content"`
	Position int    `json:"position"`
	Path     string `json:"content_path"`
}

type SavePayload struct {
	Content string `json:"content,omitempty"`
}

type ControlPayload struct {
	Action string `json:"action"`
}

// Session -> client payloads.

type JoinedPayload struct {
	Session      Session       `json:"session"`
	Participant  Participant   `json:"participant"`
	Participants []Participant `json:"participants"`
	Cursors      []CursorState `json:"cursors"`
}

type ParticipantEventPayload struct {
	Participant Participant `json:"participant"`
}

type SavedPayload struct {
	Version int64     `json:"version"`
	SavedAt time.Time `json:"saved_at"`
}

type SaveErrorPayload struct {
	Version int64  `json:"version"`
	Reason  string `json:"reason"`
}

type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	OperationID string `json:"operation_id,omitempty"`
}

var inboundKinds = map[string]bool{
	KindEditOperation:  true,
	KindUpdateCursor:   true,
	KindTypingStart:    true,
	KindTypingStop:     true,
	KindAddComment:     true,
	KindSaveDocument:   true,
	KindSessionControl: true,
	KindHeartbeat:      true,
}

var operationKinds = map[OperationKind]bool{
	OpInsert:  true,
	OpDelete:  true,
	OpReplace: true,
	OpFormat:  true,
}

var controlActions = map[string]bool{
	ActionPauseSession:  true,
	ActionResumeSession: true,
	ActionEndSession:    true,
}

// ParseInbound validates a raw client message against the closed set of
// inbound kinds and the required payload fields for each. Violations come
// back wrapped around ErrMalformedMessage so the transport can map them to
// a single warning code.
func ParseInbound(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedMessage, err)
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("%w: missing 'kind' field", ErrMalformedMessage)
	}
	if !inboundKinds[msg.Kind] {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, msg.Kind)
	}

	switch msg.Kind {
	case KindEditOperation:
		var p EditPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: bad %s payload: %v", ErrMalformedMessage, msg.Kind, err)
		}
		if p.OperationID == "" {
			return nil, fmt.Errorf("%w: edit_operation requires operation_id", ErrMalformedMessage)
		}
		if !operationKinds[p.Type] {
			return nil, fmt.Errorf("%w: unknown operation type %q", ErrMalformedMessage, p.Type)
		}
		if p.Position < 0 || p.BaseVersion < 0 {
			return nil, fmt.Errorf("%w: negative position or base_version", ErrMalformedMessage)
		}
		if p.Type == OpInsert && p.Content == "" {
			return nil, fmt.Errorf("%w: insert requires content", ErrMalformedMessage)
		}
		if (p.Type == OpDelete || p.Type == OpReplace) && p.Length <= 0 && p.End <= p.Position {
			return nil, fmt.Errorf("%w: %s requires a range", ErrMalformedMessage, p.Type)
		}
	case KindUpdateCursor:
		var p CursorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: bad %s payload: %v", ErrMalformedMessage, msg.Kind, err)
		}
		if p.Position.Start < 0 || p.Position.End < p.Position.Start {
			return nil, fmt.Errorf("%w: invalid cursor range", ErrMalformedMessage)
		}
	case KindAddComment:
		var p CommentPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: bad %s payload: %v", ErrMalformedMessage, msg.Kind, err)
		}
		if p.Content == "" {
			return nil, fmt.Errorf("%w: add_comment requires content", ErrMalformedMessage)
		}
	case KindSessionControl:
		var p ControlPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: bad %s payload: %v", ErrMalformedMessage, msg.Kind, err)
		}
		if !controlActions[p.Action] {
			return nil, fmt.Errorf("%w: unknown control action %q", ErrMalformedMessage, p.Action)
		}
	case KindTypingStart, KindTypingStop, KindSaveDocument, KindHeartbeat:
		// Payload optional; any well-formed JSON body is acceptable.
	}
	return &msg, nil
}

// NewEvent builds a server-originated message with the current timestamp.
func NewEvent(kind, token, userID string, payload interface{}) (*Message, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		data = b
	}
	return &Message{
		Kind:         kind,
		SessionToken: token,
		UserID:       userID,
		Payload:      data,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Operation builds the model Operation for a validated edit payload.
func (p EditPayload) Operation(token, userID string) Operation {
	end := p.End
	if p.Type == OpInsert {
		end = p.Position
	} else if end <= p.Position && p.Length > 0 {
		end = p.Position + p.Length
	}
	op := Operation{
		SessionToken: token,
		UserID:       userID,
		ClientOpID:   p.OperationID,
		Kind:         p.Type,
		Path:         p.Path,
		Start:        p.Position,
		End:          end,
		BaseVersion:  p.BaseVersion,
		Status:       OpPending,
	}
	switch p.Type {
	case OpInsert:
		op.Text = p.Content
	case OpDelete:
		op.Length = end - p.Position
	case OpReplace:
		op.Length = end - p.Position
		op.Replacement = p.Content
	case OpFormat:
		op.Text = p.Content
	}
	return op
}
