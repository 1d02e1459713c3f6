package model

import "errors"

// Sentinel errors for the collaboration engine. Handlers and the socket
// layer map these onto HTTP statuses and error event codes.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session has ended")
	ErrSessionFull      = errors.New("session is full")
	ErrStaleOperation   = errors.New("operation base version too old")
	ErrMalformedMessage = errors.New("malformed message")
	ErrPersistence      = errors.New("persistence failure")
)

// Error codes sent to clients over the socket.
const (
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeSessionEnded       = "SESSION_ENDED"
	CodeSessionFull        = "SESSION_FULL"
	CodeStaleOperation     = "STALE_OPERATION"
	CodeMalformedMessage   = "MALFORMED_MESSAGE"
	CodeSaveFailed         = "SAVE_FAILED"
	CodeSupersededByDelete = "SUPERSEDED_BY_DELETE"
)

// ErrorCode maps an engine error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrSessionEnded):
		return CodeSessionEnded
	case errors.Is(err, ErrSessionFull):
		return CodeSessionFull
	case errors.Is(err, ErrStaleOperation):
		return CodeStaleOperation
	case errors.Is(err, ErrMalformedMessage):
		return CodeMalformedMessage
	case errors.Is(err, ErrPersistence):
		return CodeSaveFailed
	default:
		return "INTERNAL"
	}
}
