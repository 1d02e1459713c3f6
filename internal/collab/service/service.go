package service

import (
	"context"
	"time"

	"coedit/internal/collab/model"
	"coedit/internal/collab/repository"
	"coedit/internal/collab/session"
)

// openTimeout bounds the permission and content lookups behind an open, so
// a silent collaborator fails the request instead of hanging it.
const openTimeout = 5 * time.Second

type SessionService struct {
	Registry *session.Registry
	Repo     *repository.Repository
}

func NewSessionService(registry *session.Registry, repo *repository.Repository) *SessionService {
	return &SessionService{Registry: registry, Repo: repo}
}

type OpenSessionResponse struct {
	Token   string              `json:"token"`
	Status  model.SessionStatus `json:"status"`
	Version int64               `json:"version"`
}

// OpenSession returns the live session for a content item, creating one if
// needed. The caller must hold at least view access.
func (s *SessionService) OpenSession(ctx context.Context, user model.Identity, contentType, contentID string) (*OpenSessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	c, err := s.Registry.Open(ctx, contentType, contentID, user)
	if err != nil {
		return nil, err
	}
	sess, _, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	return &OpenSessionResponse{Token: sess.Token, Status: sess.Status, Version: sess.Snapshot.Version}, nil
}

type SessionInfo struct {
	Session      model.Session       `json:"session"`
	Participants []model.Participant `json:"participants"`
}

// Info reports a live session's state and participants.
func (s *SessionService) Info(ctx context.Context, token string) (*SessionInfo, error) {
	c, ok := s.Registry.Get(token)
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	sess, participants, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{Session: sess, Participants: participants}, nil
}

// List returns the sessions a user created or joined, from the audit
// store, so it covers ended sessions too.
func (s *SessionService) List(ctx context.Context, userID string) ([]model.Session, error) {
	return s.Repo.SessionsByUser(ctx, userID)
}
