package session

import (
	"context"
	"sync"
	"time"

	"coedit/internal/collab/model"
	"coedit/pkg/logger"

	"github.com/segmentio/ksuid"
)

// ContentStore is the narrow view onto the authoritative content the
// engine consumes: read a body and its version, and answer what access a
// user holds on it.
type ContentStore interface {
	GetContent(ctx context.Context, contentType, contentID string) (string, int64, error)
	AccessLevel(ctx context.Context, contentType, contentID, userID string) (model.Permission, bool, error)
}

// Options carries the session defaults the registry stamps onto newly
// opened sessions.
type Options struct {
	Tuning            Tuning
	DefaultPermission model.Permission
	MaxParticipants   int
	AutoSave          bool
}

// Registry is the process-wide arena of live sessions, keyed by token,
// with a secondary index enforcing at most one active session per content
// item. Handles are created on the first open and evicted once a session's
// ended state has been persisted.
type Registry struct {
	mu        sync.Mutex
	byToken   map[string]*Coordinator
	byContent map[string]string
	store     Store
	contents  ContentStore
	opts      Options
}

func NewRegistry(store Store, contents ContentStore, opts Options) *Registry {
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = 16
	}
	if opts.Tuning.SendBuffer <= 0 {
		opts.Tuning = DefaultTuning()
	}
	return &Registry{
		byToken:   make(map[string]*Coordinator),
		byContent: make(map[string]string),
		store:     store,
		contents:  contents,
		opts:      opts,
	}
}

// Open returns the live session for a content item, creating one if none
// exists. The caller must hold at least view access on the content; the
// check runs under the caller's context so a silent permission collaborator
// fails the open instead of hanging it.
func (r *Registry) Open(ctx context.Context, contentType, contentID string, user model.Identity) (*Coordinator, error) {
	level, ok, err := r.contents.AccessLevel(ctx, contentType, contentID, user.UserID)
	if err != nil {
		return nil, err
	}
	if !ok || !level.Allows(model.PermissionView) {
		return nil, model.ErrPermissionDenied
	}

	key := contentType + ":" + contentID
	r.mu.Lock()
	if token, exists := r.byContent[key]; exists {
		c := r.byToken[token]
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	content, version, err := r.contents.GetContent(ctx, contentType, contentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := model.Session{
		Token:             ksuid.New().String(),
		ContentType:       contentType,
		ContentID:         contentID,
		CreatedBy:         user.UserID,
		Status:            model.SessionActive,
		DefaultPermission: r.opts.DefaultPermission,
		MaxParticipants:   r.opts.MaxParticipants,
		CreatedAt:         now,
		StartedAt:         now,
		LastActivityAt:    now,
		Snapshot:          model.Snapshot{Content: content, Version: version},
		AutoSave:          r.opts.AutoSave,
		AutoSaveInterval:  r.opts.Tuning.AutoSaveInterval,
	}

	r.mu.Lock()
	// Re-check under the lock: a concurrent open for the same content
	// must reuse, never duplicate.
	if token, exists := r.byContent[key]; exists {
		c := r.byToken[token]
		r.mu.Unlock()
		return c, nil
	}
	c := NewCoordinator(sess, r.store, r.opts.Tuning, r.evict)
	r.byToken[sess.Token] = c
	r.byContent[key] = sess.Token
	r.mu.Unlock()

	go c.Run()
	if err := r.store.SaveSession(ctx, sess); err != nil {
		logger.Sugar.Errorf("persist new session %s: %v", sess.Token, err)
	}
	logger.Sugar.Infof("opened session %s for %s", sess.Token, key)
	return c, nil
}

// Get resolves a session token to its live coordinator.
func (r *Registry) Get(token string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byToken[token]
	return c, ok
}

// Tokens lists the live session tokens, for diagnostics.
func (r *Registry) Tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byToken))
	for token := range r.byToken {
		out = append(out, token)
	}
	return out
}

// Shutdown ends every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	coordinators := make([]*Coordinator, 0, len(r.byToken))
	for _, c := range r.byToken {
		coordinators = append(coordinators, c)
	}
	r.mu.Unlock()
	for _, c := range coordinators {
		c.Stop()
	}
}

func (r *Registry) evict(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	delete(r.byContent, c.sess.ContentKey())
	logger.Sugar.Infof("evicted ended session %s", token)
}
