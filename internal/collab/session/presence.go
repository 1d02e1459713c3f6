package session

import (
	"time"

	"coedit/internal/collab/model"
)

// presence tracks live cursors and last-seen times for one session. It is
// owned by the coordinator goroutine; updates are last-write-wins and
// excluded from the operation log.
type presence struct {
	cursors  map[string]*model.CursorState
	lastSeen map[string]time.Time
}

func newPresence() *presence {
	return &presence{
		cursors:  make(map[string]*model.CursorState),
		lastSeen: make(map[string]time.Time),
	}
}

func (p *presence) updateCursor(token, userID string, pos model.CursorPosition, now time.Time) *model.CursorState {
	cur := p.cursors[userID]
	if cur == nil {
		cur = &model.CursorState{SessionToken: token, UserID: userID}
		p.cursors[userID] = cur
	}
	cur.Path = pos.Path
	cur.Start = pos.Start
	cur.End = pos.End
	cur.UpdatedAt = now
	p.lastSeen[userID] = now
	return cur
}

func (p *presence) setTyping(token, userID, path string, typing bool, now time.Time) *model.CursorState {
	cur := p.cursors[userID]
	if cur == nil {
		cur = &model.CursorState{SessionToken: token, UserID: userID}
		p.cursors[userID] = cur
	}
	if path != "" {
		cur.Path = path
	}
	cur.Typing = typing
	if typing {
		t := now
		cur.LastTypingAt = &t
	}
	cur.UpdatedAt = now
	p.lastSeen[userID] = now
	return cur
}

func (p *presence) heartbeat(userID string, now time.Time) {
	p.lastSeen[userID] = now
}

func (p *presence) seen(userID string) (time.Time, bool) {
	t, ok := p.lastSeen[userID]
	return t, ok
}

func (p *presence) remove(userID string) {
	delete(p.cursors, userID)
	delete(p.lastSeen, userID)
}

// snapshot returns the live cursors for a join reply.
func (p *presence) snapshot() []model.CursorState {
	out := make([]model.CursorState, 0, len(p.cursors))
	for _, c := range p.cursors {
		out = append(out, *c)
	}
	return out
}
