package session

import (
	"context"
	"encoding/json"
	"time"

	"coedit/internal/collab/model"
	"coedit/internal/collab/ot"
	"coedit/pkg/logger"

	"github.com/google/uuid"
)

// Store is the persistence collaborator: the content store plus the
// append-only audit log. The coordinator writes to it off the accept path
// and never reads from it while serving edits.
type Store interface {
	SaveContent(ctx context.Context, contentType, contentID, content string, version int64) error
	SaveSession(ctx context.Context, s model.Session) error
	SaveParticipant(ctx context.Context, token string, p model.Participant) error
	AppendOperation(ctx context.Context, op model.Operation) error
	UpsertCursor(ctx context.Context, cur model.CursorState) error
	AppendEvent(ctx context.Context, token, kind string, payload []byte) error
	AddComment(ctx context.Context, c model.Comment) error
}

// Tuning collects the coordinator's timers and limits.
type Tuning struct {
	AutoSaveInterval   time.Duration
	SweepInterval      time.Duration
	AwayTimeout        time.Duration
	LeaveGrace         time.Duration
	IdleTimeout        time.Duration
	SaveTimeout        time.Duration
	MaxTransformWindow int64
	SendBuffer         int
}

// DefaultTuning mirrors the intervals the service runs with in production.
func DefaultTuning() Tuning {
	return Tuning{
		AutoSaveInterval:   10 * time.Second,
		SweepInterval:      5 * time.Second,
		AwayTimeout:        45 * time.Second,
		LeaveGrace:         30 * time.Second,
		IdleTimeout:        10 * time.Minute,
		SaveTimeout:        5 * time.Second,
		MaxTransformWindow: 1000,
		SendBuffer:         256,
	}
}

// Subscriber is one connected client's outbound queue. The transport owns
// the read side; the coordinator owns the channel lifecycle.
type Subscriber struct {
	UserID string
	send   chan []byte
}

// Receive returns the outbound message stream. The channel is closed when
// the coordinator drops the subscriber or the session ends.
func (s *Subscriber) Receive() <-chan []byte { return s.send }

type joinReq struct {
	id    model.Identity
	reply chan joinReply
}

type joinReply struct {
	sub *Subscriber
	err error
}

type leaveReq struct {
	sub      *Subscriber
	explicit bool
}

type inboundReq struct {
	sub *Subscriber
	msg *model.Message
}

type saveResult struct {
	version   int64
	explicit  bool
	requester *Subscriber
	err       error
}

type infoReq struct {
	reply chan infoReply
}

type infoReply struct {
	session      model.Session
	participants []model.Participant
}

// Coordinator owns one session: its snapshot, participants, log, and
// presence. All mutation funnels through the Run loop, which is the
// session's linearization point; transform and resolution stay pure in
// memory, and persistence and broadcasts never delay acceptance of the
// next operation.
type Coordinator struct {
	sess         model.Session
	participants map[string]*model.Participant
	subs         map[*Subscriber]bool
	log          *OpLog
	pres         *presence
	store        Store
	tuning       Tuning
	onEnd        func(token string)

	savedVersion int64
	saving       bool
	emptySince   time.Time
	disconnects  map[string]time.Time

	joinCh    chan joinReq
	leaveCh   chan leaveReq
	inboundCh chan inboundReq
	saveResCh chan saveResult
	infoCh    chan infoReq
	stopCh    chan struct{}
	done      chan struct{}
}

// NewCoordinator builds the actor for a freshly opened or reopened
// session. onEnd is called once, after the ended state is persisted, so
// the registry can evict the handle.
func NewCoordinator(sess model.Session, store Store, tuning Tuning, onEnd func(token string)) *Coordinator {
	if tuning.SendBuffer <= 0 {
		tuning = DefaultTuning()
	}
	return &Coordinator{
		sess:         sess,
		participants: make(map[string]*model.Participant),
		subs:         make(map[*Subscriber]bool),
		log:          NewOpLog(sess.Snapshot.Version),
		pres:         newPresence(),
		store:        store,
		tuning:       tuning,
		onEnd:        onEnd,
		savedVersion: sess.Snapshot.Version,
		disconnects:  make(map[string]time.Time),
		joinCh:       make(chan joinReq),
		leaveCh:      make(chan leaveReq),
		inboundCh:    make(chan inboundReq, 64),
		saveResCh:    make(chan saveResult, 1),
		infoCh:       make(chan infoReq),
		stopCh:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Token returns the session's client-facing identifier.
func (c *Coordinator) Token() string { return c.sess.Token }

// Run drives the session until it ends. Call it in its own goroutine.
func (c *Coordinator) Run() {
	autosave := time.NewTicker(c.tuning.AutoSaveInterval)
	sweep := time.NewTicker(c.tuning.SweepInterval)
	defer autosave.Stop()
	defer sweep.Stop()

	for {
		select {
		case req := <-c.joinCh:
			req.reply <- c.handleJoin(req.id)
		case req := <-c.leaveCh:
			c.handleLeave(req.sub, req.explicit)
		case req := <-c.inboundCh:
			c.dispatch(req.sub, req.msg)
		case res := <-c.saveResCh:
			c.handleSaveResult(res)
		case <-autosave.C:
			c.autoSave()
		case <-sweep.C:
			c.sweep(time.Now())
		case req := <-c.infoCh:
			req.reply <- c.snapshotInfo()
		case <-c.stopCh:
			c.end("")
		case <-c.done:
			return
		}
	}
}

// Join admits a user and returns their subscriber. The first event on the
// subscriber channel is session_joined with the full snapshot, current
// participants, and live cursors, so a newcomer renders existing state
// immediately.
func (c *Coordinator) Join(ctx context.Context, id model.Identity) (*Subscriber, error) {
	req := joinReq{id: id, reply: make(chan joinReply, 1)}
	select {
	case c.joinCh <- req:
	case <-c.done:
		return nil, model.ErrSessionEnded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.sub, rep.err
	case <-ctx.Done():
		// The loop accepted the request, so it will reply; drain it and
		// release the subscriber nobody is going to read.
		go func() {
			if rep := <-req.reply; rep.sub != nil {
				c.Leave(rep.sub)
			}
		}()
		return nil, ctx.Err()
	}
}

// Stop ends the session from outside the message flow, used during
// process shutdown.
func (c *Coordinator) Stop() {
	select {
	case c.stopCh <- struct{}{}:
	case <-c.done:
	}
}

// Leave marks the participant as having left intentionally.
func (c *Coordinator) Leave(sub *Subscriber) {
	select {
	case c.leaveCh <- leaveReq{sub: sub, explicit: true}:
	case <-c.done:
	}
}

// Disconnect reports a dropped transport. The participant is demoted to
// away and only becomes left after the grace period without a reconnect,
// so a flaky connection is never conflated with a departure.
func (c *Coordinator) Disconnect(sub *Subscriber) {
	select {
	case c.leaveCh <- leaveReq{sub: sub, explicit: false}:
	case <-c.done:
	}
}

// Deliver hands a validated inbound message to the session's serialization
// point. The transport is responsible for schema validation and for
// overwriting identity fields with authoritative values.
func (c *Coordinator) Deliver(sub *Subscriber, msg *model.Message) {
	select {
	case c.inboundCh <- inboundReq{sub: sub, msg: msg}:
	case <-c.done:
	}
}

// Info returns a copy of the session and its participants.
func (c *Coordinator) Info(ctx context.Context) (model.Session, []model.Participant, error) {
	req := infoReq{reply: make(chan infoReply, 1)}
	select {
	case c.infoCh <- req:
	case <-c.done:
		return model.Session{}, nil, model.ErrSessionEnded
	case <-ctx.Done():
		return model.Session{}, nil, ctx.Err()
	}
	rep := <-req.reply
	return rep.session, rep.participants, nil
}

func (c *Coordinator) handleJoin(id model.Identity) joinReply {
	if c.sess.Status == model.SessionEnded {
		return joinReply{err: model.ErrSessionEnded}
	}
	if c.activeSubscribers() >= c.sess.MaxParticipants {
		return joinReply{err: model.ErrSessionFull}
	}

	now := time.Now()
	p := c.participants[id.UserID]
	if p == nil {
		perm := c.sess.DefaultPermission
		if id.UserID == c.sess.CreatedBy {
			perm = model.PermissionAdmin
		}
		p = &model.Participant{
			UserID:     id.UserID,
			Name:       id.Name,
			Color:      id.Color,
			Permission: perm,
			JoinedAt:   now,
		}
		c.participants[id.UserID] = p
	}
	p.Status = model.ParticipantActive
	p.LastSeenAt = now
	p.LeftAt = nil
	delete(c.disconnects, id.UserID)
	c.emptySince = time.Time{}
	c.pres.heartbeat(id.UserID, now)

	if c.sess.Status == model.SessionPaused {
		c.sess.Status = model.SessionActive
		c.broadcast(model.KindSessionResumed, "", nil, nil)
	}

	sub := &Subscriber{UserID: id.UserID, send: make(chan []byte, c.tuning.SendBuffer)}
	c.subs[sub] = true

	c.sendEvent(sub, model.KindSessionJoined, id.UserID, model.JoinedPayload{
		Session:      c.sess,
		Participant:  *p,
		Participants: c.participantList(),
		Cursors:      c.pres.snapshot(),
	})
	c.broadcast(model.KindParticipantJoined, id.UserID, model.ParticipantEventPayload{Participant: *p}, sub)

	c.persistParticipant(*p)
	c.audit(model.KindParticipantJoined, model.ParticipantEventPayload{Participant: *p})
	return joinReply{sub: sub}
}

func (c *Coordinator) handleLeave(sub *Subscriber, explicit bool) {
	if !c.subs[sub] {
		return
	}
	delete(c.subs, sub)
	close(sub.send)

	p := c.participants[sub.UserID]
	if p == nil {
		return
	}
	now := time.Now()
	if explicit {
		p.Status = model.ParticipantLeft
		p.LeftAt = &now
		c.pres.remove(sub.UserID)
		delete(c.disconnects, sub.UserID)
		c.broadcast(model.KindParticipantLeft, sub.UserID, model.ParticipantEventPayload{Participant: *p}, nil)
		c.audit(model.KindParticipantLeft, model.ParticipantEventPayload{Participant: *p})
	} else if !c.hasSubscriber(sub.UserID) {
		p.Status = model.ParticipantAway
		c.disconnects[sub.UserID] = now
	}
	c.persistParticipant(*p)

	if c.activeSubscribers() == 0 && c.sess.Status == model.SessionActive {
		c.emptySince = now
	}
}

// dispatch routes one inbound message by kind. It is a single switch over
// the closed message set; permission is enforced per kind before any state
// moves.
func (c *Coordinator) dispatch(sub *Subscriber, msg *model.Message) {
	p := c.participants[sub.UserID]
	if p == nil || !c.subs[sub] {
		return
	}
	now := time.Now()
	p.LastSeenAt = now
	if p.Status == model.ParticipantAway {
		p.Status = model.ParticipantActive
	}
	c.pres.heartbeat(sub.UserID, now)

	switch msg.Kind {
	case model.KindEditOperation:
		c.handleEdit(sub, p, msg)
	case model.KindUpdateCursor:
		c.handleCursor(sub, p, msg)
	case model.KindTypingStart, model.KindTypingStop:
		c.handleTyping(sub, p, msg)
	case model.KindAddComment:
		c.handleComment(sub, p, msg)
	case model.KindSaveDocument:
		c.handleSave(sub, p)
	case model.KindSessionControl:
		c.handleControl(sub, p, msg)
	case model.KindHeartbeat:
		c.sendEvent(sub, model.KindHeartbeatAck, sub.UserID, nil)
	}
}

func (c *Coordinator) handleEdit(sub *Subscriber, p *model.Participant, msg *model.Message) {
	if !p.Permission.Allows(model.PermissionEdit) {
		c.sendError(sub, model.CodePermissionDenied, "edit requires edit permission", "")
		return
	}
	var payload model.EditPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.sendError(sub, model.CodeMalformedMessage, "bad edit payload", "")
		return
	}

	// Idempotent resubmission: the original outcome stands, nothing is
	// applied twice.
	if _, ok := c.log.Lookup(sub.UserID, payload.OperationID); ok {
		return
	}

	op := payload.Operation(c.sess.Token, sub.UserID)
	if op.BaseVersion > c.log.Len() {
		c.sendError(sub, model.CodeMalformedMessage, "base_version is ahead of the session", op.ClientOpID)
		return
	}
	if op.BaseVersion < c.log.Base() {
		// History before the opening snapshot is not in memory, so there
		// is nothing to transform against.
		c.sendError(sub, model.CodeStaleOperation, "base version predates the session, refetch the snapshot", op.ClientOpID)
		c.audit("operation_rejected", model.ErrorPayload{Code: model.CodeStaleOperation, OperationID: op.ClientOpID})
		return
	}
	if c.log.Len()-op.BaseVersion > c.tuning.MaxTransformWindow {
		c.sendError(sub, model.CodeStaleOperation, "base version too old, refetch the snapshot", op.ClientOpID)
		c.audit("operation_rejected", model.ErrorPayload{Code: model.CodeStaleOperation, OperationID: op.ClientOpID})
		return
	}

	transformed := ot.Transform(op, c.log.Since(op.BaseVersion))
	resolved, note := ot.Resolve(transformed)
	if resolved.Status == model.OpRejected {
		c.sendError(sub, model.CodeSupersededByDelete, note, op.ClientOpID)
		c.audit("operation_rejected", model.ErrorPayload{Code: model.CodeSupersededByDelete, OperationID: op.ClientOpID})
		return
	}

	content, err := ot.Apply(c.sess.Snapshot.Content, resolved)
	if err != nil {
		c.sendError(sub, model.CodeMalformedMessage, err.Error(), op.ClientOpID)
		return
	}

	now := time.Now()
	// A conflicted operation still lands as applied once its transform is
	// in; the conflict flag and resolution note carry the record.
	resolved.Status = model.OpApplied
	resolved.AppliedAt = now
	seq := c.log.Append(resolved)
	resolved.Seq = seq

	c.sess.Snapshot = model.Snapshot{Content: content, Version: seq}
	c.sess.LastActivityAt = now
	p.Edits++

	c.broadcast(model.KindEditOperation, sub.UserID, resolved, sub)

	go func(op model.Operation) {
		ctx, cancel := context.WithTimeout(context.Background(), c.tuning.SaveTimeout)
		defer cancel()
		if err := c.store.AppendOperation(ctx, op); err != nil {
			logger.Sugar.Errorf("append operation %d for session %s: %v", op.Seq, op.SessionToken, err)
		}
	}(resolved)
}

func (c *Coordinator) handleCursor(sub *Subscriber, p *model.Participant, msg *model.Message) {
	var payload model.CursorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.sendError(sub, model.CodeMalformedMessage, "bad cursor payload", "")
		return
	}
	cur := c.pres.updateCursor(c.sess.Token, sub.UserID, payload.Position, time.Now())
	p.CursorMoves++
	c.broadcast(model.KindCursorUpdate, sub.UserID, *cur, sub)

	go func(cur model.CursorState) {
		ctx, cancel := context.WithTimeout(context.Background(), c.tuning.SaveTimeout)
		defer cancel()
		if err := c.store.UpsertCursor(ctx, cur); err != nil {
			logger.Sugar.Warnf("upsert cursor for %s in %s: %v", cur.UserID, cur.SessionToken, err)
		}
	}(*cur)
}

func (c *Coordinator) handleTyping(sub *Subscriber, p *model.Participant, msg *model.Message) {
	var payload model.TypingPayload
	_ = json.Unmarshal(msg.Payload, &payload)
	cur := c.pres.setTyping(c.sess.Token, sub.UserID, payload.Path, msg.Kind == model.KindTypingStart, time.Now())
	c.broadcast(msg.Kind, sub.UserID, *cur, sub)
}

func (c *Coordinator) handleComment(sub *Subscriber, p *model.Participant, msg *model.Message) {
	if !p.Permission.Allows(model.PermissionComment) {
		c.sendError(sub, model.CodePermissionDenied, "commenting requires comment permission", "")
		return
	}
	var payload model.CommentPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.sendError(sub, model.CodeMalformedMessage, "bad comment payload", "")
		return
	}
	comment := model.Comment{
		ID:           uuid.NewString(),
		SessionToken: c.sess.Token,
		UserID:       sub.UserID,
		Content:      payload.Content,
		Path:         payload.Path,
		Position:     payload.Position,
		CreatedAt:    time.Now(),
	}
	p.Comments++
	c.sess.LastActivityAt = comment.CreatedAt
	c.broadcast(model.KindCommentAdded, sub.UserID, comment, nil)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.tuning.SaveTimeout)
		defer cancel()
		if err := c.store.AddComment(ctx, comment); err != nil {
			logger.Sugar.Errorf("persist comment %s: %v", comment.ID, err)
		}
	}()
}

func (c *Coordinator) handleSave(sub *Subscriber, p *model.Participant) {
	if !p.Permission.Allows(model.PermissionEdit) {
		c.sendError(sub, model.CodePermissionDenied, "saving requires edit permission", "")
		return
	}
	c.startSave(true, sub)
}

func (c *Coordinator) handleControl(sub *Subscriber, p *model.Participant, msg *model.Message) {
	if !p.Permission.Allows(model.PermissionAdmin) {
		c.sendError(sub, model.CodePermissionDenied, "session control requires admin permission", "")
		return
	}
	var payload model.ControlPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.sendError(sub, model.CodeMalformedMessage, "bad control payload", "")
		return
	}
	switch payload.Action {
	case model.ActionPauseSession:
		if c.sess.Status == model.SessionActive {
			c.sess.Status = model.SessionPaused
			c.broadcast(model.KindSessionPaused, sub.UserID, nil, nil)
			c.audit(model.KindSessionPaused, nil)
			c.persistSession()
		}
	case model.ActionResumeSession:
		if c.sess.Status == model.SessionPaused {
			c.sess.Status = model.SessionActive
			c.broadcast(model.KindSessionResumed, sub.UserID, nil, nil)
			c.audit(model.KindSessionResumed, nil)
			c.persistSession()
		}
	case model.ActionEndSession:
		c.end(sub.UserID)
	}
}

// end transitions the session to ended exactly once, flushes the snapshot,
// and tears the actor down.
func (c *Coordinator) end(byUser string) {
	if c.sess.Status == model.SessionEnded {
		return
	}
	now := time.Now()
	c.sess.Status = model.SessionEnded
	c.sess.EndedAt = &now
	c.broadcast(model.KindSessionEnded, byUser, nil, nil)
	c.audit(model.KindSessionEnded, nil)

	ctx, cancel := context.WithTimeout(context.Background(), c.tuning.SaveTimeout)
	defer cancel()
	if c.savedVersion < c.sess.Snapshot.Version {
		if err := c.store.SaveContent(ctx, c.sess.ContentType, c.sess.ContentID,
			c.sess.Snapshot.Content, c.sess.Snapshot.Version); err != nil {
			logger.Sugar.Errorf("final save for session %s: %v", c.sess.Token, err)
		}
	}
	if err := c.store.SaveSession(ctx, c.sess); err != nil {
		logger.Sugar.Errorf("persist ended session %s: %v", c.sess.Token, err)
	}

	for sub := range c.subs {
		close(sub.send)
	}
	c.subs = make(map[*Subscriber]bool)
	close(c.done)
	if c.onEnd != nil {
		c.onEnd(c.sess.Token)
	}
}

// startSave kicks a snapshot write off the loop. A save already in flight
// means the request is picked up by the next tick instead of stacking
// retries on a struggling store.
func (c *Coordinator) startSave(explicit bool, requester *Subscriber) {
	if c.saving {
		return
	}
	if !explicit && c.savedVersion >= c.sess.Snapshot.Version {
		return
	}
	c.saving = true
	content := c.sess.Snapshot.Content
	version := c.sess.Snapshot.Version
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.tuning.SaveTimeout)
		defer cancel()
		err := c.store.SaveContent(ctx, c.sess.ContentType, c.sess.ContentID, content, version)
		select {
		case c.saveResCh <- saveResult{version: version, explicit: explicit, requester: requester, err: err}:
		case <-c.done:
		}
	}()
}

func (c *Coordinator) handleSaveResult(res saveResult) {
	c.saving = false
	if res.err != nil {
		logger.Sugar.Errorf("save failed for session %s at version %d: %v", c.sess.Token, res.version, res.err)
		if res.explicit && res.requester != nil {
			c.sendError(res.requester, model.CodeSaveFailed, "save failed", "")
		}
		// Everyone learns unsaved work is at risk; the dirty flag stays
		// set so the next tick retries.
		c.broadcast(model.KindSaveError, "", model.SaveErrorPayload{Version: res.version, Reason: "persistence failure"}, nil)
		return
	}
	if res.version > c.savedVersion {
		c.savedVersion = res.version
	}
	kind := model.KindDocumentAutoSaved
	if res.explicit {
		kind = model.KindDocumentSaved
	}
	c.broadcast(kind, "", model.SavedPayload{Version: res.version, SavedAt: time.Now().UTC()}, nil)
	c.persistSession()
}

func (c *Coordinator) autoSave() {
	if !c.sess.AutoSave || c.sess.Status == model.SessionEnded {
		return
	}
	c.startSave(false, nil)
}

// sweep enforces the presence and idle timeouts: silent participants go
// away, disconnected ones become left after the grace period, and a
// session nobody is touching pauses itself.
func (c *Coordinator) sweep(now time.Time) {
	if c.sess.Status == model.SessionEnded {
		return
	}
	anyRecent := false
	for userID, p := range c.participants {
		if p.Status == model.ParticipantLeft || p.Status == model.ParticipantKicked {
			continue
		}
		seen, ok := c.pres.seen(userID)
		if ok && now.Sub(seen) < c.tuning.IdleTimeout {
			anyRecent = true
		}
		if p.Status == model.ParticipantActive && (!ok || now.Sub(seen) > c.tuning.AwayTimeout) {
			p.Status = model.ParticipantAway
		}
		if at, gone := c.disconnects[userID]; gone && now.Sub(at) > c.tuning.LeaveGrace {
			left := now
			p.Status = model.ParticipantLeft
			p.LeftAt = &left
			delete(c.disconnects, userID)
			c.pres.remove(userID)
			c.broadcast(model.KindParticipantLeft, userID, model.ParticipantEventPayload{Participant: *p}, nil)
			c.persistParticipant(*p)
		}
	}

	if c.sess.Status != model.SessionActive {
		return
	}
	emptyPastGrace := !c.emptySince.IsZero() && now.Sub(c.emptySince) > c.tuning.LeaveGrace
	idle := !anyRecent && now.Sub(c.sess.LastActivityAt) > c.tuning.IdleTimeout
	if emptyPastGrace || idle {
		c.sess.Status = model.SessionPaused
		c.emptySince = time.Time{}
		c.broadcast(model.KindSessionPaused, "", nil, nil)
		c.audit(model.KindSessionPaused, nil)
		c.persistSession()
	}
}

func (c *Coordinator) snapshotInfo() infoReply {
	return infoReply{session: c.sess, participants: c.participantList()}
}

func (c *Coordinator) participantList() []model.Participant {
	out := make([]model.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, *p)
	}
	return out
}

func (c *Coordinator) activeSubscribers() int { return len(c.subs) }

func (c *Coordinator) hasSubscriber(userID string) bool {
	for sub := range c.subs {
		if sub.UserID == userID {
			return true
		}
	}
	return false
}

// broadcast fans an event out to every subscriber except skip. Sends are
// non-blocking: a subscriber whose buffer is full is dropped rather than
// allowed to stall the session.
func (c *Coordinator) broadcast(kind, userID string, payload interface{}, skip *Subscriber) {
	event, err := model.NewEvent(kind, c.sess.Token, userID, payload)
	if err != nil {
		logger.Sugar.Errorf("marshal %s event: %v", kind, err)
		return
	}
	raw, _ := json.Marshal(event)
	for sub := range c.subs {
		if sub == skip {
			continue
		}
		select {
		case sub.send <- raw:
		default:
			logger.Sugar.Warnf("subscriber %s lagging in session %s, dropping", sub.UserID, c.sess.Token)
			delete(c.subs, sub)
			close(sub.send)
			if p := c.participants[sub.UserID]; p != nil && !c.hasSubscriber(sub.UserID) {
				p.Status = model.ParticipantAway
				c.disconnects[sub.UserID] = time.Now()
			}
		}
	}
}

// sendEvent delivers an event to a single subscriber only; validation and
// permission failures are never broadcast.
func (c *Coordinator) sendEvent(sub *Subscriber, kind, userID string, payload interface{}) {
	event, err := model.NewEvent(kind, c.sess.Token, userID, payload)
	if err != nil {
		logger.Sugar.Errorf("marshal %s event: %v", kind, err)
		return
	}
	raw, _ := json.Marshal(event)
	select {
	case sub.send <- raw:
	default:
	}
}

func (c *Coordinator) sendError(sub *Subscriber, code, message, opID string) {
	c.sendEvent(sub, model.KindError, sub.UserID, model.ErrorPayload{Code: code, Message: message, OperationID: opID})
}

func (c *Coordinator) persistSession() {
	sess := c.sess
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.tuning.SaveTimeout)
		defer cancel()
		if err := c.store.SaveSession(ctx, sess); err != nil {
			logger.Sugar.Errorf("persist session %s: %v", sess.Token, err)
		}
	}()
}

func (c *Coordinator) persistParticipant(p model.Participant) {
	token := c.sess.Token
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.tuning.SaveTimeout)
		defer cancel()
		if err := c.store.SaveParticipant(ctx, token, p); err != nil {
			logger.Sugar.Errorf("persist participant %s in %s: %v", p.UserID, token, err)
		}
	}()
}

func (c *Coordinator) audit(kind string, payload interface{}) {
	token := c.sess.Token
	var raw []byte
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.tuning.SaveTimeout)
		defer cancel()
		if err := c.store.AppendEvent(ctx, token, kind, raw); err != nil {
			logger.Sugar.Warnf("audit %s for session %s: %v", kind, token, err)
		}
	}()
}
