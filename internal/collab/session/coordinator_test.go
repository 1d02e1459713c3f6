package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"coedit/internal/collab/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTuning() Tuning {
	return Tuning{
		AutoSaveInterval:   time.Hour,
		SweepInterval:      time.Hour,
		AwayTimeout:        time.Hour,
		LeaveGrace:         time.Hour,
		IdleTimeout:        time.Hour,
		SaveTimeout:        2 * time.Second,
		MaxTransformWindow: 1000,
		SendBuffer:         64,
	}
}

func testSession(content string) model.Session {
	now := time.Now()
	return model.Session{
		Token:             "tok-1",
		ContentType:       "note",
		ContentID:         "n1",
		CreatedBy:         "admin",
		Status:            model.SessionActive,
		DefaultPermission: model.PermissionEdit,
		MaxParticipants:   8,
		CreatedAt:         now,
		StartedAt:         now,
		LastActivityAt:    now,
		Snapshot:          model.Snapshot{Content: content},
		AutoSave:          true,
	}
}

func startCoordinator(t *testing.T, store Store, sess model.Session, tuning Tuning) *Coordinator {
	t.Helper()
	c := NewCoordinator(sess, store, tuning, nil)
	go c.Run()
	t.Cleanup(c.Stop)
	return c
}

func join(t *testing.T, c *Coordinator, userID string) *Subscriber {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, err := c.Join(ctx, model.Identity{UserID: userID, Name: userID})
	require.NoError(t, err)
	return sub
}

func recvEvent(t *testing.T, sub *Subscriber) (model.Message, bool) {
	t.Helper()
	select {
	case raw, ok := <-sub.Receive():
		if !ok {
			return model.Message{}, false
		}
		var msg model.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg, true
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.Message{}, false
	}
}

func waitKind(t *testing.T, sub *Subscriber, kind string) model.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, ok := recvEvent(t, sub)
		if !ok {
			t.Fatalf("channel closed while waiting for %s", kind)
		}
		if msg.Kind == kind {
			return msg
		}
	}
	t.Fatalf("never received %s", kind)
	return model.Message{}
}

func editMsg(t *testing.T, opID string, kind model.OperationKind, pos, end int, content string, length int, base int64) *model.Message {
	t.Helper()
	payload, err := json.Marshal(model.EditPayload{
		OperationID: opID,
		Type:        kind,
		Position:    pos,
		End:         end,
		Content:     content,
		Length:      length,
		BaseVersion: base,
	})
	require.NoError(t, err)
	return &model.Message{Kind: model.KindEditOperation, Payload: payload}
}

func version(t *testing.T, c *Coordinator) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess, _, err := c.Info(ctx)
	require.NoError(t, err)
	return sess.Snapshot.Version
}

func content(t *testing.T, c *Coordinator) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess, _, err := c.Info(ctx)
	require.NoError(t, err)
	return sess.Snapshot.Content
}

func TestJoinDeliversSnapshotAndNotifiesOthers(t *testing.T) {
	c := startCoordinator(t, newStubStore(), testSession("Hello"), testTuning())

	sub1 := join(t, c, "u1")
	joined := waitKind(t, sub1, model.KindSessionJoined)

	var payload model.JoinedPayload
	require.NoError(t, json.Unmarshal(joined.Payload, &payload))
	assert.Equal(t, "Hello", payload.Session.Snapshot.Content)
	assert.Equal(t, "u1", payload.Participant.UserID)
	assert.Len(t, payload.Participants, 1)

	sub2 := join(t, c, "u2")
	waitKind(t, sub2, model.KindSessionJoined)
	notice := waitKind(t, sub1, model.KindParticipantJoined)
	assert.Equal(t, "u2", notice.UserID)
}

func TestEditsTransformAndBroadcast(t *testing.T) {
	// The §8 scenario end to end: "ABCD", X insert "12"@1, Y insert
	// "99"@2, both based on version 0.
	c := startCoordinator(t, newStubStore(), testSession("ABCD"), testTuning())
	sub1 := join(t, c, "u1")
	waitKind(t, sub1, model.KindSessionJoined)
	sub2 := join(t, c, "u2")
	waitKind(t, sub2, model.KindSessionJoined)
	waitKind(t, sub1, model.KindParticipantJoined)

	c.Deliver(sub1, editMsg(t, "x-1", model.OpInsert, 1, 0, "12", 0, 0))
	c.Deliver(sub2, editMsg(t, "y-1", model.OpInsert, 2, 0, "99", 0, 0))

	// u1 sees only u2's edit, already transformed past its own insert.
	evt := waitKind(t, sub1, model.KindEditOperation)
	var op model.Operation
	require.NoError(t, json.Unmarshal(evt.Payload, &op))
	assert.Equal(t, "u2", op.UserID)
	assert.Equal(t, 4, op.Start)
	assert.Equal(t, int64(2), op.Seq)

	assert.Eventually(t, func() bool { return version(t, c) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "A12B99CD", content(t, c))
}

func TestResubmissionIsIdempotent(t *testing.T) {
	c := startCoordinator(t, newStubStore(), testSession("AB"), testTuning())
	sub := join(t, c, "u1")
	waitKind(t, sub, model.KindSessionJoined)

	c.Deliver(sub, editMsg(t, "op-1", model.OpInsert, 1, 0, "x", 0, 0))
	assert.Eventually(t, func() bool { return version(t, c) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Resubmit after a simulated timeout: same operation_id, same payload.
	c.Deliver(sub, editMsg(t, "op-1", model.OpInsert, 1, 0, "x", 0, 0))
	c.Deliver(sub, editMsg(t, "op-2", model.OpInsert, 0, 0, "y", 0, 1))
	assert.Eventually(t, func() bool { return version(t, c) == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "yAxB", content(t, c), "op-1 must not apply twice")
}

func TestEditInDeletedRangeRejected(t *testing.T) {
	// "ABCDEF": u1 deletes [1,4), u2 replaces [2,3) based on the same
	// version. u2's edit must be refused, not applied to garbage.
	c := startCoordinator(t, newStubStore(), testSession("ABCDEF"), testTuning())
	sub1 := join(t, c, "u1")
	waitKind(t, sub1, model.KindSessionJoined)
	sub2 := join(t, c, "u2")
	waitKind(t, sub2, model.KindSessionJoined)

	c.Deliver(sub1, editMsg(t, "del-1", model.OpDelete, 1, 4, "", 0, 0))
	assert.Eventually(t, func() bool { return version(t, c) == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Deliver(sub2, editMsg(t, "rep-1", model.OpReplace, 2, 3, "c", 0, 0))
	evt := waitKind(t, sub2, model.KindError)
	var errPayload model.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &errPayload))
	assert.Equal(t, model.CodeSupersededByDelete, errPayload.Code)
	assert.Equal(t, "rep-1", errPayload.OperationID)

	assert.Equal(t, "AEF", content(t, c))
	assert.Equal(t, int64(1), version(t, c), "rejected operations consume no sequence number")
}

func TestConcurrentSubmissionsAllSequenced(t *testing.T) {
	c := startCoordinator(t, newStubStore(), testSession(""), testTuning())
	sub1 := join(t, c, "u1")
	waitKind(t, sub1, model.KindSessionJoined)
	sub2 := join(t, c, "u2")
	waitKind(t, sub2, model.KindSessionJoined)

	const perUser = 10
	go func() {
		for i := 0; i < perUser; i++ {
			c.Deliver(sub1, editMsg(t, "a-"+string(rune('0'+i)), model.OpInsert, 0, 0, "a", 0, 0))
		}
	}()
	go func() {
		for i := 0; i < perUser; i++ {
			c.Deliver(sub2, editMsg(t, "b-"+string(rune('0'+i)), model.OpInsert, 0, 0, "b", 0, 0))
		}
	}()

	assert.Eventually(t, func() bool { return version(t, c) == 2*perUser }, 3*time.Second, 10*time.Millisecond)

	final := content(t, c)
	assert.Len(t, final, 2*perUser, "no edit lost, no edit duplicated")
	assert.Equal(t, perUser, strings.Count(final, "a"))
	assert.Equal(t, perUser, strings.Count(final, "b"))
}

func TestEditsContinueStoredVersionLine(t *testing.T) {
	// Content saved at version 3 re-opens there; the advertised version is
	// a valid edit base and applied versions keep growing from it.
	store := newStubStore()
	sess := testSession("ABCD")
	sess.Snapshot.Version = 3
	tuning := testTuning()
	tuning.AutoSaveInterval = 25 * time.Millisecond
	c := startCoordinator(t, store, sess, tuning)

	sub := join(t, c, "u1")
	joined := waitKind(t, sub, model.KindSessionJoined)
	var payload model.JoinedPayload
	require.NoError(t, json.Unmarshal(joined.Payload, &payload))
	require.Equal(t, int64(3), payload.Session.Snapshot.Version)

	c.Deliver(sub, editMsg(t, "op-1", model.OpInsert, 1, 0, "x", 0, payload.Session.Snapshot.Version))
	assert.Eventually(t, func() bool { return version(t, c) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "AxBCD", content(t, c))

	c.Deliver(sub, editMsg(t, "op-2", model.OpInsert, 0, 0, "y", 0, 4))
	assert.Eventually(t, func() bool { return version(t, c) == 5 }, 2*time.Second, 10*time.Millisecond)

	// The persisted operation carries the absolute sequence number.
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, op := range store.ops {
			if op.ClientOpID == "op-1" && op.Seq == 4 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Auto-save flushes at the grown version, never a smaller one.
	assert.Eventually(t, func() bool {
		_, v := store.savedContent("note", "n1")
		return v == 5
	}, 2*time.Second, 10*time.Millisecond)

	// A base older than the opening snapshot predates the in-memory
	// history and cannot be transformed.
	c.Deliver(sub, editMsg(t, "op-3", model.OpInsert, 0, 0, "z", 0, 1))
	evt := waitKind(t, sub, model.KindError)
	var errPayload model.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &errPayload))
	assert.Equal(t, model.CodeStaleOperation, errPayload.Code)
	assert.Equal(t, int64(5), version(t, c))
}

func TestOverlappingReplaceLandsAppliedWithConflictRecord(t *testing.T) {
	store := newStubStore()
	c := startCoordinator(t, store, testSession("ABCDEF"), testTuning())
	sub1 := join(t, c, "u1")
	waitKind(t, sub1, model.KindSessionJoined)
	sub2 := join(t, c, "u2")
	waitKind(t, sub2, model.KindSessionJoined)

	c.Deliver(sub1, editMsg(t, "rep-1", model.OpReplace, 1, 3, "XY", 0, 0))
	assert.Eventually(t, func() bool { return version(t, c) == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Deliver(sub2, editMsg(t, "rep-2", model.OpReplace, 2, 4, "qq", 0, 0))

	evt := waitKind(t, sub1, model.KindEditOperation)
	var op model.Operation
	require.NoError(t, json.Unmarshal(evt.Payload, &op))
	assert.Equal(t, model.OpApplied, op.Status, "conflicts resolve into applied operations")
	assert.True(t, op.HasConflict)
	assert.NotEmpty(t, op.Resolution)
	assert.Equal(t, "AXYqqEF", content(t, c))
}

func TestAbandonedJoinReleasesSubscriber(t *testing.T) {
	sess := testSession("AB")
	sess.MaxParticipants = 2
	c := startCoordinator(t, newStubStore(), sess, testTuning())

	watcher := join(t, c, "u1")
	waitKind(t, watcher, model.KindSessionJoined)

	// Callers that give up while their join is in flight must not keep
	// the seat they never took.
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sub, err := c.Join(ctx, model.Identity{UserID: fmt.Sprintf("ghost-%d", i)})
		if err == nil {
			c.Leave(sub)
		}
	}

	assert.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		sub, err := c.Join(ctx, model.Identity{UserID: "late"})
		if err != nil {
			return false
		}
		c.Leave(sub)
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestJoinSnapshotEqualsAppliedHistory(t *testing.T) {
	c := startCoordinator(t, newStubStore(), testSession("ABCD"), testTuning())
	sub1 := join(t, c, "u1")
	waitKind(t, sub1, model.KindSessionJoined)

	c.Deliver(sub1, editMsg(t, "x-1", model.OpInsert, 1, 0, "12", 0, 0))
	c.Deliver(sub1, editMsg(t, "y-1", model.OpInsert, 2, 0, "99", 0, 0))
	assert.Eventually(t, func() bool { return version(t, c) == 2 }, 2*time.Second, 10*time.Millisecond)

	late := join(t, c, "u3")
	joined := waitKind(t, late, model.KindSessionJoined)
	var payload model.JoinedPayload
	require.NoError(t, json.Unmarshal(joined.Payload, &payload))
	assert.Equal(t, content(t, c), payload.Session.Snapshot.Content)
	assert.Equal(t, int64(2), payload.Session.Snapshot.Version)
}

func TestViewerCannotEdit(t *testing.T) {
	sess := testSession("AB")
	sess.DefaultPermission = model.PermissionView
	c := startCoordinator(t, newStubStore(), sess, testTuning())

	sub := join(t, c, "viewer")
	waitKind(t, sub, model.KindSessionJoined)

	c.Deliver(sub, editMsg(t, "op-1", model.OpInsert, 0, 0, "x", 0, 0))
	evt := waitKind(t, sub, model.KindError)
	var errPayload model.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &errPayload))
	assert.Equal(t, model.CodePermissionDenied, errPayload.Code)
	assert.Equal(t, "AB", content(t, c))
}

func TestStaleOperationRejected(t *testing.T) {
	tuning := testTuning()
	tuning.MaxTransformWindow = 2
	c := startCoordinator(t, newStubStore(), testSession(""), tuning)
	sub := join(t, c, "u1")
	waitKind(t, sub, model.KindSessionJoined)

	for i := 0; i < 4; i++ {
		c.Deliver(sub, editMsg(t, "op-"+string(rune('0'+i)), model.OpInsert, 0, 0, "x", 0, int64(i)))
	}
	assert.Eventually(t, func() bool { return version(t, c) == 4 }, 2*time.Second, 10*time.Millisecond)

	c.Deliver(sub, editMsg(t, "late", model.OpInsert, 0, 0, "y", 0, 0))
	evt := waitKind(t, sub, model.KindError)
	var errPayload model.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &errPayload))
	assert.Equal(t, model.CodeStaleOperation, errPayload.Code)
}

func TestCursorUpdatesBroadcastButNotLogged(t *testing.T) {
	c := startCoordinator(t, newStubStore(), testSession("AB"), testTuning())
	sub1 := join(t, c, "u1")
	waitKind(t, sub1, model.KindSessionJoined)
	sub2 := join(t, c, "u2")
	waitKind(t, sub2, model.KindSessionJoined)

	payload, _ := json.Marshal(model.CursorPayload{Position: model.CursorPosition{Start: 1, End: 1}})
	c.Deliver(sub2, &model.Message{Kind: model.KindUpdateCursor, Payload: payload})

	evt := waitKind(t, sub1, model.KindCursorUpdate)
	var cur model.CursorState
	require.NoError(t, json.Unmarshal(evt.Payload, &cur))
	assert.Equal(t, "u2", cur.UserID)
	assert.Equal(t, 1, cur.Start)

	assert.Equal(t, int64(0), version(t, c), "cursor traffic must not consume sequence numbers")
}

func TestHeartbeatAcknowledged(t *testing.T) {
	c := startCoordinator(t, newStubStore(), testSession("AB"), testTuning())
	sub := join(t, c, "u1")
	waitKind(t, sub, model.KindSessionJoined)

	c.Deliver(sub, &model.Message{Kind: model.KindHeartbeat})
	waitKind(t, sub, model.KindHeartbeatAck)
}

func TestPresenceTimeoutDemotesToAwayNotLeft(t *testing.T) {
	tuning := testTuning()
	tuning.SweepInterval = 20 * time.Millisecond
	tuning.AwayTimeout = 50 * time.Millisecond
	c := startCoordinator(t, newStubStore(), testSession("AB"), tuning)

	subSilent := join(t, c, "silent")
	waitKind(t, subSilent, model.KindSessionJoined)
	subLeaver := join(t, c, "leaver")
	waitKind(t, subLeaver, model.KindSessionJoined)

	c.Leave(subLeaver)

	assert.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, participants, err := c.Info(ctx)
		if err != nil {
			return false
		}
		var silent, leaver model.ParticipantStatus
		for _, p := range participants {
			switch p.UserID {
			case "silent":
				silent = p.Status
			case "leaver":
				leaver = p.Status
			}
		}
		return silent == model.ParticipantAway && leaver == model.ParticipantLeft
	}, 2*time.Second, 10*time.Millisecond, "silence means away; an explicit leave means left")
}

func TestDisconnectBecomesLeftOnlyAfterGrace(t *testing.T) {
	tuning := testTuning()
	tuning.SweepInterval = 20 * time.Millisecond
	tuning.LeaveGrace = 80 * time.Millisecond
	c := startCoordinator(t, newStubStore(), testSession("AB"), tuning)

	sub := join(t, c, "u1")
	waitKind(t, sub, model.KindSessionJoined)
	keep := join(t, c, "u2")
	waitKind(t, keep, model.KindSessionJoined)

	c.Disconnect(sub)

	status := func() model.ParticipantStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, participants, err := c.Info(ctx)
		require.NoError(t, err)
		for _, p := range participants {
			if p.UserID == "u1" {
				return p.Status
			}
		}
		return ""
	}

	assert.Eventually(t, func() bool { return status() == model.ParticipantAway }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return status() == model.ParticipantLeft }, 2*time.Second, 10*time.Millisecond)
}

func TestAutoSaveDoesNotBlockEdits(t *testing.T) {
	store := newStubStore()
	store.saveGate = make(chan struct{})

	tuning := testTuning()
	tuning.AutoSaveInterval = 25 * time.Millisecond
	tuning.SaveTimeout = 5 * time.Second
	c := startCoordinator(t, store, testSession(""), tuning)

	sub := join(t, c, "u1")
	waitKind(t, sub, model.KindSessionJoined)

	c.Deliver(sub, editMsg(t, "op-1", model.OpInsert, 0, 0, "a", 0, 0))
	assert.Eventually(t, func() bool { return store.saveAttempts() >= 1 }, 2*time.Second, 5*time.Millisecond)

	// The save is stuck on the gate. Edits must keep flowing.
	c.Deliver(sub, editMsg(t, "op-2", model.OpInsert, 1, 0, "b", 0, 1))
	c.Deliver(sub, editMsg(t, "op-3", model.OpInsert, 2, 0, "c", 0, 2))
	assert.Eventually(t, func() bool { return version(t, c) == 3 }, 2*time.Second, 10*time.Millisecond)

	close(store.saveGate)
	waitKind(t, sub, model.KindDocumentAutoSaved)

	assert.Eventually(t, func() bool {
		_, v := store.savedContent("note", "n1")
		return v == 3
	}, 2*time.Second, 10*time.Millisecond, "a later tick flushes the remaining edits")
}

func TestSaveFailureBroadcastsAndRetriesNextTick(t *testing.T) {
	store := newStubStore()
	store.setSaveErr(errors.New("storage down"))

	tuning := testTuning()
	tuning.AutoSaveInterval = 25 * time.Millisecond
	c := startCoordinator(t, store, testSession(""), tuning)

	sub := join(t, c, "u1")
	waitKind(t, sub, model.KindSessionJoined)

	c.Deliver(sub, editMsg(t, "op-1", model.OpInsert, 0, 0, "a", 0, 0))
	waitKind(t, sub, model.KindSaveError)

	store.setSaveErr(nil)
	waitKind(t, sub, model.KindDocumentAutoSaved)
	_, v := store.savedContent("note", "n1")
	assert.Equal(t, int64(1), v)
}

func TestExplicitSaveRequiresEditPermission(t *testing.T) {
	sess := testSession("AB")
	sess.DefaultPermission = model.PermissionComment
	c := startCoordinator(t, newStubStore(), sess, testTuning())

	sub := join(t, c, "commenter")
	waitKind(t, sub, model.KindSessionJoined)

	c.Deliver(sub, &model.Message{Kind: model.KindSaveDocument})
	evt := waitKind(t, sub, model.KindError)
	var errPayload model.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &errPayload))
	assert.Equal(t, model.CodePermissionDenied, errPayload.Code)
}

func TestCommentsBroadcastAndCount(t *testing.T) {
	store := newStubStore()
	sess := testSession("AB")
	sess.DefaultPermission = model.PermissionComment
	c := startCoordinator(t, store, sess, testTuning())

	sub1 := join(t, c, "u1")
	waitKind(t, sub1, model.KindSessionJoined)
	sub2 := join(t, c, "u2")
	waitKind(t, sub2, model.KindSessionJoined)

	payload, _ := json.Marshal(model.CommentPayload{Content: "looks wrong", Position: 1})
	c.Deliver(sub2, &model.Message{Kind: model.KindAddComment, Payload: payload})

	evt := waitKind(t, sub1, model.KindCommentAdded)
	var comment model.Comment
	require.NoError(t, json.Unmarshal(evt.Payload, &comment))
	assert.Equal(t, "u2", comment.UserID)
	assert.Equal(t, "looks wrong", comment.Content)
	assert.NotEmpty(t, comment.ID)
}

func TestSessionControlRequiresAdmin(t *testing.T) {
	c := startCoordinator(t, newStubStore(), testSession("AB"), testTuning())
	sub := join(t, c, "u1") // default permission: edit
	waitKind(t, sub, model.KindSessionJoined)

	payload, _ := json.Marshal(model.ControlPayload{Action: model.ActionEndSession})
	c.Deliver(sub, &model.Message{Kind: model.KindSessionControl, Payload: payload})

	evt := waitKind(t, sub, model.KindError)
	var errPayload model.ErrorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &errPayload))
	assert.Equal(t, model.CodePermissionDenied, errPayload.Code)
}

func TestAdminEndsSession(t *testing.T) {
	store := newStubStore()
	c := startCoordinator(t, store, testSession("AB"), testTuning())

	admin := join(t, c, "admin") // creator is admin
	waitKind(t, admin, model.KindSessionJoined)
	other := join(t, c, "u2")
	waitKind(t, other, model.KindSessionJoined)

	payload, _ := json.Marshal(model.ControlPayload{Action: model.ActionEndSession})
	c.Deliver(admin, &model.Message{Kind: model.KindSessionControl, Payload: payload})

	waitKind(t, other, model.KindSessionEnded)

	// The subscriber channel closes once the session is gone.
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-other.Receive():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// Ended state reached the store, with ended_at set.
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, s := range store.sessions {
			if s.Status == model.SessionEnded && s.EndedAt != nil {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Joining an ended session fails cleanly.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Join(ctx, model.Identity{UserID: "late"})
	assert.ErrorIs(t, err, model.ErrSessionEnded)
}

func TestSessionFull(t *testing.T) {
	sess := testSession("AB")
	sess.MaxParticipants = 2
	c := startCoordinator(t, newStubStore(), sess, testTuning())

	join(t, c, "u1")
	join(t, c, "u2")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Join(ctx, model.Identity{UserID: "u3"})
	assert.ErrorIs(t, err, model.ErrSessionFull)
}

func TestSoleParticipantLeavePausesAfterGrace(t *testing.T) {
	store := newStubStore()
	tuning := testTuning()
	tuning.SweepInterval = 20 * time.Millisecond
	tuning.LeaveGrace = 60 * time.Millisecond
	c := startCoordinator(t, store, testSession("AB"), tuning)

	sub := join(t, c, "u1")
	waitKind(t, sub, model.KindSessionJoined)
	c.Leave(sub)

	assert.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sess, _, err := c.Info(ctx)
		return err == nil && sess.Status == model.SessionPaused
	}, 2*time.Second, 10*time.Millisecond)

	// A returning participant resumes the paused session.
	sub2 := join(t, c, "u1")
	waitKind(t, sub2, model.KindSessionJoined)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess, _, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, sess.Status)
}
