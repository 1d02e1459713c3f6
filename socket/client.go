package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"coedit/internal/collab/model"
	"coedit/internal/collab/session"
	"coedit/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	joinTimeout    = 5 * time.Second
	pingInterval   = 30 * time.Second
	readWait       = 90 * time.Second
	writeWait      = 10 * time.Second
	malformedLimit = 5
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows us to connect from the separate editor frontend.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one WebSocket connection bound to a session subscriber. The
// coordinator owns the subscriber channel; the client owns the socket and
// its two pumps.
type Client struct {
	Conn        *websocket.Conn
	Coordinator *session.Coordinator
	Sub         *session.Subscriber
	User        model.Identity

	// errs carries transport-level error events (malformed messages) so
	// writes stay single-goroutine.
	errs chan []byte
}

// ServeWs upgrades the connection, joins the user into the session named
// by the query string, and starts the read/write pumps.
func ServeWs(reg *session.Registry, w http.ResponseWriter, r *http.Request, user model.Identity) {
	token := r.URL.Query().Get("session")
	if token == "" {
		http.Error(w, "Missing session parameter", http.StatusBadRequest)
		return
	}

	coordinator, ok := reg.Get(token)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), joinTimeout)
	defer cancel()
	sub, err := coordinator.Join(ctx, user)
	if err != nil {
		logger.Sugar.Warnf("Join rejected for user %s on session %s: %v", user.UserID, token, err)
		closeWithError(conn, err)
		return
	}

	client := &Client{
		Conn:        conn,
		Coordinator: coordinator,
		Sub:         sub,
		User:        user,
		errs:        make(chan []byte, 8),
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	explicit := false
	defer func() {
		if explicit {
			c.Coordinator.Leave(c.Sub)
		} else {
			c.Coordinator.Disconnect(c.Sub)
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(readWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	strikes := 0
	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			// A clean close is an intentional departure; anything else is
			// a dropped transport, which gets the reconnect grace period.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				explicit = true
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("read error for user %s: %v", c.User.UserID, err)
			}
			return
		}

		msg, err := model.ParseInbound(raw)
		if err != nil {
			strikes++
			logger.Sugar.Warnf("Malformed message from %s (%d/%d): %v", c.User.UserID, strikes, malformedLimit, err)
			c.pushError(model.CodeMalformedMessage, err.Error())
			if strikes >= malformedLimit {
				return
			}
			continue
		}

		// Server-authoritative identity: never trust what the client
		// wrote in the envelope.
		msg.SessionToken = c.Coordinator.Token()
		msg.UserID = c.User.UserID

		c.Coordinator.Deliver(c.Sub, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Sub.Receive():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The coordinator dropped us or the session ended.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case message := <-c.errs:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) pushError(code, message string) {
	event, err := model.NewEvent(model.KindError, c.Coordinator.Token(), c.User.UserID,
		model.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	raw, _ := json.Marshal(event)
	select {
	case c.errs <- raw:
	default:
	}
}

func closeWithError(conn *websocket.Conn, err error) {
	event, merr := model.NewEvent(model.KindError, "", "", model.ErrorPayload{
		Code:    model.ErrorCode(err),
		Message: err.Error(),
	})
	if merr == nil {
		raw, _ := json.Marshal(event)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, raw)
	}
	conn.Close()
}
