package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ridgeline/marketchat/backend/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192

	storeOpTimeout = 5 * time.Second
)

type Client struct {
	Hub    *Hub
	Events *Pipeline
	Conn   *websocket.Conn
	Send   chan []byte
	UserID int64
	ConnID string

	mu    sync.Mutex
	rooms map[int64]bool
}

func (c *Client) presenceConn() presence.Conn {
	return presence.Conn{ID: c.ConnID, Instance: c.Hub.Instance}
}

// Joined reports whether this connection has subscribed to the conversation.
func (c *Client) Joined(conversationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[conversationID]
}

func (c *Client) joinRoom(conversationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms == nil {
		c.rooms = make(map[int64]bool)
	}
	c.rooms[conversationID] = true
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		// Pongs double as the presence heartbeat.
		ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
		defer cancel()
		_ = c.Hub.Presence.Heartbeat(ctx, c.UserID)
		return nil
	})
	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}
		c.dispatch(msg)
	}
}

// dispatch routes one inbound event. Rejections go back on the error event
// to this connection only; nothing is broadcast for a failed operation.
func (c *Client) dispatch(raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.sendError(errf(CodeValidationFailed, "malformed event"), "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	var opErr *Error
	switch in.Type {
	case "join_conversation":
		opErr = c.Events.Join(ctx, c, in.ConversationID)
	case "message_send":
		opErr = c.Events.Send(ctx, c, in)
	case "typing":
		opErr = c.Events.Typing(ctx, c, in.ConversationID, in.IsTyping)
	case "message_read":
		opErr = c.Events.MarkRead(ctx, c, in.ConversationID, in.MessageIDs)
	case "message_edit":
		opErr = c.Events.Edit(ctx, c, in.MessageID, in.Text)
	case "message_delete":
		opErr = c.Events.Delete(ctx, c, in.MessageID)
	default:
		opErr = errf(CodeValidationFailed, "unknown event type %q", in.Type)
	}
	if opErr != nil {
		c.sendError(opErr, in.LocalID)
	}
}

func (c *Client) sendError(e *Error, localID string) {
	c.Hub.SendTo(c, marshal(errorEvent{
		Type:    "error",
		Code:    e.Code,
		Message: e.Message,
		LocalID: localID,
	}))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
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
