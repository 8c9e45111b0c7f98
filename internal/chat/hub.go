package chat

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/ridgeline/marketchat/backend/internal/notify"
	"github.com/ridgeline/marketchat/backend/internal/presence"
)

const presenceOpTimeout = 2 * time.Second

// Hub indexes the live connections owned by this gateway instance and keeps
// the shared Presence Registry in step with them. Fan-out to a user goes
// through here; durable state never does.
type Hub struct {
	Presence presence.Registry
	Notifier notify.Notifier // may be nil
	Instance string

	mu sync.Mutex
	// userID -> set of client connections (handles multi-tab / multi-device)
	clients map[int64]map[*Client]bool

	convos *sql.DB // conversation lookups for presence transition broadcast
}

func NewHub(db *sql.DB, reg presence.Registry, notifier notify.Notifier, instance string) *Hub {
	return &Hub{
		Presence: reg,
		Notifier: notifier,
		Instance: instance,
		clients:  make(map[int64]map[*Client]bool),
		convos:   db,
	}
}

// Register adds a freshly authenticated connection. The presence write is
// bounded by ctx; a registry failure is logged, not fatal: the TTL model
// tolerates a missed add the same way it tolerates a missed remove.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.mu.Lock()
	first := len(h.clients[c.UserID]) == 0
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*Client]bool)
	}
	h.clients[c.UserID][c] = true
	h.mu.Unlock()

	if err := h.Presence.Add(ctx, c.UserID, c.presenceConn()); err != nil {
		log.Printf("[hub] presence add failed for user %d: %v", c.UserID, err)
	}

	if first {
		h.broadcastPresence(c.UserID, "online")
	}
}

// Unregister runs exactly once per connection no matter how it died; the
// read pump defers it and slow-client drops route through it too.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok || !set[c] {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	close(c.Send)
	last := len(set) == 0
	if last {
		delete(h.clients, c.UserID)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()
	if err := h.Presence.Remove(ctx, c.UserID, c.presenceConn()); err != nil {
		// Best effort. The entry ages out via TTL.
		log.Printf("[hub] presence remove failed for user %d: %v", c.UserID, err)
	}

	if last {
		h.broadcastPresence(c.UserID, "offline")
	}
}

// PushToUser delivers a payload to every live local connection of a user and
// reports how many accepted it. A connection whose buffer is full is dropped
// rather than allowed to stall everyone else.
func (h *Hub) PushToUser(userID int64, payload []byte) int {
	return h.pushExcept(userID, nil, payload)
}

// PushToUserExcept is PushToUser minus one connection, used so a reader's
// originating device is not told about its own read.
func (h *Hub) PushToUserExcept(userID int64, except *Client, payload []byte) int {
	return h.pushExcept(userID, except, payload)
}

func (h *Hub) pushExcept(userID int64, except *Client, payload []byte) int {
	if payload == nil {
		return 0
	}
	var dropped []*Client
	delivered := 0

	h.mu.Lock()
	for client := range h.clients[userID] {
		if client == except {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			dropped = append(dropped, client)
		}
	}
	h.mu.Unlock()

	for _, client := range dropped {
		log.Printf("[hub] dropped slow client for user %d", userID)
		h.Unregister(client)
	}
	return delivered
}

// SendTo delivers to a single connection (the sender ack path). The
// membership check under the lock keeps it from racing a concurrent drop.
func (h *Hub) SendTo(c *Client, payload []byte) {
	if payload == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.clients[c.UserID]; !ok || !set[c] {
		h.mu.Unlock()
		return
	}
	select {
	case c.Send <- payload:
		h.mu.Unlock()
		return
	default:
	}
	h.mu.Unlock()
	log.Printf("[hub] dropped slow client for user %d", c.UserID)
	h.Unregister(c)
}

// broadcastPresence tells the other participant of each of the user's
// conversations about an online/offline transition. Advisory only: a
// consumer that misses one must not break.
func (h *Hub) broadcastPresence(userID int64, status string) {
	payload := marshal(presenceEvent{Type: "presence", UserID: userID, Status: status})

	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()
	rows, err := h.convos.QueryContext(ctx, `
		SELECT DISTINCT CASE WHEN participant_a=? THEN participant_b ELSE participant_a END
		FROM conversations WHERE participant_a=? OR participant_b=?`,
		userID, userID, userID)
	if err != nil {
		log.Printf("[hub] presence broadcast query failed for user %d: %v", userID, err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			continue
		}
		h.PushToUser(uid, payload)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[hub] presence broadcast iteration error: %v", err)
	}
}
