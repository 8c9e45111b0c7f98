package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ridgeline/marketchat/backend/internal/presence"
	"github.com/ridgeline/marketchat/backend/internal/storage/sqlite"
	"github.com/ridgeline/marketchat/backend/internal/utils"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sqlite.New("file:" + filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.MigrateFrom("../../sql/schema.sql"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Db.Close() })
	return conn.Db
}

func newTestHub(t *testing.T, db *sql.DB) (*Hub, *Pipeline, *presence.Memory) {
	t.Helper()
	reg := presence.NewMemory(time.Minute)
	hub := NewHub(db, reg, nil, "gw-test")
	p := NewPipeline(db, hub, 0)
	return hub, p, reg
}

// connect registers a fake device for the user, bypassing the websocket
// transport: events land on the buffered Send channel.
func connect(t *testing.T, hub *Hub, p *Pipeline, userID int64) *Client {
	t.Helper()
	c := &Client{
		Hub:    hub,
		Events: p,
		Send:   make(chan []byte, 64),
		UserID: userID,
		ConnID: uuid.NewString(),
	}
	hub.Register(context.Background(), c)
	return c
}

func seedConversation(t *testing.T, db *sql.DB, u1, u2 int64) int64 {
	t.Helper()
	a, b := u1, u2
	if a > b {
		a, b = b, a
	}
	ts := utils.FormatTime(time.Now())
	if _, err := db.Exec(`
		INSERT INTO conversations (participant_a, participant_b, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, a, b, ts, ts); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	var id int64
	if err := db.QueryRow(
		`SELECT id FROM conversations WHERE participant_a=? AND participant_b=?`, a, b).Scan(&id); err != nil {
		t.Fatalf("lookup conversation: %v", err)
	}
	return id
}

func recvEvent(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.Send:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal event %q: %v", raw, err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

func noEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected event: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

// drain discards whatever is already queued (presence chatter from setup).
func drain(clients ...*Client) {
	for _, c := range clients {
		for done := false; !done; {
			select {
			case <-c.Send:
			default:
				done = true
			}
		}
	}
}

func eventMessage(t *testing.T, m map[string]any) map[string]any {
	t.Helper()
	msg, ok := m["message"].(map[string]any)
	if !ok {
		t.Fatalf("event has no message object: %v", m)
	}
	return msg
}

func messageID(t *testing.T, m map[string]any) int64 {
	t.Helper()
	id, ok := eventMessage(t, m)["id"].(float64)
	if !ok {
		t.Fatalf("event message has no id: %v", m)
	}
	return int64(id)
}
