// seedchat seeds a local database with two users' contacts, a conversation
// and a few messages, then prints dev tokens for poking the socket:
//
//	go run ./cmd/seedchat -a 1 -b 2
//	wscat -c "ws://localhost:8080/ws?token=<token>"
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/ridgeline/marketchat/backend/internal/config"
	"github.com/ridgeline/marketchat/backend/internal/identity"
	"github.com/ridgeline/marketchat/backend/internal/storage/sqlite"
	"github.com/ridgeline/marketchat/backend/internal/utils"
)

func main() {
	userA := flag.Int64("a", 1, "first user id")
	userB := flag.Int64("b", 2, "second user id")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using environment")
	}
	cfg := config.MustLoad()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	conn, err := sqlite.New(cfg.SQLiteDSN)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer conn.Db.Close()

	if err := conn.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	a, b := *userA, *userB
	if a > b {
		a, b = b, a
	}
	now := utils.FormatTime(time.Now())

	for _, u := range []int64{a, b} {
		if _, err := conn.Db.Exec(`
			INSERT INTO contacts (user_id, email, display_name) VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			u, fmt.Sprintf("user%d@example.test", u), fmt.Sprintf("Seed User %d", u)); err != nil {
			log.Fatalf("seed contact %d: %v", u, err)
		}
	}

	if _, err := conn.Db.Exec(`
		INSERT INTO conversations (participant_a, participant_b, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant_a, participant_b) DO NOTHING`, a, b, now, now); err != nil {
		log.Fatalf("seed conversation: %v", err)
	}
	var convID int64
	if err := conn.Db.QueryRow(
		`SELECT id FROM conversations WHERE participant_a=? AND participant_b=?`, a, b).Scan(&convID); err != nil {
		log.Fatalf("lookup conversation: %v", err)
	}

	seedTexts := []struct {
		sender int64
		text   string
	}{
		{a, "Hi, is the listing still available?"},
		{b, "It is! Want to meet this weekend?"},
		{a, "Saturday morning works for me."},
	}
	for _, m := range seedTexts {
		ts := utils.FormatTime(time.Now())
		if _, err := conn.Db.Exec(`
			INSERT INTO messages (conversation_id, sender_id, content, created_at)
			VALUES (?, ?, ?, ?)`, convID, m.sender, m.text, ts); err != nil {
			log.Fatalf("seed message: %v", err)
		}
		if _, err := conn.Db.Exec(`
			UPDATE conversations SET last_message_text=?, last_message_at=?, updated_at=? WHERE id=?`,
			m.text, ts, ts, convID); err != nil {
			log.Fatalf("seed summary: %v", err)
		}
	}

	fmt.Printf("conversation %d between users %d and %d\n", convID, a, b)
	for _, u := range []int64{a, b} {
		tok, err := identity.NewToken(cfg.JWTSecret, u, cfg.JWTTTLMin)
		if err != nil {
			log.Fatalf("token for %d: %v", u, err)
		}
		fmt.Printf("user %d token: %s\n", u, tok)
	}
}
