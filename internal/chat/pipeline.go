package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ridgeline/marketchat/backend/internal/utils"
)

const defaultMaxMessageChars = 5000

// Pipeline owns every socket operation that touches durable state: message
// send, edit, delete, room join, read receipts and the typing relay. It is
// the only writer of conversations/messages/message_reads.
type Pipeline struct {
	DB       *sql.DB
	Hub      *Hub
	MaxChars int

	// Striped per-conversation locks held across persist+broadcast so a
	// recipient never observes messages out of persistence order. Sends on
	// different conversations never contend.
	convLocks [64]sync.Mutex
}

func NewPipeline(db *sql.DB, hub *Hub, maxChars int) *Pipeline {
	if maxChars <= 0 {
		maxChars = defaultMaxMessageChars
	}
	return &Pipeline{DB: db, Hub: hub, MaxChars: maxChars}
}

func (p *Pipeline) convLock(conversationID int64) *sync.Mutex {
	return &p.convLocks[int(conversationID%int64(len(p.convLocks)))]
}

// Participants returns the fixed pair for a conversation.
func (p *Pipeline) Participants(ctx context.Context, conversationID int64) (int64, int64, *Error) {
	var a, b int64
	row := p.DB.QueryRowContext(ctx,
		`SELECT participant_a, participant_b FROM conversations WHERE id=?`, conversationID)
	if err := row.Scan(&a, &b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, errf(CodeNotFound, "conversation %d not found", conversationID)
		}
		return 0, 0, errf(CodePersistenceFailed, "conversation lookup failed")
	}
	return a, b, nil
}

func otherOf(a, b, userID int64) int64 {
	if userID == a {
		return b
	}
	return a
}

// Join verifies the caller is one of the two participants and subscribes
// this connection to the conversation.
func (p *Pipeline) Join(ctx context.Context, c *Client, conversationID int64) *Error {
	a, b, err := p.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	if c.UserID != a && c.UserID != b {
		return errf(CodeForbidden, "not a participant of conversation %d", conversationID)
	}
	c.joinRoom(conversationID)
	return nil
}

// FindOrCreateConversation resolves the single conversation for an unordered
// pair, creating it if absent. Concurrent creators converge on one row via
// the unique (participant_a, participant_b) index.
func (p *Pipeline) FindOrCreateConversation(ctx context.Context, u1, u2 int64) (int64, *Error) {
	a, b := u1, u2
	if a > b {
		a, b = b, a
	}
	ts := utils.FormatTime(time.Now())
	if _, err := p.DB.ExecContext(ctx, `
		INSERT INTO conversations (participant_a, participant_b, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant_a, participant_b) DO NOTHING`, a, b, ts, ts); err != nil {
		log.Printf("[pipeline] conversation create failed for (%d,%d): %v", a, b, err)
		return 0, errf(CodePersistenceFailed, "conversation create failed")
	}

	var id int64
	row := p.DB.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE participant_a=? AND participant_b=?`, a, b)
	if err := row.Scan(&id); err != nil {
		return 0, errf(CodePersistenceFailed, "conversation lookup failed")
	}
	return id, nil
}

// Send runs the delivery pipeline: validate, resolve conversation, persist,
// update the last-message summary, ack the sender, fan out to the recipient.
// Persistence strictly precedes any broadcast.
func (p *Pipeline) Send(ctx context.Context, c *Client, in Inbound) *Error {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return errf(CodeValidationFailed, "message needs text or an attachment")
	}
	if utf8.RuneCountInString(text) > p.MaxChars {
		return errf(CodeValidationFailed, "text exceeds %d characters", p.MaxChars)
	}

	var conversationID, recipient int64
	switch {
	case in.ConversationID != 0:
		a, b, err := p.Participants(ctx, in.ConversationID)
		if err != nil {
			return err
		}
		if c.UserID != a && c.UserID != b {
			return errf(CodeForbidden, "not a participant of conversation %d", in.ConversationID)
		}
		if !c.Joined(in.ConversationID) {
			return errf(CodeForbidden, "join conversation %d before sending", in.ConversationID)
		}
		conversationID = in.ConversationID
		recipient = otherOf(a, b, c.UserID)

	case in.OtherUserID != 0:
		if in.OtherUserID == c.UserID {
			return errf(CodeValidationFailed, "cannot start a conversation with yourself")
		}
		id, err := p.FindOrCreateConversation(ctx, c.UserID, in.OtherUserID)
		if err != nil {
			return err
		}
		conversationID = id
		recipient = in.OtherUserID
		// Implicit create implies join for the originating connection.
		c.joinRoom(conversationID)

	default:
		return errf(CodeValidationFailed, "conversation_id or other_user_id required")
	}

	mu := p.convLock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	ts := utils.FormatTime(time.Now())
	var attachments sql.NullString
	if len(in.Attachments) > 0 {
		raw, _ := json.Marshal(in.Attachments)
		attachments = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := p.DB.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, attachments, local_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, c.UserID, text, attachments, in.LocalID, ts)
	if err != nil {
		log.Printf("[pipeline] message insert failed (conversation %d): %v", conversationID, err)
		return errf(CodePersistenceFailed, "message not stored")
	}
	messageID, _ := res.LastInsertId()

	summary := text
	if summary == "" {
		summary = fmt.Sprintf("[%d attachment(s)]", len(in.Attachments))
	}
	// Guarded update: the summary timestamp never moves backwards, even if
	// two gateway instances race.
	if _, err := p.DB.ExecContext(ctx, `
		UPDATE conversations SET last_message_text=?, last_message_at=?, updated_at=?
		WHERE id=? AND (last_message_at IS NULL OR last_message_at <= ?)`,
		summary, ts, ts, conversationID, ts); err != nil {
		// Message is durable; the denormalized summary catches up on the
		// next send.
		log.Printf("[pipeline] summary update failed (conversation %d): %v", conversationID, err)
	}

	wire := WireMessage{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       c.UserID,
		Text:           text,
		Attachments:    in.Attachments,
		State:          StateActive,
		CreatedAt:      ts,
	}

	// Ack only the originating connection, echoing local_id.
	p.Hub.SendTo(c, marshal(messageEvent{Type: "message_new", Message: wire, LocalID: in.LocalID}))

	payload := marshal(messageEvent{Type: "message_new", Message: wire})
	conns, perr := p.Hub.Presence.Connections(ctx, recipient)
	delivered := p.Hub.PushToUser(recipient, payload)
	if perr != nil {
		// Registry down degrades to local-only delivery, never to an error.
		log.Printf("[pipeline] presence lookup failed for user %d: %v (pushed to %d local connections)",
			recipient, perr, delivered)
		return nil
	}
	if len(conns) == 0 && delivered == 0 {
		p.notifyOffline(recipient, c.UserID, summary)
	}
	return nil
}

// notifyOffline fires the best-effort email ping for a recipient with no
// live connections anywhere.
func (p *Pipeline) notifyOffline(recipient, sender int64, preview string) {
	if p.Hub.Notifier == nil {
		return
	}
	name := p.senderName(sender)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p.Hub.Notifier.NewMessage(ctx, recipient, name, preview)
	}()
}

func (p *Pipeline) senderName(userID int64) string {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	var name string
	row := p.DB.QueryRowContext(ctx, `SELECT display_name FROM contacts WHERE user_id=?`, userID)
	if err := row.Scan(&name); err != nil || name == "" {
		return fmt.Sprintf("User %d", userID)
	}
	return name
}

type messageRow struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Text           string
	Attachments    string
	CreatedAt      string
	EditedAt       string
	DeletedAt      string
}

func (p *Pipeline) loadMessage(ctx context.Context, messageID int64) (*messageRow, *Error) {
	var m messageRow
	m.ID = messageID
	row := p.DB.QueryRowContext(ctx, `
		SELECT conversation_id, sender_id, content,
		       COALESCE(attachments,''), created_at, COALESCE(edited_at,''), COALESCE(deleted_at,'')
		FROM messages WHERE id=?`, messageID)
	err := row.Scan(&m.ConversationID, &m.SenderID, &m.Text, &m.Attachments, &m.CreatedAt, &m.EditedAt, &m.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errf(CodeNotFound, "message %d not found", messageID)
		}
		return nil, errf(CodePersistenceFailed, "message lookup failed")
	}
	return &m, nil
}

func (m *messageRow) wire() WireMessage {
	w := WireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		State:          StateActive,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
		DeletedAt:      m.DeletedAt,
	}
	if m.Attachments != "" {
		_ = json.Unmarshal([]byte(m.Attachments), &w.Attachments)
	}
	switch {
	case m.DeletedAt != "":
		w.State = StateDeleted
	case m.EditedAt != "":
		w.State = StateEdited
	}
	return w
}

// Edit replaces the text of the caller's own message and broadcasts the
// updated row to both participants' live connections.
func (p *Pipeline) Edit(ctx context.Context, c *Client, messageID int64, newText string) *Error {
	text := strings.TrimSpace(newText)
	if text == "" {
		return errf(CodeValidationFailed, "edited text must not be empty")
	}
	if utf8.RuneCountInString(text) > p.MaxChars {
		return errf(CodeValidationFailed, "text exceeds %d characters", p.MaxChars)
	}

	m, err := p.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.DeletedAt != "" {
		return errf(CodeNotFound, "message %d is deleted", messageID)
	}
	if m.SenderID != c.UserID {
		return errf(CodeForbidden, "only the sender can edit a message")
	}

	ts := utils.FormatTime(time.Now())
	if _, derr := p.DB.ExecContext(ctx, `
		UPDATE messages SET content=?, edited_at=? WHERE id=? AND deleted_at IS NULL`,
		text, ts, messageID); derr != nil {
		log.Printf("[pipeline] edit failed (message %d): %v", messageID, derr)
		return errf(CodePersistenceFailed, "edit not stored")
	}

	m.Text = text
	m.EditedAt = ts
	p.broadcastUpdate(ctx, m)
	return nil
}

// Delete is a soft marker: the row stays for history ordering, text and
// attachments are cleared.
func (p *Pipeline) Delete(ctx context.Context, c *Client, messageID int64) *Error {
	m, err := p.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.DeletedAt != "" {
		return errf(CodeNotFound, "message %d is deleted", messageID)
	}
	if m.SenderID != c.UserID {
		return errf(CodeForbidden, "only the sender can delete a message")
	}

	ts := utils.FormatTime(time.Now())
	if _, derr := p.DB.ExecContext(ctx, `
		UPDATE messages SET content='', attachments=NULL, deleted_at=? WHERE id=? AND deleted_at IS NULL`,
		ts, messageID); derr != nil {
		log.Printf("[pipeline] delete failed (message %d): %v", messageID, derr)
		return errf(CodePersistenceFailed, "delete not stored")
	}

	m.Text = ""
	m.Attachments = ""
	m.DeletedAt = ts
	p.broadcastUpdate(ctx, m)
	return nil
}

// broadcastUpdate pushes a message_update to every live connection of both
// participants: the same audience as the original delivery plus the
// sender's other devices.
func (p *Pipeline) broadcastUpdate(ctx context.Context, m *messageRow) {
	a, b, err := p.Participants(ctx, m.ConversationID)
	if err != nil {
		log.Printf("[pipeline] update broadcast skipped: %v", err)
		return
	}
	payload := marshal(messageEvent{Type: "message_update", Message: m.wire()})
	p.Hub.PushToUser(a, payload)
	p.Hub.PushToUser(b, payload)
}
