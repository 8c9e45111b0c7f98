package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ridgeline/marketchat/backend/internal/utils"
)

// MarkRead records the caller as having read the given messages and emits
// ONE aggregated notification per call: to the reader's other connections
// (multi-device sync) and to every connection of the other participant
// (delivery confirmation). Ids outside the conversation, and ids already
// read, are silently ignored. Re-marking is idempotent.
func (p *Pipeline) MarkRead(ctx context.Context, c *Client, conversationID int64, messageIDs []int64) *Error {
	return p.markRead(ctx, c.UserID, c, conversationID, messageIDs)
}

// MarkReadByUser is the same tracker without an originating connection; the
// REST reconcile path uses it, so every device of the reader gets notified.
func (p *Pipeline) MarkReadByUser(ctx context.Context, userID, conversationID int64, messageIDs []int64) *Error {
	return p.markRead(ctx, userID, nil, conversationID, messageIDs)
}

func (p *Pipeline) markRead(ctx context.Context, userID int64, origin *Client, conversationID int64, messageIDs []int64) *Error {
	if len(messageIDs) == 0 {
		return nil
	}
	a, b, err := p.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	if userID != a && userID != b {
		return errf(CodeForbidden, "not a participant of conversation %d", conversationID)
	}

	// Keep only ids that actually belong to this conversation.
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	args := make([]any, 0, len(messageIDs)+1)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	args = append(args, conversationID)

	rows, qerr := p.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM messages WHERE id IN (%s) AND conversation_id=?`, placeholders),
		args...)
	if qerr != nil {
		log.Printf("[receipts] message filter failed (conversation %d): %v", conversationID, qerr)
		return errf(CodePersistenceFailed, "read state not stored")
	}
	var belonging []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		belonging = append(belonging, id)
	}
	rows.Close()
	if len(belonging) == 0 {
		return nil
	}

	ts := utils.FormatTime(time.Now())
	values := strings.TrimSuffix(strings.Repeat("(?, ?, ?),", len(belonging)), ",")
	insArgs := make([]any, 0, len(belonging)*3)
	for _, id := range belonging {
		insArgs = append(insArgs, id, userID, ts)
	}
	if _, ierr := p.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES %s
		ON CONFLICT(message_id, user_id) DO NOTHING`, values), insArgs...); ierr != nil {
		log.Printf("[receipts] upsert failed (conversation %d): %v", conversationID, ierr)
		return errf(CodePersistenceFailed, "read state not stored")
	}

	payload := marshal(readUpdateEvent{
		Type:           "message_read_update",
		ConversationID: conversationID,
		UserID:         userID,
		MessageIDs:     belonging,
	})
	p.Hub.PushToUserExcept(userID, origin, payload)
	p.Hub.PushToUser(otherOf(a, b, userID), payload)
	return nil
}
