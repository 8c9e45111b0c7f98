package chat

import "context"

// Typing relays a typing signal to the other participant's live connections.
// Nothing is persisted or queued; a client that vanishes mid-typing never
// produces a synthetic stop, so consumers apply their own staleness timeout.
func (p *Pipeline) Typing(ctx context.Context, c *Client, conversationID int64, isTyping bool) *Error {
	a, b, err := p.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	if c.UserID != a && c.UserID != b {
		return errf(CodeForbidden, "not a participant of conversation %d", conversationID)
	}

	payload := marshal(typingEvent{
		Type:           "typing",
		ConversationID: conversationID,
		UserID:         c.UserID,
		IsTyping:       isTyping,
	})
	p.Hub.PushToUser(otherOf(a, b, c.UserID), payload)
	return nil
}
