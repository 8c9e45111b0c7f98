package messages

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ridgeline/marketchat/backend/internal/chat"
	"github.com/ridgeline/marketchat/backend/internal/httpx"
	"github.com/ridgeline/marketchat/backend/internal/identity"
	"github.com/ridgeline/marketchat/backend/internal/utils"
)

// Service is the REST catch-up path: clients that were offline fetch history
// here; the socket handles the live path.
type Service struct {
	DB     *sql.DB
	Events *chat.Pipeline
}

type pageReq struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

type readReq struct {
	ConversationID int64   `json:"conversation_id" binding:"required"`
	MessageIDs     []int64 `json:"message_ids" binding:"required"`
}

func Register(rg *gin.RouterGroup, db *sql.DB, events *chat.Pipeline) {
	s := Service{DB: db, Events: events}
	rg.GET("/conversations/:id/messages", s.list)
	rg.POST("/messages/read", s.markRead)
}

func (s Service) list(c *gin.Context) {
	uid := identity.MustUserID(c)
	conversationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid conversation id")
		return
	}

	a, b, cerr := s.Events.Participants(c.Request.Context(), conversationID)
	if cerr != nil {
		httpx.Err(c, statusFor(cerr), cerr.Message)
		return
	}
	if uid != a && uid != b {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}

	var q pageReq
	_ = c.BindQuery(&q)
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}

	// Persistence order: created_at, ties broken by insertion id.
	rows, err := s.DB.Query(`
		SELECT m.id, m.sender_id, m.content, COALESCE(m.attachments,''), COALESCE(m.local_id,''),
		       m.created_at, COALESCE(m.edited_at,''), COALESCE(m.deleted_at,''),
		       EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?)
		FROM messages m
		WHERE m.conversation_id=?
		ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`,
		otherParticipant(a, b, uid), conversationID, q.Limit, q.Offset)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	defer rows.Close()

	var list []gin.H
	for rows.Next() {
		var (
			id, senderID                            int64
			content, attRaw, localID, cAt, eAt, dAt string
			readByOther                             bool
		)
		if err := rows.Scan(&id, &senderID, &content, &attRaw, &localID, &cAt, &eAt, &dAt, &readByOther); err != nil {
			log.Printf("list: failed to scan row: %v", err)
			continue
		}

		state := chat.StateActive
		switch {
		case dAt != "":
			state = chat.StateDeleted
		case eAt != "":
			state = chat.StateEdited
		}
		var attachments []string
		if attRaw != "" {
			_ = json.Unmarshal([]byte(attRaw), &attachments)
		}

		entry := gin.H{
			"id":            id,
			"sender_id":     senderID,
			"text":          content,
			"state":         state,
			"created_at":    cAt,
			"read_by_other": readByOther,
		}
		if len(attachments) > 0 {
			entry["attachments"] = attachments
		}
		if localID != "" && senderID == uid {
			entry["local_id"] = localID
		}
		if eAt != "" {
			entry["edited_at"] = eAt
		}
		if dAt != "" {
			entry["deleted_at"] = dAt
		}
		list = append(list, entry)
	}
	httpx.OK(c, gin.H{"messages": list})
}

// markRead is the REST twin of the message_read socket event, for clients
// reconciling after reconnect. Same tracker, same aggregated broadcast.
func (s Service) markRead(c *gin.Context) {
	uid := identity.MustUserID(c)
	var req readReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	if cerr := s.Events.MarkReadByUser(c.Request.Context(), uid, req.ConversationID, req.MessageIDs); cerr != nil {
		httpx.Err(c, statusFor(cerr), cerr.Message)
		return
	}
	httpx.OK(c, gin.H{"message": "marked as read"})
}

func statusFor(e *chat.Error) int {
	switch e.Code {
	case chat.CodeNotFound:
		return http.StatusNotFound
	case chat.CodeForbidden:
		return http.StatusForbidden
	case chat.CodeValidationFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func otherParticipant(a, b, uid int64) int64 {
	if uid == a {
		return b
	}
	return a
}
