package conversations

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ridgeline/marketchat/backend/internal/httpx"
	"github.com/ridgeline/marketchat/backend/internal/identity"
	"github.com/ridgeline/marketchat/backend/internal/presence"
	"github.com/ridgeline/marketchat/backend/internal/utils"
)

type Service struct {
	DB       *sql.DB
	Presence presence.Registry
}

type privateReq struct {
	OtherUserID int64 `json:"other_user_id" binding:"required"`
}

func Register(rg *gin.RouterGroup, db *sql.DB, reg presence.Registry) {
	s := Service{DB: db, Presence: reg}
	rg.GET("/conversations", s.listMine)
	rg.POST("/conversations/private", s.createOrGetPrivate)
	rg.GET("/users/:id/presence", s.userPresence)
}

// createOrGetPrivate resolves the single conversation for (me, other),
// creating it if absent. Safe to call repeatedly and concurrently: the
// unique pair index makes creation converge on one row.
func (s Service) createOrGetPrivate(c *gin.Context) {
	uid := identity.MustUserID(c)
	var req privateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.OtherUserID == uid {
		httpx.Err(c, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}

	a, b := uid, req.OtherUserID
	if a > b {
		a, b = b, a
	}
	now := utils.FormatTime(time.Now())
	if _, err := s.DB.Exec(`
		INSERT INTO conversations (participant_a, participant_b, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant_a, participant_b) DO NOTHING`, a, b, now, now); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "create conversation failed")
		return
	}

	var id int64
	if err := s.DB.QueryRow(
		`SELECT id FROM conversations WHERE participant_a=? AND participant_b=?`, a, b).Scan(&id); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "conversation lookup failed")
		return
	}

	httpx.OK(c, gin.H{"conversation_id": id})
}

// listMine renders the conversation list from the denormalized summary; no
// message scan needed.
func (s Service) listMine(c *gin.Context) {
	uid := identity.MustUserID(c)

	rows, err := s.DB.Query(`
		SELECT c.id, c.participant_a, c.participant_b,
		       COALESCE(c.last_message_text, ''), COALESCE(c.last_message_at, ''), c.created_at,
		       (SELECT COUNT(1) FROM messages m
		        WHERE m.conversation_id = c.id AND m.sender_id <> ? AND m.deleted_at IS NULL
		          AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?)
		       ) AS unread
		FROM conversations c
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`,
		uid, uid, uid, uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}
	defer rows.Close()

	var list []gin.H
	for rows.Next() {
		var (
			id, pa, pb, unread    int64
			lastText, lastAt, cAt string
		)
		if err := rows.Scan(&id, &pa, &pb, &lastText, &lastAt, &cAt, &unread); err != nil {
			log.Printf("listMine: failed to scan row: %v", err)
			continue
		}
		other := pa
		if pa == uid {
			other = pb
		}
		list = append(list, gin.H{
			"id":                id,
			"other_user_id":     other,
			"last_message_text": lastText,
			"last_message_at":   lastAt,
			"unread_count":      unread,
			"created_at":        cAt,
		})
	}
	if err := rows.Err(); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "error reading conversation list")
		return
	}

	httpx.OK(c, gin.H{"conversations": list})
}

// userPresence reports the advisory online state straight from the registry.
func (s Service) userPresence(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid user id")
		return
	}

	conns, err := s.Presence.Connections(c.Request.Context(), userID)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "presence lookup failed")
		return
	}
	httpx.OK(c, gin.H{"user_id": userID, "online": len(conns) > 0, "connections": len(conns)})
}
