package chat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ridgeline/marketchat/backend/internal/identity"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow CORS for demo; tighten in prod.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const handshakeTimeout = 5 * time.Second

// RegisterWS mounts GET /ws for authenticated clients.
// Auth works via:
// 1) Header: Authorization: Bearer <JWT>
// 2) Query:  ?token=<JWT>
// The credential is validated before the connection is registered anywhere;
// a bad token never reaches the hub or the presence registry.
func RegisterWS(rg *gin.RouterGroup, hub *Hub, events *Pipeline, jwtSecret string) {
	rg.GET("/ws", func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			h := c.GetHeader("Authorization")
			if strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token", "code": CodeUnauthenticated})
			return
		}
		cl, err := identity.ParseToken(jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": CodeUnauthenticated})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := &Client{
			Hub:    hub,
			Events: events,
			Conn:   conn,
			Send:   make(chan []byte, 256),
			UserID: cl.UserID,
			ConnID: uuid.NewString(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		hub.Register(ctx, client)
		cancel()

		go client.writePump()
		go client.readPump()
	})
}
