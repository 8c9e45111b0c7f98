package presence

import (
	"context"
	"strings"
)

// Conn identifies one live socket, tagged with the gateway instance that
// owns it so a multi-instance deployment can tell connections apart.
type Conn struct {
	ID       string
	Instance string
}

func (c Conn) member() string {
	return c.Instance + "/" + c.ID
}

func parseMember(s string) Conn {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return Conn{Instance: s[:i], ID: s[i+1:]}
	}
	return Conn{ID: s}
}

// Registry is the shared record of live connections per user. Membership is
// mutated with additive/subtractive set operations only; entries carry a TTL
// refreshed by heartbeat so a crashed gateway's sockets age out on their own.
type Registry interface {
	Add(ctx context.Context, userID int64, conn Conn) error
	Remove(ctx context.Context, userID int64, conn Conn) error
	Connections(ctx context.Context, userID int64) ([]Conn, error)
	Heartbeat(ctx context.Context, userID int64) error
}

// Online reports whether the user has at least one live connection.
func Online(ctx context.Context, r Registry, userID int64) (bool, error) {
	conns, err := r.Connections(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(conns) > 0, nil
}
