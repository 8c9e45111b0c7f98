package presence

import (
	"context"
	"fmt"
	"time"

	radix "github.com/mediocregopher/radix/v3"
)

const userKeyFmt = "presence:user:%d"

// Redis keeps one set per user in a shared Redis, so any gateway instance
// can resolve the full fan-out target list for a user.
type Redis struct {
	client radix.Client
	ttl    time.Duration
}

func NewRedis(client radix.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Redis{client: client, ttl: ttl}
}

// Dial builds a pooled client, matching how the rest of the infra connects.
func Dial(addr string, ttl time.Duration) (*Redis, error) {
	pool, err := radix.NewPool("tcp", addr, 10)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedis(pool, ttl), nil
}

func (r *Redis) key(userID int64) string {
	return fmt.Sprintf(userKeyFmt, userID)
}

func (r *Redis) ttlSec() string {
	return fmt.Sprintf("%d", int(r.ttl.Seconds()))
}

func (r *Redis) Add(ctx context.Context, userID int64, conn Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := r.key(userID)
	if err := r.client.Do(radix.Cmd(nil, "SADD", key, conn.member())); err != nil {
		return err
	}
	return r.client.Do(radix.Cmd(nil, "EXPIRE", key, r.ttlSec()))
}

func (r *Redis) Remove(ctx context.Context, userID int64, conn Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.client.Do(radix.Cmd(nil, "SREM", r.key(userID), conn.member()))
}

func (r *Redis) Connections(ctx context.Context, userID int64) ([]Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var members []string
	if err := r.client.Do(radix.Cmd(&members, "SMEMBERS", r.key(userID))); err != nil {
		return nil, err
	}
	conns := make([]Conn, 0, len(members))
	for _, m := range members {
		conns = append(conns, parseMember(m))
	}
	return conns, nil
}

func (r *Redis) Heartbeat(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.client.Do(radix.Cmd(nil, "EXPIRE", r.key(userID), r.ttlSec()))
}
