package presence

import (
	"context"
	"sync"
	"time"
)

// Memory is a single-process registry with the same TTL semantics as the
// Redis one. Used for dev runs without Redis and in tests.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	sets map[int64]map[Conn]time.Time // conn -> expiry
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Memory{
		ttl:  ttl,
		now:  time.Now,
		sets: make(map[int64]map[Conn]time.Time),
	}
}

func (m *Memory) Add(ctx context.Context, userID int64, conn Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[userID]
	if set == nil {
		set = make(map[Conn]time.Time)
		m.sets[userID] = set
	}
	set[conn] = m.now().Add(m.ttl)
	return nil
}

func (m *Memory) Remove(ctx context.Context, userID int64, conn Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(m.sets, userID)
		}
	}
	return nil
}

func (m *Memory) Connections(ctx context.Context, userID int64) ([]Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var conns []Conn
	for conn, exp := range m.sets[userID] {
		if exp.After(now) {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

func (m *Memory) Heartbeat(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := m.now().Add(m.ttl)
	for conn := range m.sets[userID] {
		m.sets[userID][conn] = exp
	}
	return nil
}
