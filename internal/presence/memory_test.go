package presence

import (
	"context"
	"testing"
	"time"
)

func TestAddRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	c1 := Conn{ID: "a", Instance: "gw1"}
	c2 := Conn{ID: "b", Instance: "gw1"}

	if err := m.Add(ctx, 1, c1); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(ctx, 1, c2); err != nil {
		t.Fatal(err)
	}

	conns, err := m.Connections(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 2 {
		t.Fatalf("got %d connections, want 2", len(conns))
	}

	if err := m.Remove(ctx, 1, c1); err != nil {
		t.Fatal(err)
	}
	online, err := Online(ctx, m, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !online {
		t.Error("user should still be online with one connection left")
	}

	if err := m.Remove(ctx, 1, c2); err != nil {
		t.Fatal(err)
	}
	online, err = Online(ctx, m, 1)
	if err != nil {
		t.Fatal(err)
	}
	if online {
		t.Error("user should be offline after last connection removed")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	c := Conn{ID: "a", Instance: "gw1"}

	if err := m.Remove(ctx, 1, c); err != nil {
		t.Errorf("Remove of absent conn should be a no-op, got %v", err)
	}
	if err := m.Add(ctx, 1, c); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(ctx, 1, c); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(ctx, 1, c); err != nil {
		t.Errorf("double Remove should be a no-op, got %v", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	if err := m.Add(ctx, 5, Conn{ID: "stale", Instance: "gw1"}); err != nil {
		t.Fatal(err)
	}

	// A stale entry older than the TTL is treated as offline even though the
	// disconnect notification never arrived.
	now = base.Add(2 * time.Minute)
	online, err := Online(ctx, m, 5)
	if err != nil {
		t.Fatal(err)
	}
	if online {
		t.Error("stale entry past TTL should read as offline")
	}
}

func TestHeartbeatExtends(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	if err := m.Add(ctx, 5, Conn{ID: "a", Instance: "gw1"}); err != nil {
		t.Fatal(err)
	}

	now = base.Add(45 * time.Second)
	if err := m.Heartbeat(ctx, 5); err != nil {
		t.Fatal(err)
	}

	now = base.Add(100 * time.Second)
	online, err := Online(ctx, m, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !online {
		t.Error("heartbeat should have extended the entry past the original TTL")
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory(time.Minute)
	if err := m.Add(ctx, 1, Conn{ID: "a"}); err == nil {
		t.Error("Add with cancelled context should fail")
	}
}

func TestMemberRoundTrip(t *testing.T) {
	c := Conn{ID: "abc-123", Instance: "gw-7"}
	got := parseMember(c.member())
	if got != c {
		t.Errorf("parseMember(member()) = %+v, want %+v", got, c)
	}
}
