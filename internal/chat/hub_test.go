package chat

import (
	"context"
	"testing"

	"github.com/ridgeline/marketchat/backend/internal/presence"
)

func TestRegisterTracksPresence(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	hub, p, reg := newTestHub(t, db)

	phone := connect(t, hub, p, 7)
	laptop := connect(t, hub, p, 7)

	conns, err := reg.Connections(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 2 {
		t.Fatalf("registry lists %d connections, want 2", len(conns))
	}
	for _, c := range conns {
		if c.Instance != "gw-test" {
			t.Errorf("connection instance = %q, want gw-test", c.Instance)
		}
	}

	hub.Unregister(phone)
	if online, _ := presence.Online(ctx, reg, 7); !online {
		t.Error("user with one remaining device should be online")
	}

	hub.Unregister(laptop)
	if online, _ := presence.Online(ctx, reg, 7); online {
		t.Error("user should be offline after last disconnect")
	}
}

func TestUnregisterExactlyOnce(t *testing.T) {
	db := openTestDB(t)
	hub, p, _ := newTestHub(t, db)

	c := connect(t, hub, p, 1)
	hub.Unregister(c)
	// A second teardown (client- and network-initiated paths can race) must
	// be a no-op, not a double close.
	hub.Unregister(c)

	if _, ok := <-c.Send; ok {
		t.Error("Send channel should be closed after unregister")
	}
}

func TestPresenceTransitionBroadcast(t *testing.T) {
	db := openTestDB(t)
	hub, p, _ := newTestHub(t, db)
	seedConversation(t, db, 1, 2)

	bob := connect(t, hub, p, 2)
	drain(bob)

	alicePhone := connect(t, hub, p, 1)
	ev := recvEvent(t, bob)
	if ev["type"] != "presence" || ev["status"] != "online" {
		t.Fatalf("got %v, want presence online", ev)
	}
	if int64(ev["user_id"].(float64)) != 1 {
		t.Errorf("user_id = %v, want 1", ev["user_id"])
	}

	// A second device is not a transition.
	aliceLaptop := connect(t, hub, p, 1)
	noEvent(t, bob)

	hub.Unregister(alicePhone)
	noEvent(t, bob)

	hub.Unregister(aliceLaptop)
	ev = recvEvent(t, bob)
	if ev["type"] != "presence" || ev["status"] != "offline" {
		t.Fatalf("got %v, want presence offline", ev)
	}
}

func TestPushToUserCountsDeliveries(t *testing.T) {
	db := openTestDB(t)
	hub, p, _ := newTestHub(t, db)

	c1 := connect(t, hub, p, 4)
	c2 := connect(t, hub, p, 4)
	drain(c1, c2)

	if n := hub.PushToUser(4, []byte(`{"type":"presence"}`)); n != 2 {
		t.Errorf("delivered to %d connections, want 2", n)
	}
	if n := hub.PushToUser(999, []byte(`{"type":"presence"}`)); n != 0 {
		t.Errorf("delivered to %d connections of absent user, want 0", n)
	}
}

func TestSlowClientDropped(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	hub, p, reg := newTestHub(t, db)

	c := &Client{
		Hub:    hub,
		Events: p,
		Send:   make(chan []byte, 1),
		UserID: 8,
		ConnID: "slow",
	}
	hub.Register(ctx, c)

	payload := []byte(`{"type":"presence"}`)
	if n := hub.PushToUser(8, payload); n != 1 {
		t.Fatalf("first push delivered %d, want 1", n)
	}
	// Buffer full now: the client is dropped instead of blocking fan-out.
	if n := hub.PushToUser(8, payload); n != 0 {
		t.Errorf("second push delivered %d, want 0", n)
	}

	if online, _ := presence.Online(ctx, reg, 8); online {
		t.Error("dropped client should be unregistered from presence")
	}
}
