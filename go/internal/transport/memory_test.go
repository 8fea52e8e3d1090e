package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestHubLastWriteWinsPerKey(t *testing.T) {
	hub := NewHub(clockwork.NewFakeClockAt(time.UnixMilli(1_000)))
	a := hub.Connect()
	b := hub.Connect()
	a.Start()
	b.Start()

	var seen []string
	b.OnValueChanged("state", func(change ValueChange) {
		seen = append(seen, string(change.Value))
	})

	ctx := context.Background()
	if err := a.SetSharedValue(ctx, "state", json.RawMessage(`"first"`)); err != nil {
		t.Fatal(err)
	}
	if err := b.SetSharedValue(ctx, "state", json.RawMessage(`"second"`)); err != nil {
		t.Fatal(err)
	}

	if len(seen) != 2 || seen[0] != `"first"` || seen[1] != `"second"` {
		t.Fatalf("expected ordered delivery, got %v", seen)
	}
	value, ok := a.GetSharedValue("state")
	if !ok || string(value) != `"second"` {
		t.Fatalf("expected last write to win, got %q", value)
	}
}

func TestHubEventsCarrySenderIdentity(t *testing.T) {
	hub := NewHub(clockwork.NewFakeClockAt(time.UnixMilli(1_000)))
	a := hub.Connect()
	b := hub.Connect()
	a.Start()
	b.Start()

	ctx := context.Background()
	if err := a.AnnouncePresence(ctx, PresenceRecord{
		UserID:       "alice",
		ConnectionID: "conn-1",
		Online:       true,
	}); err != nil {
		t.Fatal(err)
	}

	var got Event
	b.OnEvent("ping", func(ev Event) { got = ev })

	if err := a.BroadcastEvent(ctx, "ping", json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}
	if got.SenderID != a.ClientID() {
		t.Fatalf("expected sender %s, got %s", a.ClientID(), got.SenderID)
	}
	if got.UserID != "alice" {
		t.Fatalf("expected user alice, got %s", got.UserID)
	}
}

func TestHubReplaysPresenceToLateJoiner(t *testing.T) {
	hub := NewHub(clockwork.NewFakeClockAt(time.UnixMilli(1_000)))
	a := hub.Connect()
	a.Start()

	ctx := context.Background()
	if err := a.AnnouncePresence(ctx, PresenceRecord{
		UserID:       "alice",
		ConnectionID: "conn-1",
		Online:       true,
	}); err != nil {
		t.Fatal(err)
	}

	late := hub.Connect()
	late.Start()
	var seen []PresenceRecord
	late.OnPresenceChanged(func(rec PresenceRecord) { seen = append(seen, rec) })

	if len(seen) != 1 || seen[0].UserID != "alice" {
		t.Fatalf("expected replayed presence for alice, got %v", seen)
	}
}

func TestHubDisconnectFansOutOffline(t *testing.T) {
	hub := NewHub(clockwork.NewFakeClockAt(time.UnixMilli(1_000)))
	a := hub.Connect()
	b := hub.Connect()
	a.Start()
	b.Start()

	ctx := context.Background()
	if err := a.AnnouncePresence(ctx, PresenceRecord{
		UserID:       "alice",
		ConnectionID: "conn-1",
		Online:       true,
	}); err != nil {
		t.Fatal(err)
	}

	var last PresenceRecord
	b.OnPresenceChanged(func(rec PresenceRecord) { last = rec })

	hub.Disconnect(a)
	if last.UserID != "alice" || last.Online {
		t.Fatalf("expected offline record for alice, got %+v", last)
	}
}

func TestClientWriteBeforeStartFails(t *testing.T) {
	hub := NewHub(clockwork.NewFakeClockAt(time.UnixMilli(1_000)))
	c := hub.Connect()

	err := c.SetSharedValue(context.Background(), "state", json.RawMessage(`{}`))
	if err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}
