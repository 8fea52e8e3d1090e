package transport

import (
	"context"
	"encoding/json"
)

// Transport is the replicated-session substrate the sync core runs on top of:
// a shared key-value map with last-write-wins semantics and ordered change
// delivery, an ephemeral event bus with sender identity, presence
// announcements, and a shared monotonic clock.
//
// Per-key value updates must be applied in the same order by every client.
// Events are delivered to currently-connected clients only and are never
// persisted.
type Transport interface {
	// ClientID identifies this connection. Stable for the lifetime of the
	// connection, unique across the session.
	ClientID() string

	// Started reports whether the substrate has joined the session. All
	// coordinator and synchronizer operations are no-ops until this is true.
	Started() bool

	// NowMS returns the shared monotonic clock in milliseconds.
	NowMS() int64

	SetSharedValue(ctx context.Context, key string, value json.RawMessage) error
	GetSharedValue(key string) (json.RawMessage, bool)
	OnValueChanged(key string, fn func(ValueChange)) Unsubscribe

	BroadcastEvent(ctx context.Context, key string, payload json.RawMessage) error
	OnEvent(key string, fn func(Event)) Unsubscribe

	AnnouncePresence(ctx context.Context, rec PresenceRecord) error
	// OnPresenceChanged subscribes to presence announcements. Implementations
	// that hold the current roster replay it to the new subscriber; otherwise
	// late joiners converge through participant heartbeats.
	OnPresenceChanged(fn func(PresenceRecord)) Unsubscribe
}

// Unsubscribe removes a previously registered callback.
type Unsubscribe func()

// ValueChange is delivered to OnValueChanged subscribers whenever a shared
// value is replaced. Changes for the same key arrive in the same order at
// every client, including the writer.
type ValueChange struct {
	Key         string          `json:"key"`
	SenderID    string          `json:"senderId"`
	TimestampMS int64           `json:"timestamp"`
	Value       json.RawMessage `json:"value"`
}

// Event is an ephemeral broadcast with sender identity.
type Event struct {
	Key         string          `json:"key"`
	SenderID    string          `json:"senderId"`
	UserID      string          `json:"userId"`
	TimestampMS int64           `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// PresenceRecord is one presence announcement for a single connection of a
// user. A user with no live connections is considered offline.
type PresenceRecord struct {
	// clientID ties an in-memory record back to the connection that wrote
	// it. Never serialized.
	clientID string

	UserID       string          `json:"userId"`
	DisplayName  string          `json:"displayName"`
	Roles        []string        `json:"roles"`
	ConnectionID string          `json:"connectionId"`
	Data         json.RawMessage `json:"data"`
	TimestampMS  int64           `json:"timestamp"`
	Online       bool            `json:"online"`
}
