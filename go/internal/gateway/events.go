package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/follow"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/notify"
)

// SessionEvent represents the base structure for all session events pushed
// to UI clients.
type SessionEvent struct {
	ID        string          `json:"id"`         // Event UUID
	SessionID string          `json:"session_id"` // Media session ID
	Type      EventType       `json:"type"`       // Event type
	Timestamp time.Time       `json:"timestamp"`  // Event creation time
	Data      json.RawMessage `json:"data"`       // Event-specific payload
}

// EventType represents the type of session event
type EventType string

const (
	EventTypeFollowStateChanged EventType = "FollowStateChanged"
	EventTypePlaybackChanged    EventType = "PlaybackChanged"
	EventTypePresenceChanged    EventType = "PresenceChanged"
	EventTypeNotification       EventType = "Notification"
)

// PresenceChangedPayload describes a roster update for one user.
type PresenceChangedPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

// NewSessionEvent builds an event with a marshaled payload. The payload must
// be JSON-serializable.
func NewSessionEvent(sessionID string, eventType EventType, payload interface{}) (*SessionEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &SessionEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *SessionEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeFollowStateChanged:
		var payload follow.State
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePlaybackChanged:
		var payload follow.FollowData
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypePresenceChanged:
		var payload PresenceChangedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeNotification:
		var payload notify.Transition
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
