package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/follow"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/notify"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/presence"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/session"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/transport"
)

// Service is the gateway service that pushes media session events to
// WebSocket clients.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler

	mu sync.Mutex
	// Per attached session: the unsubscribe hooks to tear down on detach.
	attached map[string][]transport.Unsubscribe
	// Per attached session: the latest follow state, pushed to new
	// connections so late joiners render without waiting for a transition.
	lastState map[string]follow.State
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service
func NewService(config Config) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	wsHandler := NewWebSocketHandler(connectionManager)

	s := &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
		attached:          make(map[string][]transport.Unsubscribe),
		lastState:         make(map[string]follow.State),
	}
	connectionManager.OnConnect(s.sendCatchUp)
	return s
}

// Start begins the gateway service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting session gateway service")

	s.connectionManager.Start(ctx)

	log.Info().Msg("session gateway service stopped")
	return nil
}

// AttachSession bridges a running session into the gateway: follow-state
// transitions and presence updates are fanned out to every WebSocket client
// subscribed to the given session ID.
func (s *Service) AttachSession(sessionID string, sess *session.Session) {
	var lastValue struct {
		mu   sync.Mutex
		json string
	}

	unsubState := sess.Coordinator().OnStateChanged(func(state follow.State) {
		s.mu.Lock()
		s.lastState[sessionID] = state
		s.mu.Unlock()

		s.broadcast(sessionID, EventTypeFollowStateChanged, state)

		raw, err := json.Marshal(state.Value)
		if err != nil {
			return
		}
		lastValue.mu.Lock()
		changed := lastValue.json != string(raw)
		lastValue.json = string(raw)
		lastValue.mu.Unlock()

		if changed {
			s.broadcast(sessionID, EventTypePlaybackChanged, state.Value)
		}
	})

	unsubPresence := sess.Presence().OnPresenceChanged(func(user presence.User) {
		s.broadcast(sessionID, EventTypePresenceChanged, PresenceChangedPayload{
			UserID:      user.UserID,
			DisplayName: user.DisplayName,
			Online:      user.Online(),
			Connections: len(user.Connections),
		})
	})

	s.mu.Lock()
	s.attached[sessionID] = append(s.attached[sessionID], unsubState, unsubPresence)
	s.lastState[sessionID] = sess.Coordinator().State()
	s.mu.Unlock()

	log.Info().Str("session_id", sessionID).Msg("session attached to gateway")
}

// DetachSession removes the bridge for a session. WebSocket connections stay
// open but stop receiving events.
func (s *Service) DetachSession(sessionID string) {
	s.mu.Lock()
	unsubs := s.attached[sessionID]
	delete(s.attached, sessionID)
	delete(s.lastState, sessionID)
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// sendCatchUp pushes the latest follow state to one freshly connected client.
func (s *Service) sendCatchUp(sessionID, userID string) {
	s.mu.Lock()
	state, ok := s.lastState[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}

	event, err := NewSessionEvent(sessionID, EventTypeFollowStateChanged, state)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to build catch-up event")
		return
	}
	s.connectionManager.BroadcastToUser(sessionID, userID, event)
}

// Sink returns a notification sink that forwards transitions to the
// session's WebSocket clients. Pass it to session.New alongside other sinks.
func (s *Service) Sink(sessionID string) notify.Sink {
	return sinkFunc(func(t notify.Transition) {
		s.broadcast(sessionID, EventTypeNotification, t)
	})
}

type sinkFunc func(notify.Transition)

func (f sinkFunc) Notify(t notify.Transition) { f(t) }

func (s *Service) broadcast(sessionID string, eventType EventType, payload interface{}) {
	event, err := NewSessionEvent(sessionID, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build session event")
		return
	}
	s.connectionManager.BroadcastToSession(sessionID, event)
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("session gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "session_gateway"
	stats["status"] = "running"
	return stats
}

// BroadcastEvent allows manual event broadcasting (useful for testing)
func (s *Service) BroadcastEvent(sessionID string, event *SessionEvent) {
	s.connectionManager.BroadcastToSession(sessionID, event)
}
