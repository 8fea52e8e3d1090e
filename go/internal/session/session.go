package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/follow"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/mediaclock"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/mediasync"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/notify"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/presence"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/transport"
)

// Config describes one participant of a shared media session.
type Config struct {
	UserID      string
	DisplayName string
	Roles       []presence.Role

	// AllowedRoles limits presenter eligibility; empty means everyone.
	AllowedRoles []presence.Role

	// ShareInitiator auto-takes control on start when no presenter exists.
	ShareInitiator bool

	DriftToleranceSeconds float64
	HeartbeatInterval     time.Duration
	OfflineTimeout        time.Duration
}

// Session wires one participant's clock, presence, coordinator, and
// synchronizer over a single substrate connection.
type Session struct {
	tr      transport.Transport
	reg     *presence.Registry
	coord   *follow.Coordinator
	sync    *mediasync.Synchronizer
	cfg     Config
	cancel  context.CancelFunc
	started bool
}

// New assembles a session for the given participant. The transport must
// already be connected (Started); the session handles the presence join.
func New(tr transport.Transport, player mediasync.Player, sink notify.Sink, clock clockwork.Clock, cfg Config) *Session {
	reg := presence.NewRegistry(tr, clock, presence.Config{
		AllowedRoles:      cfg.AllowedRoles,
		HeartbeatInterval: cfg.HeartbeatInterval,
		OfflineTimeout:    cfg.OfflineTimeout,
	})
	coord := follow.NewCoordinator(tr, reg, sink, follow.Config{
		ShareInitiator: cfg.ShareInitiator,
	})
	sharedClock := mediaclock.Func(tr.NowMS)
	synchronizer := mediasync.NewSynchronizer(coord, player, sharedClock, mediasync.Config{
		DriftToleranceSeconds: cfg.DriftToleranceSeconds,
	})
	return &Session{
		tr:    tr,
		reg:   reg,
		coord: coord,
		sync:  synchronizer,
		cfg:   cfg,
	}
}

// Start joins presence, starts the coordinator, and attaches the
// synchronizer. Idempotent.
func (s *Session) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	if !s.tr.Started() {
		return fmt.Errorf("start session: %w", transport.ErrNotStarted)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.reg.Start(runCtx)

	intent, err := json.Marshal(follow.UserData{})
	if err != nil {
		cancel()
		return fmt.Errorf("marshal initial intent: %w", err)
	}
	if err := s.reg.Join(runCtx, s.cfg.UserID, s.cfg.DisplayName, s.cfg.Roles, intent); err != nil {
		cancel()
		return fmt.Errorf("join session: %w", err)
	}
	if err := s.coord.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start session: %w", err)
	}
	s.sync.Start()
	s.started = true

	log.Info().
		Str("user_id", s.cfg.UserID).
		Bool("share_initiator", s.cfg.ShareInitiator).
		Msg("media session started")
	return nil
}

// Stop leaves presence and detaches all components.
func (s *Session) Stop(ctx context.Context) {
	if !s.started {
		return
	}
	s.started = false
	s.sync.Stop()
	s.coord.Stop()
	if err := s.reg.Leave(ctx); err != nil {
		log.Debug().Err(err).Msg("failed to announce leave")
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Info().Str("user_id", s.cfg.UserID).Msg("media session stopped")
}

// Coordinator exposes the follow-mode state machine.
func (s *Session) Coordinator() *follow.Coordinator { return s.coord }

// Synchronizer exposes the media synchronizer.
func (s *Session) Synchronizer() *mediasync.Synchronizer { return s.sync }

// Presence exposes the participant roster.
func (s *Session) Presence() *presence.Registry { return s.reg }
