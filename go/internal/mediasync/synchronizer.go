package mediasync

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/follow"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/mediaclock"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/transport"
)

// Config holds synchronizer tuning.
type Config struct {
	// DriftToleranceSeconds is the maximum position disagreement with the
	// authority before a forced re-seek.
	DriftToleranceSeconds float64
}

// DefaultConfig returns default synchronizer configuration.
func DefaultConfig() Config {
	return Config{DriftToleranceSeconds: 2.0}
}

// Synchronizer reconciles the local player against the bound authority's
// playback intent and converts local gestures into outgoing intent when the
// local participant is the authority.
//
// Gestures from a follower never broadcast: they begin a local suspension
// and apply to the local player only, so a follower can scrub ahead without
// hijacking group state.
type Synchronizer struct {
	coord  *follow.Coordinator
	player Player
	clock  mediaclock.Clock
	cfg    Config

	mu    sync.Mutex
	unsub transport.Unsubscribe
}

// NewSynchronizer creates a synchronizer owning the given player.
func NewSynchronizer(coord *follow.Coordinator, player Player, clock mediaclock.Clock, cfg Config) *Synchronizer {
	if cfg.DriftToleranceSeconds <= 0 {
		cfg.DriftToleranceSeconds = DefaultConfig().DriftToleranceSeconds
	}
	return &Synchronizer{
		coord:  coord,
		player: player,
		clock:  clock,
		cfg:    cfg,
	}
}

// Start subscribes to follow-mode state changes and performs an immediate
// catch-up reconciliation from the current snapshot, so late joiners land on
// the group's position right away.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	s.unsub = s.coord.OnStateChanged(s.handleState)
	s.mu.Unlock()

	s.handleState(s.coord.State())
}

// Stop detaches from the coordinator.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Suspended reports whether local suspension is active.
func (s *Synchronizer) Suspended() bool {
	return s.coord.State().StartedSuspension
}

// Play starts playback. As authority this publishes unpaused intent stamped
// at the current shared-clock time; as follower it suspends and plays
// locally only.
func (s *Synchronizer) Play(ctx context.Context) {
	s.gesture(ctx, func() follow.FollowData {
		s.player.Play()
		return s.intentFromPlayer(false, s.player.Position())
	})
}

// Pause stops playback, with the same authority/follower split as Play.
func (s *Synchronizer) Pause(ctx context.Context) {
	s.gesture(ctx, func() follow.FollowData {
		s.player.Pause()
		return s.intentFromPlayer(true, s.player.Position())
	})
}

// SeekTo moves playback to the given position in seconds.
func (s *Synchronizer) SeekTo(ctx context.Context, seconds float64) {
	s.gesture(ctx, func() follow.FollowData {
		s.player.SeekTo(seconds)
		return s.intentFromPlayer(s.player.Paused(), seconds)
	})
}

// SetTrack switches the loaded media. Switching resets position to 0 and
// pauses, mirroring a fresh session.
func (s *Synchronizer) SetTrack(ctx context.Context, mediaID string) {
	s.gesture(ctx, func() follow.FollowData {
		s.player.LoadTrack(mediaID)
		return follow.FollowData{
			MediaID: mediaID,
			Paused:  true,
			Changed: &follow.PositionChange{TimestampMS: s.clock.NowMS(), MediaPosition: 0},
		}
	})
}

// EndSuspension resumes synchronization and forces an immediate resync from
// the authority's latest intent, overwriting any local divergence.
func (s *Synchronizer) EndSuspension() {
	s.coord.EndSuspension()
}

// BeginVolumeLimit engages the player's volume limiter, e.g. while another
// participant is speaking. Stateless pass-through.
func (s *Synchronizer) BeginVolumeLimit() {
	s.player.SetVolumeLimited(true)
}

// EndVolumeLimit disengages the player's volume limiter.
func (s *Synchronizer) EndVolumeLimit() {
	s.player.SetVolumeLimited(false)
}

// gesture routes one local playback action: authorities (and unbound local
// participants) apply and publish; followers suspend and apply locally only.
func (s *Synchronizer) gesture(ctx context.Context, apply func() follow.FollowData) {
	state := s.coord.State()
	switch {
	case state.Type.Presenting() || state.Type == follow.FollowModeLocal:
		data := apply()
		s.coord.Update(ctx, data)
	default:
		if !state.StartedSuspension {
			s.coord.BeginSuspension()
		}
		apply()
	}
}

func (s *Synchronizer) intentFromPlayer(paused bool, position float64) follow.FollowData {
	return follow.FollowData{
		MediaID: s.player.CurrentTrack(),
		Paused:  paused,
		Changed: &follow.PositionChange{
			TimestampMS:   s.clock.NowMS(),
			MediaPosition: position,
		},
	}
}

// handleState runs on every follow-mode state change. Reconciliation is
// skipped entirely while suspended; the player is left alone until
// EndSuspension snaps it to the latest value.
func (s *Synchronizer) handleState(state follow.State) {
	if state.StartedSuspension {
		return
	}
	s.reconcile(state.Value)
}

// reconcile drives the local player to the authority's intent: switch track
// if needed, extrapolate the target position over elapsed shared-clock time
// when unpaused, re-seek beyond the drift tolerance, and match paused-ness.
func (s *Synchronizer) reconcile(data follow.FollowData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data.MediaID == "" {
		return
	}
	if s.player.CurrentTrack() != data.MediaID {
		s.player.LoadTrack(data.MediaID)
		log.Debug().Str("media_id", data.MediaID).Msg("switched track for reconciliation")
	}

	if data.Changed != nil {
		target := data.Changed.MediaPosition
		if !data.Paused {
			target += float64(s.clock.NowMS()-data.Changed.TimestampMS) / 1000.0
		}
		if target < 0 {
			target = 0
		}
		if duration := s.player.Duration(); duration > 0 && target > duration {
			target = duration
		}
		if math.Abs(s.player.Position()-target) > s.cfg.DriftToleranceSeconds {
			log.Debug().
				Float64("target", target).
				Float64("position", s.player.Position()).
				Msg("re-seeking to authority position")
			s.player.SeekTo(target)
		}
	}

	if data.Paused && !s.player.Paused() {
		s.player.Pause()
	} else if !data.Paused && s.player.Paused() {
		s.player.Play()
	}
}
