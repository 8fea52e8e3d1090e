package notify

import (
	"github.com/rs/zerolog/log"
)

// Kind classifies a user-visible session transition.
type Kind string

const (
	KindTookControl       Kind = "TookControl"
	KindStoppedPresenting Kind = "StoppedPresenting"
	KindStartedFollowing  Kind = "StartedFollowing"
	KindStoppedFollowing  Kind = "StoppedFollowing"
	KindSuspensionBegan   Kind = "SuspensionBegan"
	KindSuspensionEnded   Kind = "SuspensionEnded"
	KindTrackChanged      Kind = "TrackChanged"
)

// Transition is one cosmetic state-change notification. It carries enough
// context for a presentation layer to render a message; no core logic reads
// these back.
type Transition struct {
	Kind         Kind   `json:"kind"`
	UserID       string `json:"userId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
	MediaID      string `json:"mediaId,omitempty"`
	TimestampMS  int64  `json:"timestamp"`
}

// Sink receives transition notifications. Implementations must not block.
type Sink interface {
	Notify(t Transition)
}

// LogSink writes transitions to the structured log.
type LogSink struct{}

func (LogSink) Notify(t Transition) {
	log.Info().
		Str("kind", string(t.Kind)).
		Str("user_id", t.UserID).
		Str("target_user_id", t.TargetUserID).
		Str("media_id", t.MediaID).
		Msg("session transition")
}

// NopSink discards all transitions.
type NopSink struct{}

func (NopSink) Notify(Transition) {}

// MultiSink fans a transition out to several sinks.
type MultiSink []Sink

func (m MultiSink) Notify(t Transition) {
	for _, sink := range m {
		sink.Notify(t)
	}
}
