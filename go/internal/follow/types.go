package follow

import (
	"encoding/json"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/presence"
)

// FollowModeType identifies whose playback authority a participant is bound
// to. Every participant has exactly one value at a time.
type FollowModeType string

const (
	// FollowModeLocal means no authority is bound.
	FollowModeLocal FollowModeType = "local"
	// FollowModeActivePresenter means this user is the group authority.
	FollowModeActivePresenter FollowModeType = "activePresenter"
	// FollowModeActiveFollowers means this user presents and has followers.
	FollowModeActiveFollowers FollowModeType = "activeFollowers"
	// FollowModeFollowPresenter means this user tracks the group presenter.
	FollowModeFollowPresenter FollowModeType = "followPresenter"
	// FollowModeFollowUser means this user tracks a specific other user.
	FollowModeFollowUser FollowModeType = "followUser"
	// FollowModeSuspendFollowPresenter is followPresenter with local
	// synchronization suspended.
	FollowModeSuspendFollowPresenter FollowModeType = "suspendFollowPresenter"
	// FollowModeSuspendFollowUser is followUser with local synchronization
	// suspended.
	FollowModeSuspendFollowUser FollowModeType = "suspendFollowUser"
)

// Presenting reports whether the type is an authority variant.
func (t FollowModeType) Presenting() bool {
	return t == FollowModeActivePresenter || t == FollowModeActiveFollowers
}

// Following reports whether the type is bound to some authority.
func (t FollowModeType) Following() bool {
	switch t {
	case FollowModeFollowPresenter, FollowModeFollowUser,
		FollowModeSuspendFollowPresenter, FollowModeSuspendFollowUser:
		return true
	}
	return false
}

// Suspended reports whether the type is a suspend variant.
func (t FollowModeType) Suspended() bool {
	return t == FollowModeSuspendFollowPresenter || t == FollowModeSuspendFollowUser
}

// PositionChange records the last playback-intent event. MediaPosition is
// the position at TimestampMS, not "now"; consumers extrapolate elapsed time
// when Paused is false.
type PositionChange struct {
	TimestampMS   int64   `json:"timestamp"`
	MediaPosition float64 `json:"mediaPosition"`
}

// FollowData is the authoritative "what to play" payload replicated between
// participants.
type FollowData struct {
	MediaID string          `json:"mediaId,omitempty"`
	Paused  bool            `json:"paused"`
	Changed *PositionChange `json:"changed,omitempty"`
}

// State is the derived per-participant follow-mode state.
type State struct {
	Type FollowModeType `json:"type"`
	// FollowingUserID is the user currently being followed; empty for
	// local and presenting variants.
	FollowingUserID string `json:"followingUserId,omitempty"`
	// Value is the playback intent the local player should track.
	Value FollowData `json:"value"`
	// StartedSuspension reports whether local suspension is active.
	StartedSuspension bool `json:"startedSuspension"`
}

// UserData is the payload each participant replicates in its presence
// record: its locally-bound follow target plus last known intent.
type UserData struct {
	FollowingUserID string     `json:"followingUserId,omitempty"`
	Value           FollowData `json:"value"`
}

// DecodeUserData parses a presence data payload; a missing or malformed
// payload decodes to the zero value.
func DecodeUserData(raw json.RawMessage) UserData {
	var data UserData
	if len(raw) == 0 {
		return data
	}
	_ = json.Unmarshal(raw, &data)
	return data
}

// presenterClaim is the replicated take-control record. An empty UserID
// means nobody is presenting.
type presenterClaim struct {
	UserID      string `json:"userId,omitempty"`
	ClaimedAtMS int64  `json:"claimedAt,omitempty"`
}

// valueEnvelope wraps the canonical FollowData with the authority that
// published it, for per-authority stale-event rejection.
type valueEnvelope struct {
	AuthorityID string     `json:"authorityId"`
	Data        FollowData `json:"data"`
}

// Snapshot is the input roster for type derivation.
type Snapshot struct {
	PresenterID string
	Users       []presence.User
}

// LocalIntent is the local participant's declared binding.
type LocalIntent struct {
	FollowingUserID string
	Suspended       bool
}
