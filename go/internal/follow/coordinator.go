package follow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/notify"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/presence"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/transport"
)

// Shared-value keys. Each is a whole-value replace; writers read-modify-write
// the full structure.
const (
	presenterKey = "followMode.presenter"
	valueKey     = "followMode.value"
)

// Config holds coordinator options.
type Config struct {
	// ShareInitiator marks the client that bootstraps the session: it
	// auto-takes control when it observes no presenter, so at least one
	// authority exists from the start.
	ShareInitiator bool
}

// Coordinator is the follow-mode state machine for one participant. It
// re-derives the local FollowModeType reactively from the latest replicated
// truth on every presence or shared-value change; conflicting intents across
// participants resolve by the substrate's last-write-wins ordering, never by
// locking.
//
// All action methods are fire-and-forget: preconditions that no longer hold
// make the call a logged no-op, and the visible effect arrives when the
// update round-trips through the substrate.
type Coordinator struct {
	tr   transport.Transport
	reg  *presence.Registry
	sink notify.Sink
	cfg  Config

	mu          sync.Mutex
	started     bool
	intent      LocalIntent
	presenterID string
	value       FollowData // canonical value from the presenter authority
	localValue  FollowData // local playback value, used when unbound
	lastApplied map[string]int64
	state       State
	callbacks   map[int]func(State)
	nextCB      int
	unsubs      []transport.Unsubscribe
}

// NewCoordinator creates a coordinator over the substrate and roster.
func NewCoordinator(tr transport.Transport, reg *presence.Registry, sink notify.Sink, cfg Config) *Coordinator {
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &Coordinator{
		tr:          tr,
		reg:         reg,
		sink:        sink,
		cfg:         cfg,
		lastApplied: make(map[string]int64),
		state:       State{Type: FollowModeLocal},
		callbacks:   make(map[int]func(State)),
	}
}

// Start subscribes to the replicated session and derives the initial state.
// The local user must already have joined presence.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.tr.Started() {
		return fmt.Errorf("start coordinator: %w", transport.ErrNotStarted)
	}

	c.mu.Lock()
	c.started = true
	c.unsubs = append(c.unsubs,
		c.tr.OnValueChanged(presenterKey, c.handlePresenterChange),
		c.tr.OnValueChanged(valueKey, c.handleValueChange),
	)
	c.mu.Unlock()
	unsubPresence := c.reg.OnPresenceChanged(func(user presence.User) {
		if !user.Online() {
			// A departed authority's stale-intent watermark has nothing left
			// to guard; a rejoin re-stamps from the current clock.
			c.mu.Lock()
			delete(c.lastApplied, user.UserID)
			c.mu.Unlock()
		}
		c.recompute()
	})
	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubPresence)

	// Late-join catch-up from the current replicated snapshot.
	if raw, ok := c.tr.GetSharedValue(presenterKey); ok {
		var claim presenterClaim
		if err := json.Unmarshal(raw, &claim); err == nil {
			c.presenterID = claim.UserID
		}
	}
	if raw, ok := c.tr.GetSharedValue(valueKey); ok {
		var env valueEnvelope
		if err := json.Unmarshal(raw, &env); err == nil {
			c.value = env.Data
			if env.Data.Changed != nil {
				c.lastApplied[env.AuthorityID] = env.Data.Changed.TimestampMS
			}
		}
	}
	noPresenter := c.presenterID == ""
	c.mu.Unlock()

	c.recompute()

	if c.cfg.ShareInitiator && noPresenter && c.State().Type == FollowModeLocal {
		c.TakeControl(ctx)
	}
	return nil
}

// Stop unsubscribes from the replicated session.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.started = false
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// State returns the current derived follow-mode state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChanged registers a callback invoked whenever the derived state
// changes.
func (c *Coordinator) OnStateChanged(fn func(State)) transport.Unsubscribe {
	c.mu.Lock()
	id := c.nextCB
	c.nextCB++
	c.callbacks[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.callbacks, id)
		c.mu.Unlock()
	}
}

// LocalUser returns the local participant's presence entry.
func (c *Coordinator) LocalUser() (presence.User, bool) {
	return c.reg.Get(c.reg.LocalUserID())
}

// OtherUsers returns every other known participant, ordered by join time.
func (c *Coordinator) OtherUsers() []presence.User {
	localID := c.reg.LocalUserID()
	var out []presence.User
	for _, user := range c.reg.List() {
		if user.UserID != localID {
			out = append(out, user)
		}
	}
	return out
}

// TakeControl claims the presenter role. No-op unless the caller is
// eligible and no other online participant currently holds the claim. Two
// concurrent claims resolve by substrate write order: the loser observes the
// surviving claim and re-derives to a follow variant.
func (c *Coordinator) TakeControl(ctx context.Context) {
	if !c.tr.Started() {
		log.Debug().Msg("takeControl ignored: transport not started")
		return
	}
	localID := c.reg.LocalUserID()
	local, ok := c.reg.Get(localID)
	if !ok || !c.reg.IsEligiblePresenter(local) {
		log.Debug().Str("user_id", localID).Msg("takeControl ignored: not eligible")
		return
	}

	c.mu.Lock()
	if c.presenterID != "" && c.presenterID != localID && c.presenterOnlineLocked() {
		holder := c.presenterID
		c.mu.Unlock()
		log.Debug().
			Str("user_id", localID).
			Str("presenter_id", holder).
			Msg("takeControl ignored: another presenter is active")
		return
	}
	c.intent = LocalIntent{}
	value := c.localValue
	c.mu.Unlock()

	c.writeClaim(ctx, localID)
	c.writeValue(ctx, localID, value)
	c.publishIntent(ctx)
	c.recompute()
}

// FollowUser binds the local participant to a specific other user and
// adopts that user's current playback intent immediately. No-op if the
// target is the local user or unknown.
func (c *Coordinator) FollowUser(ctx context.Context, targetID string) {
	if !c.tr.Started() {
		log.Debug().Msg("followUser ignored: transport not started")
		return
	}
	localID := c.reg.LocalUserID()
	if targetID == localID {
		log.Debug().Str("user_id", localID).Msg("followUser ignored: cannot follow self")
		return
	}
	target, ok := c.reg.Get(targetID)
	if !ok || !target.Online() {
		log.Debug().Str("target_id", targetID).Msg("followUser ignored: unknown or offline target")
		return
	}

	c.mu.Lock()
	if c.state.Type.Presenting() {
		c.mu.Unlock()
		log.Debug().Str("user_id", localID).Msg("followUser ignored: currently presenting")
		return
	}
	c.intent = LocalIntent{FollowingUserID: targetID}
	c.mu.Unlock()

	c.publishIntent(ctx)
	c.recompute()
}

// StopFollowing releases an explicit follow-user binding. Valid only from
// followUser or suspendFollowUser. Falls back to followPresenter when a
// presenter is active, otherwise local.
func (c *Coordinator) StopFollowing(ctx context.Context) {
	c.mu.Lock()
	if c.state.Type != FollowModeFollowUser && c.state.Type != FollowModeSuspendFollowUser {
		t := c.state.Type
		c.mu.Unlock()
		log.Debug().Str("type", string(t)).Msg("stopFollowing ignored: not following a user")
		return
	}
	c.intent = LocalIntent{}
	c.mu.Unlock()

	c.publishIntent(ctx)
	c.recompute()
}

// StopPresenting releases the presenter claim. Valid only while presenting.
// Followers bound via followPresenter re-derive on the resulting update and
// fall back to local.
func (c *Coordinator) StopPresenting(ctx context.Context) {
	c.mu.Lock()
	if !c.state.Type.Presenting() {
		t := c.state.Type
		c.mu.Unlock()
		log.Debug().Str("type", string(t)).Msg("stopPresenting ignored: not presenting")
		return
	}
	c.mu.Unlock()

	c.writeClaim(ctx, "")
	c.recompute()
}

// BeginSuspension lets a follower diverge locally without being overwritten
// by incoming reconciliation. Valid only from followPresenter or followUser.
// Suspension is local-only state and is never replicated.
func (c *Coordinator) BeginSuspension() {
	c.mu.Lock()
	if c.state.Type != FollowModeFollowPresenter && c.state.Type != FollowModeFollowUser {
		t := c.state.Type
		c.mu.Unlock()
		log.Debug().Str("type", string(t)).Msg("beginSuspension ignored: not following")
		return
	}
	c.intent.Suspended = true
	c.mu.Unlock()
	c.recompute()
}

// EndSuspension reverses a suspension. The resulting state change carries
// the authority's latest FollowData, forcing an immediate resync.
func (c *Coordinator) EndSuspension() {
	c.mu.Lock()
	if !c.state.Type.Suspended() {
		t := c.state.Type
		c.mu.Unlock()
		log.Debug().Str("type", string(t)).Msg("endSuspension ignored: not suspended")
		return
	}
	c.intent.Suspended = false
	c.mu.Unlock()
	c.recompute()
}

// Update publishes new playback intent. When the local participant is the
// authority the value becomes canonical for the whole group; when unbound it
// only updates local playback; followers never broadcast.
func (c *Coordinator) Update(ctx context.Context, data FollowData) {
	if !c.tr.Started() {
		log.Debug().Msg("update ignored: transport not started")
		return
	}

	c.mu.Lock()
	authority := c.state.Type.Presenting()
	localMode := c.state.Type == FollowModeLocal
	if authority || localMode {
		c.localValue = data
	}
	if authority {
		c.value = data
	}
	c.mu.Unlock()

	switch {
	case authority:
		c.writeValue(ctx, c.reg.LocalUserID(), data)
		c.publishIntent(ctx)
	case localMode:
		c.publishIntent(ctx)
	default:
		log.Debug().Msg("update ignored: not an authority")
		return
	}
	c.recompute()
}

func (c *Coordinator) writeClaim(ctx context.Context, userID string) {
	raw, err := json.Marshal(presenterClaim{UserID: userID, ClaimedAtMS: c.tr.NowMS()})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal presenter claim")
		return
	}
	if err := c.tr.SetSharedValue(ctx, presenterKey, raw); err != nil {
		log.Error().Err(err).Msg("failed to write presenter claim")
	}
}

func (c *Coordinator) writeValue(ctx context.Context, authorityID string, data FollowData) {
	raw, err := json.Marshal(valueEnvelope{AuthorityID: authorityID, Data: data})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal follow data")
		return
	}
	if err := c.tr.SetSharedValue(ctx, valueKey, raw); err != nil {
		log.Error().Err(err).Msg("failed to write follow data")
	}
}

// publishIntent replicates the local binding and last known intent through
// the presence data payload so other participants can derive follower sets
// and follow-user targets.
func (c *Coordinator) publishIntent(ctx context.Context) {
	c.mu.Lock()
	data := UserData{
		FollowingUserID: c.intent.FollowingUserID,
		Value:           c.localValue,
	}
	c.mu.Unlock()

	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal user data")
		return
	}
	if err := c.reg.UpdateLocalData(ctx, raw); err != nil {
		log.Debug().Err(err).Msg("failed to publish local intent")
	}
}

func (c *Coordinator) handlePresenterChange(change transport.ValueChange) {
	var claim presenterClaim
	if err := json.Unmarshal(change.Value, &claim); err != nil {
		log.Error().Err(err).Msg("skipping malformed presenter claim")
		return
	}

	c.mu.Lock()
	old := c.presenterID
	c.presenterID = claim.UserID
	c.mu.Unlock()

	if old != claim.UserID {
		if claim.UserID != "" {
			c.emit(notify.Transition{Kind: notify.KindTookControl, UserID: claim.UserID})
		} else {
			c.emit(notify.Transition{Kind: notify.KindStoppedPresenting, UserID: old})
		}
	}
	c.recompute()
}

func (c *Coordinator) handleValueChange(change transport.ValueChange) {
	var env valueEnvelope
	if err := json.Unmarshal(change.Value, &env); err != nil {
		log.Error().Err(err).Msg("skipping malformed follow data")
		return
	}

	c.mu.Lock()
	if env.Data.Changed != nil {
		if last, ok := c.lastApplied[env.AuthorityID]; ok && env.Data.Changed.TimestampMS < last {
			c.mu.Unlock()
			log.Debug().
				Str("authority_id", env.AuthorityID).
				Int64("timestamp", env.Data.Changed.TimestampMS).
				Int64("last_applied", last).
				Msg("discarding stale playback intent")
			return
		}
		c.lastApplied[env.AuthorityID] = env.Data.Changed.TimestampMS
	}
	c.value = env.Data
	c.mu.Unlock()

	c.recompute()
}

// recompute re-derives the local state from the latest roster, replicated
// values, and local intent, and fans out the new state if it changed.
func (c *Coordinator) recompute() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	localID := c.reg.LocalUserID()
	snap := Snapshot{PresenterID: c.presenterID, Users: c.reg.List()}
	newType := DeriveFollowModeType(localID, snap, c.intent)

	newState := State{
		Type:              newType,
		FollowingUserID:   c.followingIDLocked(newType),
		Value:             c.boundValueLocked(newType, snap),
		StartedSuspension: newType.Suspended(),
	}

	old := c.state
	if statesEqual(old, newState) {
		c.mu.Unlock()
		return
	}
	c.state = newState
	fns := make([]func(State), 0, len(c.callbacks))
	for _, fn := range c.callbacks {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	log.Debug().
		Str("user_id", localID).
		Str("type", string(newState.Type)).
		Str("following_user_id", newState.FollowingUserID).
		Msg("follow mode state changed")

	for _, fn := range fns {
		fn(newState)
	}
	c.emitStateTransitions(old, newState)
}

// followingIDLocked resolves the followed user for the derived type. Callers
// hold c.mu.
func (c *Coordinator) followingIDLocked(t FollowModeType) string {
	switch t {
	case FollowModeFollowUser, FollowModeSuspendFollowUser:
		return c.intent.FollowingUserID
	case FollowModeFollowPresenter, FollowModeSuspendFollowPresenter:
		return c.presenterID
	}
	return ""
}

// boundValueLocked resolves which FollowData the local player should track
// for the derived type. Callers hold c.mu.
func (c *Coordinator) boundValueLocked(t FollowModeType, snap Snapshot) FollowData {
	switch t {
	case FollowModeFollowUser, FollowModeSuspendFollowUser:
		for _, user := range snap.Users {
			if user.UserID == c.intent.FollowingUserID {
				return DecodeUserData(user.Data).Value
			}
		}
		return c.localValue
	case FollowModeLocal:
		return c.localValue
	default:
		return c.value
	}
}

func (c *Coordinator) presenterOnlineLocked() bool {
	for _, user := range c.reg.List() {
		if user.UserID == c.presenterID {
			return user.Online()
		}
	}
	return false
}

func (c *Coordinator) emitStateTransitions(old, cur State) {
	if old.FollowingUserID != cur.FollowingUserID {
		localID := c.reg.LocalUserID()
		if cur.FollowingUserID != "" {
			c.emit(notify.Transition{
				Kind:         notify.KindStartedFollowing,
				UserID:       localID,
				TargetUserID: cur.FollowingUserID,
			})
		} else {
			c.emit(notify.Transition{
				Kind:         notify.KindStoppedFollowing,
				UserID:       localID,
				TargetUserID: old.FollowingUserID,
			})
		}
	}
	if !old.StartedSuspension && cur.StartedSuspension {
		c.emit(notify.Transition{Kind: notify.KindSuspensionBegan, UserID: c.reg.LocalUserID()})
	}
	if old.StartedSuspension && !cur.StartedSuspension {
		c.emit(notify.Transition{Kind: notify.KindSuspensionEnded, UserID: c.reg.LocalUserID()})
	}
	if old.Value.MediaID != cur.Value.MediaID && cur.Value.MediaID != "" {
		c.emit(notify.Transition{Kind: notify.KindTrackChanged, MediaID: cur.Value.MediaID})
	}
}

func (c *Coordinator) emit(t notify.Transition) {
	t.TimestampMS = c.tr.NowMS()
	if t.DisplayName == "" && t.UserID != "" {
		if user, ok := c.reg.Get(t.UserID); ok {
			t.DisplayName = user.DisplayName
		}
	}
	c.sink.Notify(t)
}

func statesEqual(a, b State) bool {
	if a.Type != b.Type || a.FollowingUserID != b.FollowingUserID || a.StartedSuspension != b.StartedSuspension {
		return false
	}
	return followDataEqual(a.Value, b.Value)
}

func followDataEqual(a, b FollowData) bool {
	if a.MediaID != b.MediaID || a.Paused != b.Paused {
		return false
	}
	if (a.Changed == nil) != (b.Changed == nil) {
		return false
	}
	if a.Changed == nil {
		return true
	}
	return *a.Changed == *b.Changed
}
