package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/transport"
)

// Role names a capability a participant may hold, e.g. "presenter" or
// "organizer". Eligibility to present is a role-set intersection test.
type Role string

// User is the registry's view of one participant. A user may hold several
// simultaneous connections; an empty connection set means offline.
type User struct {
	UserID      string
	DisplayName string
	Roles       []Role
	Data        json.RawMessage
	Connections []string
	JoinedAtMS  int64
	LastSeenMS  int64
}

// Online reports whether the user has at least one live connection.
func (u User) Online() bool { return len(u.Connections) > 0 }

// HasRole reports whether the user holds the given role.
func (u User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Config holds registry tuning.
type Config struct {
	// AllowedRoles limits who may act as a playback authority. Empty means
	// everyone is eligible.
	AllowedRoles []Role

	HeartbeatInterval time.Duration
	OfflineTimeout    time.Duration
}

// DefaultConfig returns default presence configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		OfflineTimeout:    20 * time.Second,
	}
}

type connState struct {
	id         string
	lastSeenMS int64
}

type userEntry struct {
	user        User
	connections []*connState
	joinSeq     int
}

// Registry tracks connected participants from the substrate's presence feed
// and announces the local participant. Change callbacks are dispatched on a
// dedicated goroutine so they can never block the transport's delivery path.
type Registry struct {
	tr    transport.Transport
	clock clockwork.Clock
	cfg   Config

	mu        sync.Mutex
	users     map[string]*userEntry
	joinSeq   int
	localID   string
	localName string
	localData json.RawMessage
	roles     []Role
	joined    bool
	callbacks map[int]func(User)
	nextCB    int

	queue chan User
	unsub transport.Unsubscribe
}

// NewRegistry creates a registry over the given substrate.
func NewRegistry(tr transport.Transport, clock clockwork.Clock, cfg Config) *Registry {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.OfflineTimeout == 0 {
		cfg.OfflineTimeout = DefaultConfig().OfflineTimeout
	}
	return &Registry{
		tr:        tr,
		clock:     clock,
		cfg:       cfg,
		users:     make(map[string]*userEntry),
		callbacks: make(map[int]func(User)),
		queue:     make(chan User, 256),
	}
}

// Start subscribes to the presence feed and begins dispatching callbacks on
// a dedicated goroutine. The subscription is live when Start returns, so a
// Join immediately after is observed by the local roster.
func (r *Registry) Start(ctx context.Context) {
	r.unsub = r.tr.OnPresenceChanged(r.handleRecord)
	go r.dispatchLoop(ctx)
}

func (r *Registry) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if r.unsub != nil {
				r.unsub()
			}
			return
		case user := <-r.queue:
			r.mu.Lock()
			fns := make([]func(User), 0, len(r.callbacks))
			for _, fn := range r.callbacks {
				fns = append(fns, fn)
			}
			r.mu.Unlock()
			for _, fn := range fns {
				fn(user)
			}
		}
	}
}

// Join announces the local participant and starts its heartbeat loop.
// Idempotent per connection: repeat calls just refresh the announcement.
func (r *Registry) Join(ctx context.Context, userID, displayName string, roles []Role, data json.RawMessage) error {
	if !r.tr.Started() {
		return fmt.Errorf("join presence: %w", transport.ErrNotStarted)
	}

	r.mu.Lock()
	alreadyJoined := r.joined
	r.localID = userID
	r.localName = displayName
	r.roles = roles
	r.localData = data
	r.joined = true
	r.mu.Unlock()

	if err := r.announce(ctx, true); err != nil {
		return err
	}
	if !alreadyJoined {
		go r.heartbeatLoop(ctx)
	}

	log.Info().
		Str("user_id", userID).
		Str("connection_id", r.tr.ClientID()).
		Msg("joined presence")
	return nil
}

// Leave announces the local connection as offline.
func (r *Registry) Leave(ctx context.Context) error {
	r.mu.Lock()
	joined := r.joined
	r.joined = false
	r.mu.Unlock()
	if !joined {
		return nil
	}
	return r.announce(ctx, false)
}

// UpdateLocalData replaces the local participant's replicated data payload
// and re-announces immediately.
func (r *Registry) UpdateLocalData(ctx context.Context, data json.RawMessage) error {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return nil
	}
	r.localData = data
	r.mu.Unlock()
	return r.announce(ctx, true)
}

func (r *Registry) announce(ctx context.Context, online bool) error {
	r.mu.Lock()
	rec := transport.PresenceRecord{
		UserID:       r.localID,
		DisplayName:  r.localName,
		Roles:        rolesToStrings(r.roles),
		ConnectionID: r.tr.ClientID(),
		Data:         r.localData,
		Online:       online,
	}
	r.mu.Unlock()

	if err := r.tr.AnnouncePresence(ctx, rec); err != nil {
		return fmt.Errorf("announce presence: %w", err)
	}
	return nil
}

func (r *Registry) heartbeatLoop(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.mu.Lock()
			joined := r.joined
			r.mu.Unlock()
			if joined {
				if err := r.announce(ctx, true); err != nil {
					log.Debug().Err(err).Msg("presence heartbeat failed")
				}
			}
			r.expireStaleConnections()
		}
	}
}

// handleRecord folds one presence record into the roster. Runs on the
// transport delivery path, so it only mutates state and enqueues.
func (r *Registry) handleRecord(rec transport.PresenceRecord) {
	r.mu.Lock()

	entry, ok := r.users[rec.UserID]
	if !ok {
		if !rec.Online {
			r.mu.Unlock()
			return
		}
		entry = &userEntry{
			user: User{
				UserID:     rec.UserID,
				JoinedAtMS: rec.TimestampMS,
			},
			joinSeq: r.joinSeq,
		}
		r.joinSeq++
		r.users[rec.UserID] = entry
	}

	entry.user.DisplayName = rec.DisplayName
	entry.user.Roles = stringsToRoles(rec.Roles)
	if rec.Data != nil {
		entry.user.Data = rec.Data
	}
	entry.user.LastSeenMS = rec.TimestampMS

	if rec.Online {
		found := false
		for _, conn := range entry.connections {
			if conn.id == rec.ConnectionID {
				conn.lastSeenMS = rec.TimestampMS
				found = true
				break
			}
		}
		if !found {
			entry.connections = append(entry.connections, &connState{
				id:         rec.ConnectionID,
				lastSeenMS: rec.TimestampMS,
			})
		}
	} else {
		entry.connections = removeConn(entry.connections, rec.ConnectionID)
	}
	entry.syncConnections()
	snapshot := entry.user.clone()
	r.mu.Unlock()

	r.notify(snapshot)
}

// expireStaleConnections drops connections that have missed heartbeats for
// longer than the offline timeout.
func (r *Registry) expireStaleConnections() {
	cutoff := r.tr.NowMS() - r.cfg.OfflineTimeout.Milliseconds()

	r.mu.Lock()
	var changed []User
	for _, entry := range r.users {
		kept := entry.connections[:0]
		dropped := false
		for _, conn := range entry.connections {
			if conn.lastSeenMS >= cutoff || conn.id == r.localConnID() {
				kept = append(kept, conn)
			} else {
				dropped = true
			}
		}
		if dropped {
			entry.connections = kept
			entry.syncConnections()
			changed = append(changed, entry.user.clone())
		}
	}
	r.mu.Unlock()

	for _, user := range changed {
		log.Debug().Str("user_id", user.UserID).Msg("presence connection expired")
		r.notify(user)
	}
}

func (r *Registry) localConnID() string {
	if r.joined {
		return r.tr.ClientID()
	}
	return ""
}

func (r *Registry) notify(user User) {
	select {
	case r.queue <- user:
	default:
		log.Warn().Str("user_id", user.UserID).Msg("presence queue full, dropping notification")
	}
}

// OnPresenceChanged registers a callback invoked with the updated user
// whenever any participant's data, roles, or connections change.
func (r *Registry) OnPresenceChanged(fn func(User)) transport.Unsubscribe {
	r.mu.Lock()
	id := r.nextCB
	r.nextCB++
	r.callbacks[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.callbacks, id)
		r.mu.Unlock()
	}
}

// List returns a snapshot of all known participants ordered by join time.
func (r *Registry) List() []User {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*userEntry, 0, len(r.users))
	for _, entry := range r.users {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].joinSeq < entries[j].joinSeq
	})

	out := make([]User, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.user.clone())
	}
	return out
}

// Get returns the participant with the given ID.
func (r *Registry) Get(userID string) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.users[userID]
	if !ok {
		return User{}, false
	}
	return entry.user.clone(), true
}

// LocalUserID returns the joined local participant's ID, if any.
func (r *Registry) LocalUserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localID
}

// IsEligiblePresenter reports whether the user may act as the group
// authority. An empty allowed-role set means everyone is eligible.
func (r *Registry) IsEligiblePresenter(u User) bool {
	if len(r.cfg.AllowedRoles) == 0 {
		return true
	}
	for _, allowed := range r.cfg.AllowedRoles {
		if u.HasRole(allowed) {
			return true
		}
	}
	return false
}

func (e *userEntry) syncConnections() {
	ids := make([]string, 0, len(e.connections))
	for _, conn := range e.connections {
		ids = append(ids, conn.id)
	}
	e.user.Connections = ids
}

func (u User) clone() User {
	out := u
	out.Roles = append([]Role(nil), u.Roles...)
	out.Connections = append([]string(nil), u.Connections...)
	if u.Data != nil {
		out.Data = append(json.RawMessage(nil), u.Data...)
	}
	return out
}

func removeConn(conns []*connState, id string) []*connState {
	out := conns[:0]
	for _, conn := range conns {
		if conn.id != id {
			out = append(out, conn)
		}
	}
	return out
}

func rolesToStrings(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func stringsToRoles(roles []string) []Role {
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, Role(r))
	}
	return out
}
