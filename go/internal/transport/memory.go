package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Hub is an in-memory replication substrate used by tests and single-process
// runs. All connected clients observe value changes, events, and presence in
// one global application order, which matches the ordering contract the real
// substrate provides per key.
type Hub struct {
	clock clockwork.Clock

	mu       sync.Mutex
	values   map[string]ValueChange
	presence map[string]PresenceRecord // keyed by connection ID
	clients  map[string]*Client

	// Delivery queue. Callbacks run in enqueue order on whichever goroutine
	// started the drain, so re-entrant writes from inside a callback are
	// queued instead of deadlocking.
	qmu      sync.Mutex
	queue    []func()
	draining bool
}

// NewHub creates an empty hub on the given clock.
func NewHub(clock clockwork.Clock) *Hub {
	return &Hub{
		clock:    clock,
		values:   make(map[string]ValueChange),
		presence: make(map[string]PresenceRecord),
		clients:  make(map[string]*Client),
	}
}

// NowMS returns the hub's shared clock in milliseconds.
func (h *Hub) NowMS() int64 {
	return h.clock.Now().UnixMilli()
}

// Connect attaches a new client to the hub. The client is not started until
// Start is called, mirroring the real substrate's join handshake.
func (h *Hub) Connect() *Client {
	c := &Client{
		hub:       h,
		id:        uuid.New().String(),
		valueSubs: make(map[int]valueSub),
		eventSubs: make(map[int]eventSub),
		presSubs:  make(map[int]func(PresenceRecord)),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

// Disconnect removes a client and fans out offline presence for every
// connection it had announced.
func (h *Hub) Disconnect(c *Client) {
	c.started.Store(false)

	h.mu.Lock()
	delete(h.clients, c.id)
	var gone []PresenceRecord
	for connID, rec := range h.presence {
		if rec.clientID == c.id {
			rec.Online = false
			rec.TimestampMS = h.clock.Now().UnixMilli()
			gone = append(gone, rec)
			delete(h.presence, connID)
		}
	}
	h.mu.Unlock()

	for _, rec := range gone {
		h.deliverPresence(rec)
	}
}

func (h *Hub) enqueue(f func()) {
	h.qmu.Lock()
	h.queue = append(h.queue, f)
	if h.draining {
		h.qmu.Unlock()
		return
	}
	h.draining = true
	for {
		if len(h.queue) == 0 {
			h.draining = false
			h.qmu.Unlock()
			return
		}
		next := h.queue[0]
		h.queue = h.queue[1:]
		h.qmu.Unlock()
		next()
		h.qmu.Lock()
	}
}

func (h *Hub) deliverValue(change ValueChange) {
	h.enqueue(func() {
		for _, c := range h.snapshotClients() {
			c.dispatchValue(change)
		}
	})
}

func (h *Hub) deliverEvent(ev Event) {
	h.enqueue(func() {
		for _, c := range h.snapshotClients() {
			c.dispatchEvent(ev)
		}
	})
}

func (h *Hub) deliverPresence(rec PresenceRecord) {
	h.enqueue(func() {
		for _, c := range h.snapshotClients() {
			c.dispatchPresence(rec)
		}
	})
}

func (h *Hub) snapshotClients() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

type valueSub struct {
	key string
	fn  func(ValueChange)
}

type eventSub struct {
	key string
	fn  func(Event)
}

// Client is one participant's connection to an in-memory Hub.
type Client struct {
	hub     *Hub
	id      string
	userID  string
	started atomic.Bool

	mu        sync.Mutex
	nextSub   int
	valueSubs map[int]valueSub
	eventSubs map[int]eventSub
	presSubs  map[int]func(PresenceRecord)
}

var _ Transport = (*Client)(nil)

// Start marks the client as joined.
func (c *Client) Start() {
	c.started.Store(true)
}

func (c *Client) ClientID() string { return c.id }

func (c *Client) Started() bool { return c.started.Load() }

func (c *Client) NowMS() int64 { return c.hub.NowMS() }

func (c *Client) SetSharedValue(ctx context.Context, key string, value json.RawMessage) error {
	if !c.Started() {
		return ErrNotStarted
	}
	change := ValueChange{
		Key:         key,
		SenderID:    c.id,
		TimestampMS: c.hub.NowMS(),
		Value:       value,
	}
	c.hub.mu.Lock()
	c.hub.values[key] = change
	c.hub.mu.Unlock()

	c.hub.deliverValue(change)
	return nil
}

func (c *Client) GetSharedValue(key string) (json.RawMessage, bool) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	change, ok := c.hub.values[key]
	if !ok {
		return nil, false
	}
	return change.Value, true
}

func (c *Client) OnValueChanged(key string, fn func(ValueChange)) Unsubscribe {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.valueSubs[id] = valueSub{key: key, fn: fn}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.valueSubs, id)
		c.mu.Unlock()
	}
}

func (c *Client) BroadcastEvent(ctx context.Context, key string, payload json.RawMessage) error {
	if !c.Started() {
		return ErrNotStarted
	}
	c.hub.deliverEvent(Event{
		Key:         key,
		SenderID:    c.id,
		UserID:      c.userID,
		TimestampMS: c.hub.NowMS(),
		Payload:     payload,
	})
	return nil
}

func (c *Client) OnEvent(key string, fn func(Event)) Unsubscribe {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.eventSubs[id] = eventSub{key: key, fn: fn}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.eventSubs, id)
		c.mu.Unlock()
	}
}

func (c *Client) AnnouncePresence(ctx context.Context, rec PresenceRecord) error {
	if !c.Started() {
		return ErrNotStarted
	}
	c.userID = rec.UserID
	rec.TimestampMS = c.hub.NowMS()
	rec.clientID = c.id

	c.hub.mu.Lock()
	if rec.Online {
		c.hub.presence[rec.ConnectionID] = rec
	} else {
		delete(c.hub.presence, rec.ConnectionID)
	}
	c.hub.mu.Unlock()

	c.hub.deliverPresence(rec)
	return nil
}

// OnPresenceChanged registers a subscriber and replays the current roster to
// it, so late joiners see participants that announced before they subscribed.
func (c *Client) OnPresenceChanged(fn func(PresenceRecord)) Unsubscribe {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.presSubs[id] = fn
	c.mu.Unlock()

	c.hub.mu.Lock()
	existing := make([]PresenceRecord, 0, len(c.hub.presence))
	for _, rec := range c.hub.presence {
		existing = append(existing, rec)
	}
	c.hub.mu.Unlock()
	c.hub.enqueue(func() {
		if !c.Started() {
			return
		}
		for _, rec := range existing {
			fn(rec)
		}
	})

	return func() {
		c.mu.Lock()
		delete(c.presSubs, id)
		c.mu.Unlock()
	}
}

func (c *Client) dispatchValue(change ValueChange) {
	if !c.Started() {
		return
	}
	for _, sub := range c.valueSubsSnapshot() {
		if sub.key == change.Key {
			sub.fn(change)
		}
	}
}

func (c *Client) dispatchEvent(ev Event) {
	if !c.Started() {
		return
	}
	c.mu.Lock()
	subs := make([]eventSub, 0, len(c.eventSubs))
	for _, sub := range c.eventSubs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		if sub.key == ev.Key {
			sub.fn(ev)
		}
	}
}

func (c *Client) dispatchPresence(rec PresenceRecord) {
	if !c.Started() {
		return
	}
	c.mu.Lock()
	subs := make([]func(PresenceRecord), 0, len(c.presSubs))
	for _, fn := range c.presSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(rec)
	}
}

func (c *Client) valueSubsSnapshot() []valueSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]valueSub, 0, len(c.valueSubs))
	for _, sub := range c.valueSubs {
		subs = append(subs, sub)
	}
	return subs
}
