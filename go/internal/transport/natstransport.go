package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/mediaclock"
)

// NATSConfig holds configuration for the NATS-backed substrate.
type NATSConfig struct {
	URL           string
	SessionID     string // scopes the KV bucket and all subjects
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS substrate configuration.
func DefaultNATSConfig(sessionID string) NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SessionID:     sessionID,
		Bucket:        "MEDIA_SESSION_" + sessionID,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// kvEnvelope wraps a shared value with sender identity and a shared-clock
// stamp so LWW ordering survives the KV round trip.
type kvEnvelope struct {
	SenderID    string          `json:"senderId"`
	TimestampMS int64           `json:"timestamp"`
	Value       json.RawMessage `json:"value"`
}

// NATSTransport implements Transport over a NATS JetStream key-value bucket
// (shared values, last-write-wins with ordered watch delivery) plus core
// subjects for ephemeral events and presence.
type NATSTransport struct {
	cfg   NATSConfig
	clock mediaclock.Clock
	id    string

	nc *nats.Conn
	js jetstream.JetStream
	kv jetstream.KeyValue

	started atomic.Bool
	userID  atomic.Value // string

	mu      sync.Mutex
	cancels []context.CancelFunc
	subs    []*nats.Subscription
}

var _ Transport = (*NATSTransport)(nil)

// NewNATSTransport creates an unconnected NATS substrate. Call Start before
// any other operation.
func NewNATSTransport(cfg NATSConfig, clock mediaclock.Clock) *NATSTransport {
	return &NATSTransport{
		cfg:   cfg,
		clock: clock,
		id:    uuid.New().String(),
	}
}

// Start connects to NATS and creates or opens the session's KV bucket.
func (t *NATSTransport) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.MaxReconnects(t.cfg.MaxReconnects),
		nats.ReconnectWait(t.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(t.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      t.cfg.Bucket,
		Description: "shared media session values",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("open key-value bucket: %w", err)
	}

	t.nc = nc
	t.js = js
	t.kv = kv
	t.started.Store(true)

	log.Info().
		Str("client_id", t.id).
		Str("session_id", t.cfg.SessionID).
		Str("bucket", t.cfg.Bucket).
		Msg("NATS transport started")
	return nil
}

// Stop tears down watchers, subscriptions, and the connection.
func (t *NATSTransport) Stop() {
	t.started.Store(false)

	t.mu.Lock()
	cancels := t.cancels
	subs := t.subs
	t.cancels = nil
	t.subs = nil
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe")
		}
	}
	if t.nc != nil {
		t.nc.Close()
	}
	log.Info().Str("client_id", t.id).Msg("NATS transport stopped")
}

func (t *NATSTransport) ClientID() string { return t.id }

func (t *NATSTransport) Started() bool { return t.started.Load() }

func (t *NATSTransport) NowMS() int64 { return t.clock.NowMS() }

func (t *NATSTransport) SetSharedValue(ctx context.Context, key string, value json.RawMessage) error {
	if !t.Started() {
		return ErrNotStarted
	}
	data, err := json.Marshal(kvEnvelope{
		SenderID:    t.id,
		TimestampMS: t.clock.NowMS(),
		Value:       value,
	})
	if err != nil {
		return fmt.Errorf("marshal value envelope: %w", err)
	}
	if _, err := t.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put shared value %q: %w", key, err)
	}
	return nil
}

func (t *NATSTransport) GetSharedValue(key string) (json.RawMessage, bool) {
	if !t.Started() {
		return nil, false
	}
	entry, err := t.kv.Get(context.Background(), key)
	if err != nil {
		return nil, false
	}
	var env kvEnvelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to unmarshal value envelope")
		return nil, false
	}
	return env.Value, true
}

func (t *NATSTransport) OnValueChanged(key string, fn func(ValueChange)) Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancels = append(t.cancels, cancel)
	t.mu.Unlock()

	go t.watchKey(ctx, key, fn)
	return func() { cancel() }
}

// watchKey delivers KV updates for a single key in bucket order.
func (t *NATSTransport) watchKey(ctx context.Context, key string, fn func(ValueChange)) {
	watcher, err := t.kv.Watch(ctx, key, jetstream.UpdatesOnly())
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to watch shared value")
		return
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil || entry.Operation() != jetstream.KeyValuePut {
				continue
			}
			var env kvEnvelope
			if err := json.Unmarshal(entry.Value(), &env); err != nil {
				log.Error().Err(err).Str("key", key).Msg("skipping malformed value envelope")
				continue
			}
			fn(ValueChange{
				Key:         key,
				SenderID:    env.SenderID,
				TimestampMS: env.TimestampMS,
				Value:       env.Value,
			})
		}
	}
}

func (t *NATSTransport) BroadcastEvent(ctx context.Context, key string, payload json.RawMessage) error {
	if !t.Started() {
		return ErrNotStarted
	}
	userID, _ := t.userID.Load().(string)
	data, err := json.Marshal(Event{
		Key:         key,
		SenderID:    t.id,
		UserID:      userID,
		TimestampMS: t.clock.NowMS(),
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := t.nc.Publish(t.eventSubject(key), data); err != nil {
		return fmt.Errorf("publish event %q: %w", key, err)
	}
	return nil
}

func (t *NATSTransport) OnEvent(key string, fn func(Event)) Unsubscribe {
	sub, err := t.nc.Subscribe(t.eventSubject(key), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("skipping malformed event")
			return
		}
		fn(ev)
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to subscribe to events")
		return func() {}
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to unsubscribe from events")
		}
	}
}

func (t *NATSTransport) AnnouncePresence(ctx context.Context, rec PresenceRecord) error {
	if !t.Started() {
		return ErrNotStarted
	}
	t.userID.Store(rec.UserID)
	rec.TimestampMS = t.clock.NowMS()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}
	if err := t.nc.Publish(t.presenceSubject(), data); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

func (t *NATSTransport) OnPresenceChanged(fn func(PresenceRecord)) Unsubscribe {
	sub, err := t.nc.Subscribe(t.presenceSubject(), func(msg *nats.Msg) {
		var rec PresenceRecord
		if err := json.Unmarshal(msg.Data, &rec); err != nil {
			log.Error().Err(err).Msg("skipping malformed presence record")
			return
		}
		fn(rec)
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to subscribe to presence")
		return func() {}
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe from presence")
		}
	}
}

func (t *NATSTransport) eventSubject(key string) string {
	return fmt.Sprintf("mediasession.%s.events.%s", t.cfg.SessionID, key)
}

func (t *NATSTransport) presenceSubject() string {
	return fmt.Sprintf("mediasession.%s.presence", t.cfg.SessionID)
}
