package mediasync

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/follow"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/mediaclock"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/notify"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/presence"
	"github.com/ryanbliss/live-share-react-media-template/go/internal/transport"
)

// fixedClock is a shared clock pinned to a settable instant.
type fixedClock struct{ ms int64 }

func (c *fixedClock) NowMS() int64 { return c.ms }

func newReconcileSync(player *fakePlayer, clock mediaclock.Clock) *Synchronizer {
	return NewSynchronizer(nil, player, clock, DefaultConfig())
}

func TestReconcilePausedSeekIsExact(t *testing.T) {
	player := newFakePlayer()
	clock := &fixedClock{ms: 50_000}
	s := newReconcileSync(player, clock)

	// Paused intent never extrapolates, no matter how much time elapsed.
	s.handleState(follow.State{
		Type: follow.FollowModeFollowPresenter,
		Value: follow.FollowData{
			MediaID: "vid1",
			Paused:  true,
			Changed: &follow.PositionChange{TimestampMS: 1_000, MediaPosition: 30},
		},
	})

	track, position, paused := player.snapshot()
	if track != "vid1" || position != 30 || !paused {
		t.Fatalf("expected vid1@30 paused, got %s@%v paused=%v", track, position, paused)
	}
}

func TestReconcileExtrapolatesWhilePlaying(t *testing.T) {
	player := newFakePlayer()
	player.LoadTrack("vid1")
	clock := &fixedClock{ms: 6_000}
	s := newReconcileSync(player, clock)

	// Authority played at T=1000 with position 10; reconciling at T+5000
	// must target 15 seconds.
	s.handleState(follow.State{
		Type: follow.FollowModeFollowPresenter,
		Value: follow.FollowData{
			MediaID: "vid1",
			Paused:  false,
			Changed: &follow.PositionChange{TimestampMS: 1_000, MediaPosition: 10},
		},
	})

	_, position, paused := player.snapshot()
	if math.Abs(position-15) > 0.001 || paused {
		t.Fatalf("expected position 15 unpaused, got %v paused=%v", position, paused)
	}
}

func TestReconcileLateJoinerCatchUp(t *testing.T) {
	player := newFakePlayer()
	clock := &fixedClock{ms: 4_000}
	s := newReconcileSync(player, clock)

	// Presenter started vid1 at shared time 1000 from position 0; a joiner
	// reconciling at 4000 lands at 3.0 seconds, unpaused.
	s.handleState(follow.State{
		Type: follow.FollowModeFollowPresenter,
		Value: follow.FollowData{
			MediaID: "vid1",
			Paused:  false,
			Changed: &follow.PositionChange{TimestampMS: 1_000, MediaPosition: 0},
		},
	})

	track, position, paused := player.snapshot()
	if track != "vid1" {
		t.Fatalf("expected vid1 loaded, got %q", track)
	}
	if math.Abs(position-3.0) > 0.001 || paused {
		t.Fatalf("expected position 3.0 unpaused, got %v paused=%v", position, paused)
	}
}

func TestReconcileSkipsWithinDriftTolerance(t *testing.T) {
	player := newFakePlayer()
	player.LoadTrack("vid1")
	player.SeekTo(29)
	seeksBefore := player.seeks
	clock := &fixedClock{ms: 1_000}
	s := newReconcileSync(player, clock)

	s.handleState(follow.State{
		Type: follow.FollowModeFollowPresenter,
		Value: follow.FollowData{
			MediaID: "vid1",
			Paused:  true,
			Changed: &follow.PositionChange{TimestampMS: 1_000, MediaPosition: 30},
		},
	})

	if player.seeks != seeksBefore {
		t.Fatalf("expected no re-seek within tolerance, got %d extra", player.seeks-seeksBefore)
	}
}

func TestReconcileClampsToDuration(t *testing.T) {
	player := newFakePlayer()
	player.LoadTrack("vid1")
	player.duration = 20
	clock := &fixedClock{ms: 100_000}
	s := newReconcileSync(player, clock)

	s.handleState(follow.State{
		Type: follow.FollowModeFollowPresenter,
		Value: follow.FollowData{
			MediaID: "vid1",
			Paused:  false,
			Changed: &follow.PositionChange{TimestampMS: 1_000, MediaPosition: 10},
		},
	})

	if _, position, _ := player.snapshot(); position != 20 {
		t.Fatalf("expected clamp to duration 20, got %v", position)
	}
}

func TestReconcileIgnoredWhileSuspended(t *testing.T) {
	player := newFakePlayer()
	player.LoadTrack("vid1")
	player.SeekTo(100)
	clock := &fixedClock{ms: 1_000}
	s := newReconcileSync(player, clock)

	s.handleState(follow.State{
		Type:              follow.FollowModeSuspendFollowPresenter,
		StartedSuspension: true,
		Value: follow.FollowData{
			MediaID: "vid2",
			Paused:  true,
			Changed: &follow.PositionChange{TimestampMS: 1_000, MediaPosition: 5},
		},
	})

	track, position, _ := player.snapshot()
	if track != "vid1" || position != 100 {
		t.Fatalf("expected player untouched while suspended, got %s@%v", track, position)
	}
}

// Full-stack fixtures below run two participants over the in-memory hub.

type testParticipant struct {
	client *transport.Client
	reg    *presence.Registry
	coord  *follow.Coordinator
	sync   *Synchronizer
	player *fakePlayer
}

func newTestParticipant(t *testing.T, ctx context.Context, hub *transport.Hub, clock clockwork.Clock, userID string) *testParticipant {
	t.Helper()

	client := hub.Connect()
	client.Start()
	reg := presence.NewRegistry(client, clock, presence.Config{})
	reg.Start(ctx)

	coord := follow.NewCoordinator(client, reg, notify.NopSink{}, follow.Config{})
	intent, err := json.Marshal(follow.UserData{})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Join(ctx, userID, userID, nil, intent); err != nil {
		t.Fatal(err)
	}
	if err := coord.Start(ctx); err != nil {
		t.Fatal(err)
	}

	player := newFakePlayer()
	synchronizer := NewSynchronizer(coord, player, mediaclock.Func(client.NowMS), DefaultConfig())
	synchronizer.Start()
	return &testParticipant{client: client, reg: reg, coord: coord, sync: synchronizer, player: player}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAuthoritySeekPropagatesToFollower(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000))
	hub := transport.NewHub(clock)

	a := newTestParticipant(t, ctx, hub, clock, "a")
	b := newTestParticipant(t, ctx, hub, clock, "b")

	a.coord.TakeControl(ctx)
	waitFor(t, "b bound to presenter", func() bool {
		return b.coord.State().Type == follow.FollowModeFollowPresenter
	})

	a.sync.SetTrack(ctx, "vid1")
	a.sync.SeekTo(ctx, 30)

	waitFor(t, "b reconciled to 30", func() bool {
		track, position, paused := b.player.snapshot()
		return track == "vid1" && position == 30 && paused
	})
}

func TestFollowerGestureSuspendsWithoutBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000))
	hub := transport.NewHub(clock)

	a := newTestParticipant(t, ctx, hub, clock, "a")
	b := newTestParticipant(t, ctx, hub, clock, "b")
	c := newTestParticipant(t, ctx, hub, clock, "c")

	a.coord.TakeControl(ctx)
	a.sync.SetTrack(ctx, "vid1")
	a.sync.SeekTo(ctx, 10)
	waitFor(t, "followers at 10", func() bool {
		_, pb, _ := b.player.snapshot()
		_, pc, _ := c.player.snapshot()
		return pb == 10 && pc == 10
	})

	// b scrubs ahead: local suspension, applied locally only.
	b.sync.SeekTo(ctx, 100)

	if !b.sync.Suspended() {
		t.Fatal("expected follower gesture to begin suspension")
	}
	if _, position, _ := b.player.snapshot(); position != 100 {
		t.Fatalf("expected b at 100, got %v", position)
	}

	// Neither the authority nor the other follower moved.
	if _, position, _ := a.player.snapshot(); position != 10 {
		t.Fatalf("expected authority untouched at 10, got %v", position)
	}
	if _, position, _ := c.player.snapshot(); position != 10 {
		t.Fatalf("expected other follower untouched at 10, got %v", position)
	}
	if value := a.coord.State().Value; value.Changed.MediaPosition != 10 {
		t.Fatalf("expected group state untouched, got %v", value.Changed.MediaPosition)
	}
}

func TestSuspendResumeWithoutChangesIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000))
	hub := transport.NewHub(clock)

	a := newTestParticipant(t, ctx, hub, clock, "a")
	b := newTestParticipant(t, ctx, hub, clock, "b")

	a.coord.TakeControl(ctx)
	a.sync.SetTrack(ctx, "vid1")
	a.sync.SeekTo(ctx, 25)
	waitFor(t, "b at 25", func() bool {
		_, position, _ := b.player.snapshot()
		return position == 25
	})
	trackBefore, posBefore, pausedBefore := b.player.snapshot()

	b.coord.BeginSuspension()
	b.sync.EndSuspension()

	track, position, paused := b.player.snapshot()
	if track != trackBefore || position != posBefore || paused != pausedBefore {
		t.Fatalf("expected player state unchanged, got %s@%v paused=%v", track, position, paused)
	}
}

func TestEndSuspensionSnapsToLatestValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000))
	hub := transport.NewHub(clock)

	a := newTestParticipant(t, ctx, hub, clock, "a")
	b := newTestParticipant(t, ctx, hub, clock, "b")

	a.coord.TakeControl(ctx)
	a.sync.SetTrack(ctx, "vid1")
	a.sync.SeekTo(ctx, 10)
	waitFor(t, "b at 10", func() bool {
		_, position, _ := b.player.snapshot()
		return position == 10
	})

	// b diverges locally, then the authority keeps moving.
	b.sync.SeekTo(ctx, 300)
	a.sync.SeekTo(ctx, 50)
	a.sync.SeekTo(ctx, 200)

	if _, position, _ := b.player.snapshot(); position != 300 {
		t.Fatalf("expected suspended b to hold 300, got %v", position)
	}

	// Resuming snaps to the latest authority value, not a stale one.
	b.sync.EndSuspension()
	waitFor(t, "b snapped to 200", func() bool {
		_, position, _ := b.player.snapshot()
		return position == 200
	})
}

func TestVolumeLimitPassThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000))
	hub := transport.NewHub(clock)

	a := newTestParticipant(t, ctx, hub, clock, "a")

	a.sync.BeginVolumeLimit()
	if !a.player.volumeLimited {
		t.Fatal("expected volume limiter engaged")
	}
	a.sync.EndVolumeLimit()
	if a.player.volumeLimited {
		t.Fatal("expected volume limiter disengaged")
	}
}
