package mediaclock

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestSharedClockAppliesOffset(t *testing.T) {
	local := clockwork.NewFakeClockAt(time.UnixMilli(1_000))
	clock := NewSharedClock(local)

	// Substrate says it is 5s later than the local clock.
	clock.SetOffset(6_000)

	if got := clock.NowMS(); got != 6_000 {
		t.Fatalf("expected shared now 6000, got %d", got)
	}

	local.Advance(2 * time.Second)
	if got := clock.NowMS(); got != 8_000 {
		t.Fatalf("expected shared now 8000, got %d", got)
	}
}

func TestSharedClockNeverMovesBackwards(t *testing.T) {
	local := clockwork.NewFakeClockAt(time.UnixMilli(10_000))
	clock := NewSharedClock(local)
	clock.SetOffset(20_000)

	if got := clock.NowMS(); got != 20_000 {
		t.Fatalf("expected 20000, got %d", got)
	}

	// Offset re-learned downward by 3s; NowMS must hold at the high-water
	// mark until local time catches up.
	clock.SetOffset(17_000)
	if got := clock.NowMS(); got != 20_000 {
		t.Fatalf("expected clamped 20000, got %d", got)
	}

	local.Advance(5 * time.Second)
	if got := clock.NowMS(); got != 22_000 {
		t.Fatalf("expected 22000 after catch-up, got %d", got)
	}
}
