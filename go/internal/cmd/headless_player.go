package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// headlessPlayer simulates a media element for agent deployments with no UI:
// position advances in real time while playing, and every command is logged.
// Useful for soak-testing a session against real clients.
type headlessPlayer struct {
	mu sync.Mutex

	track     string
	duration  float64
	paused    bool
	limited   bool
	position  float64
	resumedAt time.Time
}

func newHeadlessPlayer(duration float64) *headlessPlayer {
	return &headlessPlayer{
		duration: duration,
		paused:   true,
	}
}

// settle folds elapsed wall time into position. Callers hold p.mu.
func (p *headlessPlayer) settle() {
	if p.paused {
		return
	}
	now := time.Now()
	p.position += now.Sub(p.resumedAt).Seconds()
	if p.duration > 0 && p.position > p.duration {
		p.position = p.duration
	}
	p.resumedAt = now
}

func (p *headlessPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	p.resumedAt = time.Now()
	log.Info().Str("track", p.track).Float64("position", p.position).Msg("player: play")
}

func (p *headlessPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.settle()
	p.paused = true
	log.Info().Str("track", p.track).Float64("position", p.position).Msg("player: pause")
}

func (p *headlessPlayer) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	p.position = seconds
	log.Info().Str("track", p.track).Float64("position", seconds).Msg("player: seek")
}

func (p *headlessPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	return p.position
}

func (p *headlessPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *headlessPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *headlessPlayer) LoadTrack(mediaID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = mediaID
	p.position = 0
	p.paused = true
	log.Info().Str("track", mediaID).Msg("player: load track")
}

func (p *headlessPlayer) CurrentTrack() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

func (p *headlessPlayer) SetVolumeLimited(limited bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limited == limited {
		return
	}
	p.limited = limited
	log.Info().Bool("limited", limited).Msg("player: volume limit")
}
