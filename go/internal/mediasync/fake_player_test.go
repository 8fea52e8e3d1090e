package mediasync

import "sync"

// fakePlayer is an in-memory stand-in for the external player capability.
type fakePlayer struct {
	mu            sync.Mutex
	track         string
	position      float64
	duration      float64
	paused        bool
	volumeLimited bool
	seeks         int
	loads         int
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{paused: true, duration: 600}
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *fakePlayer) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = seconds
	p.seeks++
}

func (p *fakePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *fakePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakePlayer) LoadTrack(mediaID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = mediaID
	p.position = 0
	p.paused = true
	p.loads++
}

func (p *fakePlayer) CurrentTrack() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

func (p *fakePlayer) SetVolumeLimited(limited bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volumeLimited = limited
}

func (p *fakePlayer) snapshot() (track string, position float64, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track, p.position, p.paused
}
