package syncagent

import (
	"context"
	"sync"
	"time"
)

// SimulatedPlayer is a headless Player whose position advances with its
// clock while playing. OnPlay, OnPause and OnSeek fire after each change the
// way a media element raises events, whoever caused the change.
type SimulatedPlayer struct {
	mu       sync.Mutex
	now      func() time.Time
	position float64
	since    time.Time
	playing  bool

	// BlockAutoplay makes Play fail with ErrAutoplayBlocked until it is
	// cleared.
	BlockAutoplay bool

	OnPlay  func()
	OnPause func()
	OnSeek  func(seconds float64)
}

func NewSimulatedPlayer(now func() time.Time) *SimulatedPlayer {
	if now == nil {
		now = time.Now
	}
	return &SimulatedPlayer{now: now, since: now()}
}

func (p *SimulatedPlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	if p.BlockAutoplay {
		p.mu.Unlock()
		return ErrAutoplayBlocked
	}
	if p.playing {
		p.mu.Unlock()
		return nil
	}
	p.position = p.currentLocked()
	p.since = p.now()
	p.playing = true
	cb := p.OnPlay
	p.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

func (p *SimulatedPlayer) Pause() error {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return nil
	}
	p.position = p.currentLocked()
	p.since = p.now()
	p.playing = false
	cb := p.OnPause
	p.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

func (p *SimulatedPlayer) Seek(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	p.mu.Lock()
	p.position = seconds
	p.since = p.now()
	cb := p.OnSeek
	p.mu.Unlock()

	if cb != nil {
		cb(seconds)
	}
	return nil
}

func (p *SimulatedPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *SimulatedPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.playing
}

// SetAutoplayBlocked toggles BlockAutoplay safely.
func (p *SimulatedPlayer) SetAutoplayBlocked(blocked bool) {
	p.mu.Lock()
	p.BlockAutoplay = blocked
	p.mu.Unlock()
}

func (p *SimulatedPlayer) currentLocked() float64 {
	if !p.playing {
		return p.position
	}
	return p.position + p.now().Sub(p.since).Seconds()
}
