package ratelimiting

import (
	"sync"
	"time"
)

const (
	minRateLimitPenalty = 2 * time.Second
	maxPenalty          = 15 * time.Second
	PenaltyCooldownStep = 100 * time.Millisecond
)

// Penalty is an extra delay shared by every outbound request.
//
// It grows when the remote rate limits us and decays passively on every queue cycle.
type Penalty struct {
	mutex   sync.Mutex
	current time.Duration
}

func NewPenalty() *Penalty {
	return &Penalty{
		mutex:   sync.Mutex{},
		current: 0,
	}
}

func (p *Penalty) Current() time.Duration {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.current
}

// Double the penalty, starting at 2s and capped at 15s. Returns the new penalty.
func (p *Penalty) RegisterRateLimited() time.Duration {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current = min(max(minRateLimitPenalty, 2*p.current), maxPenalty)
	return p.current
}

// Reduce the penalty by step, never going below zero
func (p *Penalty) Cooldown(step time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current = max(p.current-step, 0)
}
