package quota

import (
	"math/rand/v2"
	"sync"
	"time"
)

type PacingConfig struct {
	MinDelay  time.Duration
	MaxDelay  time.Duration
	PerChar   time.Duration
	AckMin    time.Duration
	AckJitter time.Duration
}

func DefaultPacing() PacingConfig {
	return PacingConfig{
		MinDelay:  15 * time.Second,
		MaxDelay:  180 * time.Second,
		PerChar:   50 * time.Millisecond,
		AckMin:    3 * time.Second,
		AckJitter: 5 * time.Second,
	}
}

// Pacer computes humanlike reply delays.
type Pacer struct {
	cfg  PacingConfig
	mu   sync.Mutex
	rand func() float64 // [0,1)
}

// NewPacer uses math/rand/v2 when rnd is nil.
func NewPacer(cfg PacingConfig, rnd func() float64) *Pacer {
	def := DefaultPacing()
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MinDelay < 0 || cfg.MinDelay > cfg.MaxDelay {
		cfg.MinDelay = min(def.MinDelay, cfg.MaxDelay)
	}
	if cfg.PerChar < 0 {
		cfg.PerChar = def.PerChar
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Pacer{cfg: cfg, rand: rnd}
}

func (p *Pacer) float() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rand()
}

// ComputeDelay returns how long to wait before sending a reply of the given
// length. Light replies (acks) wait a few seconds; full replies wait a random
// base in [min,max] plus typing time, capped at max.
func (p *Pacer) ComputeDelay(responseLength int, light bool) time.Duration {
	if light {
		return p.cfg.AckMin + time.Duration(p.float()*float64(p.cfg.AckJitter))
	}
	spread := p.cfg.MaxDelay - p.cfg.MinDelay
	base := p.cfg.MinDelay + time.Duration(p.float()*float64(spread))
	typing := time.Duration(float64(responseLength) * float64(p.cfg.PerChar) * (0.5 + p.float()))
	return min(base+typing, p.cfg.MaxDelay)
}

func (p *Pacer) MaxDelay() time.Duration { return p.cfg.MaxDelay }
