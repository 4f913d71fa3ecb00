package http

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PacingConfig controls how requests to a single host are spaced.
type PacingConfig struct {
	// RPS is the steady request rate per host. Zero disables pacing and
	// Retry-After holds for every host.
	RPS float64

	// MinRPS is the floor the rate drops to under repeated throttling.
	// Default: RPS / 8
	MinRPS float64

	// Cooldown is the quiet period after a throttling response before the
	// rate steps back up. Each step doubles the rate until RPS is reached.
	// Default: 1 minute
	Cooldown time.Duration

	// MaxHold caps how long a Retry-After header can stall a host.
	// Default: 2 minutes
	MaxHold time.Duration
}

// DefaultPacingConfig returns the Library API defaults.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		RPS:      5,
		Cooldown: time.Minute,
		MaxHold:  2 * time.Minute,
	}
}

// hostPace is the pacing state of one host.
type hostPace struct {
	limiter   *rate.Limiter
	rps       float64
	heldUntil time.Time
	throttled time.Time
}

// Pacer spaces requests per host. A throttling response halves the host's
// rate and, when the server names a Retry-After, holds the host until then.
type Pacer struct {
	cfg   PacingConfig
	now   func() time.Time
	mu    sync.Mutex
	hosts map[string]*hostPace
}

// NewPacer creates a Pacer, filling unset fields from DefaultPacingConfig.
func NewPacer(cfg PacingConfig) *Pacer {
	if cfg.MinRPS <= 0 || cfg.MinRPS > cfg.RPS {
		cfg.MinRPS = cfg.RPS / 8
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.MaxHold <= 0 {
		cfg.MaxHold = 2 * time.Minute
	}
	return &Pacer{cfg: cfg, now: time.Now, hosts: make(map[string]*hostPace)}
}

// host returns the state for rawURL's host, or nil when pacing is off.
// Must be called with p.mu held.
func (p *Pacer) host(rawURL string) *hostPace {
	if p.cfg.RPS <= 0 {
		return nil
	}
	name := hostOf(rawURL)
	h, ok := p.hosts[name]
	if !ok {
		h = &hostPace{limiter: rate.NewLimiter(rate.Limit(p.cfg.RPS), 1), rps: p.cfg.RPS}
		p.hosts[name] = h
	}
	return h
}

// Wait blocks until a request to rawURL may be sent.
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	h := p.host(rawURL)
	if h == nil {
		p.mu.Unlock()
		return nil
	}
	hold := h.heldUntil.Sub(p.now())
	limiter := h.limiter
	p.mu.Unlock()

	if hold > 0 {
		t := time.NewTimer(hold)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return limiter.Wait(ctx)
}

// Throttled records a 429 or 503 from rawURL's host. retryAfter is the
// server's requested delay, zero when it named none.
func (p *Pacer) Throttled(rawURL string, retryAfter time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.host(rawURL)
	if h == nil {
		return
	}
	now := p.now()
	h.throttled = now
	h.rps = max(h.rps/2, p.cfg.MinRPS)
	h.limiter.SetLimit(rate.Limit(h.rps))

	if retryAfter > 0 {
		until := now.Add(min(retryAfter, p.cfg.MaxHold))
		if until.After(h.heldUntil) {
			h.heldUntil = until
		}
	}
}

// Succeeded records a successful response from rawURL's host and steps
// its rate back up once the host has been quiet for a full cooldown.
func (p *Pacer) Succeeded(rawURL string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.host(rawURL)
	if h == nil || h.rps >= p.cfg.RPS {
		return
	}
	now := p.now()
	if now.Sub(h.throttled) < p.cfg.Cooldown {
		return
	}
	h.rps = min(h.rps*2, p.cfg.RPS)
	h.limiter.SetLimit(rate.Limit(h.rps))
	// the next step needs another quiet cooldown
	h.throttled = now
}

// Rate reports the current request rate for rawURL's host, zero when
// pacing is disabled.
func (p *Pacer) Rate(rawURL string) float64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h := p.host(rawURL); h != nil {
		return h.rps
	}
	return 0
}

// hostOf returns rawURL's host without port, or "unknown".
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
