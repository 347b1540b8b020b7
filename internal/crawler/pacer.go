package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mazen160/go-random"
	"golang.org/x/time/rate"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
)

// Pacer spaces requests out: a randomized delay before every request breaks
// up request-rate regularity, and an optional token bucket per host bounds
// sustained throughput.
type Pacer struct {
	min time.Duration
	max time.Duration

	rateCfg     config.RateLimitConfig
	rateEnabled bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPacer creates a pacer from the delay configuration.
func NewPacer(cfg config.DelayConfig) *Pacer {
	p := &Pacer{
		min: cfg.Min.Duration,
		max: cfg.Max.Duration,
	}
	if cfg.RateLimitPerHost.Enabled() {
		p.rateEnabled = true
		p.rateCfg = cfg.RateLimitPerHost
		p.limiters = make(map[string]*rate.Limiter)
	}
	return p
}

// Wait blocks for the randomized delay and any per-host rate limit.
func (p *Pacer) Wait(ctx context.Context, host string) error {
	if sleep := p.randomDelay(); sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if p.rateEnabled && host != "" {
		limiter := p.limiter(strings.ToLower(host))
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pacer) randomDelay() time.Duration {
	if p.max <= 0 {
		return 0
	}
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	ms, err := random.IntRange(0, int(span/time.Millisecond)+1)
	if err != nil {
		return p.min
	}
	return p.min + time.Duration(ms)*time.Millisecond
}

func (p *Pacer) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limiter, ok := p.limiters[host]; ok {
		return limiter
	}
	interval := p.rateCfg.Window.Duration / time.Duration(p.rateCfg.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), p.rateCfg.Requests)
	p.limiters[host] = limiter
	return limiter
}
