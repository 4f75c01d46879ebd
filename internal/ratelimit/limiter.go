// Package ratelimit paces outbound calls to the target, one token bucket per
// credential, so a run never trips the target's own rate limits.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
)

// Class selects the bucket size used for a credential.
type Class int

const (
	// Session covers calls made with a login session token.
	Session Class = iota
	// APIKey covers calls authenticated with an issued API key.
	APIKey
)

// Config defines the pacing configuration.
type Config struct {
	SessionRPS      float64       // Requests per second per session token
	SessionBurst    int           // Burst size per session token
	KeyRPS          float64       // Requests per second per API key
	KeyBurst        int           // Burst size per API key
	CleanupInterval time.Duration // How often to drop idle limiters
}

// DefaultConfig stays under the target's free-tier limit of 10 rps.
var DefaultConfig = Config{
	SessionRPS:      8,
	SessionBurst:    16,
	KeyRPS:          8,
	KeyBurst:        16,
	CleanupInterval: 10 * time.Minute,
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
	class    Class
}

// Pacer manages one limiter per credential key.
type Pacer struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	config   Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPacer creates a pacer and starts its cleanup goroutine.
func NewPacer(config Config) *Pacer {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	p := &Pacer{
		limiters: make(map[string]*limiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.cleanupLoop()
	return p
}

// Limiter returns the limiter for key, creating it when missing or when the
// class of the key changed.
func (p *Pacer) Limiter(key string, class Class) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.limiters[key]
	if ok && entry.class == class {
		entry.lastUsed = time.Now()
		return entry.limiter
	}

	rps, burst := p.config.SessionRPS, p.config.SessionBurst
	if class == APIKey {
		rps, burst = p.config.KeyRPS, p.config.KeyBurst
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)
	p.limiters[key] = &limiterEntry{limiter: limiter, lastUsed: time.Now(), class: class}
	return limiter
}

// Allow reports whether a call may go out right now without waiting.
func (p *Pacer) Allow(key string, class Class) bool {
	return p.Limiter(key, class).Allow()
}

// Wait blocks until a call for key may go out. An empty key is never paced.
func (p *Pacer) Wait(ctx context.Context, key string, class Class) error {
	if key == "" {
		return nil
	}
	if err := p.Limiter(key, class).Wait(ctx); err != nil {
		return errs.Wrap(errs.Aborted, "ratelimit: wait", err)
	}
	return nil
}

// Cleanup drops limiters idle for longer than the cleanup interval.
func (p *Pacer) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.config.CleanupInterval)
	for key, entry := range p.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(p.limiters, key)
		}
	}
}

func (p *Pacer) cleanupLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Cleanup()
		case <-p.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish.
func (p *Pacer) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Len returns the number of live limiters.
func (p *Pacer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}
