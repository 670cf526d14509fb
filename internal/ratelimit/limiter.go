// Package ratelimit implements the token-bucket gate shared by SearchClient
// and LLMClient: at most MAX_RPM requests per rolling 60-second window, with
// exponential backoff layered on top when a provider signals a rate-limit
// error. The window itself is delegated to golang.org/x/time/rate, which
// already implements the sliding-window token bucket; the backoff escalation
// is purpose-built since x/time/rate has no notion of provider feedback.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/time/rate"
)

// Config holds the tunable parameters for a Limiter.
type Config struct {
	// RPM is the maximum number of acquires allowed per rolling 60s window.
	RPM int
	// InitialBackoff is the resting backoff, under which Acquire does not
	// wait; the first rate-limit signal without a retry-after raises it to
	// InitialBackoff*Multiplier.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration
	// Multiplier is applied to the backoff on each consecutive signal.
	Multiplier float64
}

// DefaultConfig returns the spec's default rate-limit parameters.
func DefaultConfig() Config {
	return Config{
		RPM:            5,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2,
	}
}

// Limiter enforces a shared rolling-window rate limit with provider-signalled
// backoff escalation. A single Limiter is meant to be shared across all
// workers of a research session (and optionally across sessions).
type Limiter struct {
	cfg     Config
	bucket  *rate.Limiter
	mu      sync.Mutex
	backoff time.Duration
	waits   []float64 // recent acquire-wait durations in seconds, for WaitStats()
}

// New creates a Limiter from cfg. A zero Config.RPM falls back to
// DefaultConfig's RPM.
func New(cfg Config) *Limiter {
	if cfg.RPM <= 0 {
		cfg.RPM = DefaultConfig().RPM
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}

	// Burst = RPM lets the first RPM calls through immediately; the refill
	// rate of RPM tokens per 60s then enforces "at most RPM per rolling
	// minute" going forward.
	limit := rate.Every(time.Minute / time.Duration(cfg.RPM))

	return &Limiter{
		cfg:     cfg,
		bucket:  rate.NewLimiter(limit, cfg.RPM),
		backoff: cfg.InitialBackoff,
	}
}

// Acquire suspends the caller until a token is available or ctx is done.
// Waiters are served in FIFO order (guaranteed by rate.Limiter's internal
// reservation ordering). It returns an error only when ctx is done, or when
// ctx's deadline would pass before a token becomes available.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	backoff := l.backoff
	l.mu.Unlock()

	if backoff > l.cfg.InitialBackoff {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	l.recordWait(time.Since(start))
	return nil
}

// SignalRateLimitError reports a provider-observed rate-limit response.
// retryAfter, if non-zero, is honored verbatim as the next backoff;
// otherwise the backoff doubles (capped at MaxBackoff).
func (l *Limiter) SignalRateLimitError(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if retryAfter > 0 {
		l.backoff = retryAfter
		return
	}

	next := time.Duration(float64(l.backoff) * l.cfg.Multiplier)
	if next > l.cfg.MaxBackoff {
		next = l.cfg.MaxBackoff
	}
	if next <= 0 {
		next = l.cfg.InitialBackoff
	}
	l.backoff = next
}

// ResetBackoff restores the backoff to its initial value. Nothing in this
// module calls it, and the Limiter never resets the backoff on its own: after
// a rate-limit signal the escalated backoff stays in effect for every later
// Acquire until ResetBackoff is called.
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = l.cfg.InitialBackoff
}

func (l *Limiter) recordWait(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, d.Seconds())
	if len(l.waits) > 50 {
		l.waits = l.waits[len(l.waits)-50:]
	}
}

// WaitStats reports the rolling mean and standard deviation of recent
// acquire-wait durations, in seconds. Used to surface "sustained
// throttling" status text in progress events; returns (0, 0) if no acquires
// have completed yet.
func (l *Limiter) WaitStats() (mean, stddev float64) {
	l.mu.Lock()
	samples := append([]float64(nil), l.waits...)
	l.mu.Unlock()

	if len(samples) == 0 {
		return 0, 0
	}
	mean, _ = stats.Mean(samples)
	stddev, _ = stats.StandardDeviation(samples)
	return mean, stddev
}
