package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/verte-labs/refillery/internal/resilience"
)

// ReasonRateLimitStorm is recorded when repeated 429/403 responses trip a
// domain for the remainder of the run.
const ReasonRateLimitStorm = "rate_limit_storm"

// Config controls per-domain rate limiting and the adaptive trip behavior.
type Config struct {
	// RPS is the configured requests-per-second per domain.
	RPS float64
	// FloorDelay is a minimum inter-request delay applied to every domain
	// before any robots crawl-delay is known. The stricter of RPS and
	// FloorDelay wins. Zero leaves RPS alone in charge.
	FloorDelay time.Duration
	// Burst is the token bucket burst size.
	Burst int
	// ErrorThreshold is how many 429/403 responses within ErrorWindow
	// trigger a backoff step.
	ErrorThreshold int
	// ErrorWindow is the sliding window for the error counter.
	ErrorWindow time.Duration
	// BackoffFactor multiplies the inter-request delay on each backoff step.
	BackoffFactor float64
	// MaxBackoffSteps caps the backoff steps. A threshold crossing past the
	// cap trips the domain to blocked for the rest of the run.
	MaxBackoffSteps int
}

// DefaultConfig returns the default adaptive limiter configuration.
func DefaultConfig() Config {
	return Config{
		RPS:             0.5,
		Burst:           1,
		ErrorThreshold:  3,
		ErrorWindow:     60 * time.Second,
		BackoffFactor:   2.0,
		MaxBackoffSteps: 2,
	}
}

func (c Config) withDefaults() Config {
	if c.RPS <= 0 {
		c.RPS = 0.5
	}
	if c.FloorDelay > 0 {
		if floorRPS := 1.0 / c.FloorDelay.Seconds(); floorRPS < c.RPS {
			c.RPS = floorRPS
		}
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 3
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = 60 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2.0
	}
	if c.MaxBackoffSteps <= 0 {
		c.MaxBackoffSteps = 2
	}
	return c
}

// domainState is the limiter state for one domain. Guarded by Limiter.mu.
type domainState struct {
	bucket       *rate.Limiter
	baseRate     rate.Limit
	backoffSteps int
	errorTimes   []time.Time
	violations   int
	blocked      bool
	blockedAt    time.Time
	reason       string
}

// Limiter schedules requests per domain through a token bucket and trips
// domains to a blocked state on rate-limit storms. Acquire is the sole
// suspension point for all network calls in a run. Safe for concurrent use.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	domains map[string]*domainState
}

// New creates a limiter with the given configuration.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		domains: make(map[string]*domainState),
	}
}

func (l *Limiter) state(domain string) *domainState {
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{
			bucket:   rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst),
			baseRate: rate.Limit(l.cfg.RPS),
		}
		l.domains[domain] = st
	}
	return st
}

// SetCrawlDelay lowers a domain's rate to honor a robots.txt crawl-delay
// when it is stricter than the configured RPS.
func (l *Limiter) SetCrawlDelay(domain string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(domain)
	delayRate := rate.Limit(1.0 / delay.Seconds())
	if delayRate < st.baseRate {
		st.baseRate = delayRate
		st.bucket.SetLimit(st.baseRate)
	}
}

// Acquire blocks until the domain's bucket admits a request, or fails
// immediately with DomainBlockedError when the domain is tripped.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	l.mu.Lock()
	st := l.state(domain)
	if st.blocked {
		reason := st.reason
		l.mu.Unlock()
		return &resilience.DomainBlockedError{Domain: domain, Reason: reason}
	}
	bucket := st.bucket
	l.mu.Unlock()

	return bucket.Wait(ctx)
}

// Feedback records an HTTP response status for the domain. 429 and 403
// responses feed the sliding error window; crossing the threshold applies a
// backoff step, and crossing it past the step cap trips the domain.
func (l *Limiter) Feedback(domain string, statusCode int) {
	if statusCode != 429 && statusCode != 403 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(domain)
	st.violations++

	now := l.now()
	st.errorTimes = append(st.errorTimes, now)
	cutoff := now.Add(-l.cfg.ErrorWindow)
	trimmed := st.errorTimes[:0]
	for _, t := range st.errorTimes {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	st.errorTimes = trimmed

	if len(st.errorTimes) < l.cfg.ErrorThreshold {
		return
	}

	if st.backoffSteps >= l.cfg.MaxBackoffSteps {
		if !st.blocked {
			st.blocked = true
			st.blockedAt = now
			st.reason = ReasonRateLimitStorm
			zap.L().Error("domain tripped to blocked",
				zap.String("domain", domain),
				zap.Int("violations", st.violations),
				zap.String("reason", st.reason),
			)
		}
		return
	}

	st.backoffSteps++
	newRate := st.bucket.Limit() / rate.Limit(l.cfg.BackoffFactor)
	st.bucket.SetLimit(newRate)
	zap.L().Warn("rate limit backoff applied",
		zap.String("domain", domain),
		zap.Int("step", st.backoffSteps),
		zap.Float64("rps", float64(newRate)),
	)
}

// Blocked reports whether a domain has tripped, along with the reason.
func (l *Limiter) Blocked(domain string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.domains[domain]
	if !ok {
		return false, ""
	}
	return st.blocked, st.reason
}

// Violations returns the 429/403 count observed for a domain this run.
func (l *Limiter) Violations(domain string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.domains[domain]
	if !ok {
		return 0
	}
	return st.violations
}

// BlockedDomains lists all tripped domains.
func (l *Limiter) BlockedDomains() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for d, st := range l.domains {
		if st.blocked {
			out = append(out, d)
		}
	}
	return out
}
