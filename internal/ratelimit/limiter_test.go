package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-labs/refillery/internal/resilience"
)

func testConfig() Config {
	return Config{
		RPS:             100, // fast buckets so Acquire never stalls tests
		Burst:           1,
		ErrorThreshold:  3,
		ErrorWindow:     60 * time.Second,
		BackoffFactor:   2.0,
		MaxBackoffSteps: 2,
	}
}

func TestLimiter_StormTripsDomain(t *testing.T) {
	l := New(testConfig())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	// Five 429s inside one window: errors 3 and 4 step the backoff,
	// the fifth trips the domain for the rest of the run.
	for i := 0; i < 4; i++ {
		l.Feedback("www.sephora.fr", 429)
		blocked, _ := l.Blocked("www.sephora.fr")
		assert.False(t, blocked, "after %d errors", i+1)
	}
	l.Feedback("www.sephora.fr", 429)

	blocked, reason := l.Blocked("www.sephora.fr")
	assert.True(t, blocked)
	assert.Equal(t, ReasonRateLimitStorm, reason)
	assert.Equal(t, 5, l.Violations("www.sephora.fr"))
	assert.Equal(t, []string{"www.sephora.fr"}, l.BlockedDomains())
}

func TestLimiter_AcquireFailsWhenBlocked(t *testing.T) {
	l := New(testConfig())
	for i := 0; i < 5; i++ {
		l.Feedback("www.sephora.fr", 403)
	}

	err := l.Acquire(context.Background(), "www.sephora.fr")
	require.Error(t, err)
	assert.True(t, resilience.IsDomainBlocked(err))

	// Other domains stay unaffected.
	require.NoError(t, l.Acquire(context.Background(), "www.marionnaud.fr"))
}

func TestLimiter_WindowExpiryResetsCounter(t *testing.T) {
	l := New(testConfig())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Feedback("www.sephora.fr", 429)
	l.Feedback("www.sephora.fr", 429)

	// Slide past the window; the old errors no longer count toward the
	// threshold, so three more errors only reach the first backoff step.
	now = now.Add(2 * time.Minute)
	l.Feedback("www.sephora.fr", 429)
	l.Feedback("www.sephora.fr", 429)
	l.Feedback("www.sephora.fr", 429)

	blocked, _ := l.Blocked("www.sephora.fr")
	assert.False(t, blocked)
	assert.Equal(t, 5, l.Violations("www.sephora.fr"), "violations count every 429 regardless of window")
}

func TestLimiter_IgnoresNonRateStatuses(t *testing.T) {
	l := New(testConfig())
	for _, code := range []int{200, 304, 404, 500, 503} {
		for i := 0; i < 10; i++ {
			l.Feedback("www.sephora.fr", code)
		}
	}

	blocked, _ := l.Blocked("www.sephora.fr")
	assert.False(t, blocked)
	assert.Equal(t, 0, l.Violations("www.sephora.fr"))
}

func TestLimiter_BackoffLowersRate(t *testing.T) {
	l := New(testConfig())

	l.mu.Lock()
	before := l.state("www.sephora.fr").bucket.Limit()
	l.mu.Unlock()

	l.Feedback("www.sephora.fr", 429)
	l.Feedback("www.sephora.fr", 429)
	l.Feedback("www.sephora.fr", 429)

	l.mu.Lock()
	st := l.domains["www.sephora.fr"]
	after := st.bucket.Limit()
	steps := st.backoffSteps
	l.mu.Unlock()

	assert.Equal(t, 1, steps)
	assert.InDelta(t, float64(before)/2.0, float64(after), 0.001)
}

func TestLimiter_SetCrawlDelayOnlyTightens(t *testing.T) {
	l := New(Config{RPS: 0.5, Burst: 1})

	// 10s delay (0.1 rps) is stricter than the configured 0.5 rps.
	l.SetCrawlDelay("www.sephora.fr", 10*time.Second)
	l.mu.Lock()
	tightened := l.state("www.sephora.fr").bucket.Limit()
	l.mu.Unlock()
	assert.InDelta(t, 0.1, float64(tightened), 0.001)

	// A looser delay never raises the rate back up.
	l.SetCrawlDelay("www.sephora.fr", time.Second)
	l.mu.Lock()
	unchanged := l.state("www.sephora.fr").bucket.Limit()
	l.mu.Unlock()
	assert.InDelta(t, 0.1, float64(unchanged), 0.001)

	l.SetCrawlDelay("www.sephora.fr", 0)
}

func TestLimiter_UnknownDomain(t *testing.T) {
	l := New(testConfig())

	blocked, reason := l.Blocked("unknown.example")
	assert.False(t, blocked)
	assert.Empty(t, reason)
	assert.Equal(t, 0, l.Violations("unknown.example"))
	assert.Empty(t, l.BlockedDomains())
}

func TestLimiter_FloorDelayTightensRate(t *testing.T) {
	l := New(Config{RPS: 100, FloorDelay: 2 * time.Second, Burst: 1})
	require.NoError(t, l.Acquire(context.Background(), "www.sephora.fr"))

	l.mu.Lock()
	limit := l.domains["www.sephora.fr"].bucket.Limit()
	l.mu.Unlock()
	assert.InDelta(t, 0.5, float64(limit), 0.001, "floor delay caps the rate below RPS")

	// A floor looser than the configured RPS changes nothing.
	l = New(Config{RPS: 0.2, FloorDelay: 2 * time.Second, Burst: 1})
	require.NoError(t, l.Acquire(context.Background(), "www.sephora.fr"))

	l.mu.Lock()
	limit = l.domains["www.sephora.fr"].bucket.Limit()
	l.mu.Unlock()
	assert.InDelta(t, 0.2, float64(limit), 0.001)
}
