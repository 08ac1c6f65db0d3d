package robots

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAgent = "RefilleryBot/1.0 (+https://verte-labs.eu/refillery)"

// rtFunc lets a test serve canned robots.txt responses without a listener.
type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func fixedClient(status int, body string) *http.Client {
	return &http.Client{Transport: rtFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     make(http.Header),
			Body:       readCloser(body),
			Request:    req,
		}, nil
	})}
}

func readCloser(s string) *nopCloser { return &nopCloser{Reader: strings.NewReader(s)} }

type nopCloser struct{ *strings.Reader }

func (n *nopCloser) Close() error { return nil }

func (n *nopCloser) Read(p []byte) (int, error) { return n.Reader.Read(p) }

const sephoraRobots = `User-agent: *
Disallow: /checkout
Disallow: /mon-compte
Allow: /parfums
Crawl-delay: 2
`

func TestPolicy_FetchAndIsAllowed(t *testing.T) {
	p := NewPolicy(testAgent, WithHTTPClient(fixedClient(200, sephoraRobots)))

	snap, err := p.Fetch(context.Background(), "www.sephora.fr")
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.False(t, snap.DenyAll)
	assert.Equal(t, "www.sephora.fr", snap.Domain)
	assert.Contains(t, snap.DisallowRules, "/checkout")
	assert.Contains(t, snap.AllowRules, "/parfums")
	assert.Equal(t, 2.0, snap.CrawlDelay)
	assert.True(t, strings.HasPrefix(snap.ID, "www.sephora.fr-"))

	assert.True(t, p.IsAllowed(snap, "https://www.sephora.fr/parfums"))
	assert.True(t, p.IsAllowed(snap, "https://www.sephora.fr/p/P123.html"))
	assert.False(t, p.IsAllowed(snap, "https://www.sephora.fr/checkout"))
	assert.False(t, p.IsAllowed(snap, "https://www.sephora.fr/mon-compte/commandes"))
}

func TestPolicy_404FailsClosed(t *testing.T) {
	p := NewPolicy(testAgent, WithHTTPClient(fixedClient(404, "not here")))

	snap, err := p.Fetch(context.Background(), "www.marionnaud.fr")
	require.NoError(t, err)

	assert.True(t, snap.DenyAll)
	assert.Equal(t, []string{"/"}, snap.DisallowRules)
	assert.False(t, p.IsAllowed(snap, "https://www.marionnaud.fr/parfum"))
}

func TestPolicy_NetworkErrorFailsClosed(t *testing.T) {
	client := &http.Client{Transport: rtFunc(func(req *http.Request) (*http.Response, error) {
		return nil, assert.AnError
	})}
	p := NewPolicy(testAgent, WithHTTPClient(client))

	snap, err := p.Fetch(context.Background(), "www.nocibe.fr")
	require.NoError(t, err)

	assert.True(t, snap.DenyAll)
	assert.False(t, p.IsAllowed(snap, "https://www.nocibe.fr/"))
}

func TestPolicy_NilSnapshotDenied(t *testing.T) {
	p := NewPolicy(testAgent)
	assert.False(t, p.IsAllowed(nil, "https://www.sephora.fr/parfums"))
}

func TestPolicy_SnapshotCachedWithinTTL(t *testing.T) {
	var hits atomic.Int32
	client := &http.Client{Transport: rtFunc(func(req *http.Request) (*http.Response, error) {
		hits.Add(1)
		return &http.Response{
			StatusCode: 200,
			Header:     make(http.Header),
			Body:       readCloser(sephoraRobots),
			Request:    req,
		}, nil
	})}
	p := NewPolicy(testAgent, WithHTTPClient(client), WithTTL(time.Hour))

	first, err := p.Fetch(context.Background(), "www.sephora.fr")
	require.NoError(t, err)
	second, err := p.Fetch(context.Background(), "www.sephora.fr")
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, first.ID, second.ID)
}

func TestPolicy_CrawlDelay(t *testing.T) {
	p := NewPolicy(testAgent, WithHTTPClient(fixedClient(200, sephoraRobots)))
	snap, err := p.Fetch(context.Background(), "www.sephora.fr")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, p.CrawlDelay(snap))
	assert.Equal(t, time.Second, p.CrawlDelay(nil), "default polite delay when robots is silent")
}

func TestExtractRules_AgentGroupPreferred(t *testing.T) {
	raw := []byte(`User-agent: *
Disallow: /private

User-agent: refillerybot
Disallow: /promo
Crawl-delay: 5
`)
	allow, disallow, delay := extractRules(raw, testAgent)

	assert.Empty(t, allow)
	assert.Equal(t, []string{"/promo"}, disallow)
	assert.Equal(t, 5.0, delay)
}

func TestExtractRules_StarFallback(t *testing.T) {
	raw := []byte(`User-agent: googlebot
Disallow: /ads

User-agent: *
Disallow: /cart
Crawl-delay: 1.5
`)
	_, disallow, delay := extractRules(raw, testAgent)

	assert.Equal(t, []string{"/cart"}, disallow)
	assert.Equal(t, 1.5, delay)
}
