package crawl

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/adapter"
	"github.com/verte-labs/refillery/internal/config"
	"github.com/verte-labs/refillery/internal/fetcher"
	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/monitoring"
	"github.com/verte-labs/refillery/internal/resilience"
	"github.com/verte-labs/refillery/internal/robots"
	"github.com/verte-labs/refillery/internal/store"
)

// stubAdapter drives the orchestrator against an httptest server. Refs are
// canned; extraction ignores page content beyond requiring a parsed doc.
type stubAdapter struct {
	site  model.Site
	host  string
	seeds []string
	refs  []model.ProductRef
}

func (a *stubAdapter) Site() model.Site                             { return a.site }
func (a *stubAdapter) Domain() string                               { return a.host }
func (a *stubAdapter) SeedURLs(bool) []string                       { return a.seeds }
func (a *stubAdapter) NextPageURL(string, *goquery.Document) string { return "" }

func (a *stubAdapter) ExtractRefs(string, *goquery.Document) []model.ProductRef {
	return a.refs
}

func (a *stubAdapter) ExtractProduct(ref model.ProductRef, _ *goquery.Document, _ *adapter.Extractor) (*model.Product, adapter.RefillSignals, error) {
	return &model.Product{
		ProductID:  path.Base(ref.URL),
		Site:       a.site,
		Brand:      "Chanel",
		Name:       "N°5 Recharge",
		PriceValue: 120,
		Currency:   "EUR",
	}, adapter.RefillSignals{}, nil
}

// rtFunc lets the robots policy fetch its https URL from a fixture.
type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func robotsFixtureClient(body string) *http.Client {
	return &http.Client{Transport: rtFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})}
}

const testRobots = "User-agent: *\nDisallow: /private/\n"

type harness struct {
	orch   *Orchestrator
	srv    *httptest.Server
	site   model.Site
	hits   map[string]*atomic.Int32
	listed []model.ProductRef
}

func newHarness(t *testing.T, cfg config.CrawlConfig) *harness {
	t.Helper()

	h := &harness{site: model.SiteSephora, hits: map[string]*atomic.Int32{
		"/listing":      {},
		"/p/alpha":      {},
		"/private/beta": {},
		"/p/flaky":      {},
	}}

	mux := http.NewServeMux()
	page := func(p, body string) {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			h.hits[p].Add(1)
			io.WriteString(w, body) //nolint:errcheck
		})
	}
	page("/listing", `<html><body><a href="/p/alpha">a</a></body></html>`)
	page("/p/alpha", `<html><body><h1>N°5 Recharge</h1></body></html>`)
	page("/private/beta", `<html><body>forbidden crawl target</body></html>`)
	mux.HandleFunc("/p/flaky", func(w http.ResponseWriter, r *http.Request) {
		h.hits["/p/flaky"].Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)

	u, err := url.Parse(h.srv.URL)
	require.NoError(t, err)

	h.listed = []model.ProductRef{
		{Site: h.site, URL: h.srv.URL + "/p/alpha"},
		{Site: h.site, URL: h.srv.URL + "/p/alpha"}, // duplicate listing entry
		{Site: h.site, URL: h.srv.URL + "/private/beta"},
	}

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{
		site:  h.site,
		host:  u.Host,
		seeds: []string{h.srv.URL + "/listing"},
		refs:  h.listed,
	})

	st, err := store.NewSQLite(t.TempDir() + "/crawl.db")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	h.orch = New(cfg, registry, st)
	// The real policy fetches robots.txt over https; serve it from a fixture.
	h.orch.policy = robots.NewPolicy(cfg.UserAgent,
		robots.WithHTTPClient(robotsFixtureClient(testRobots)))
	return h
}

func testCrawlConfig() config.CrawlConfig {
	return config.CrawlConfig{
		RateLimitRPS:       100,
		ConcurrencyPerSite: 2,
		MaxRetries:         1,
		TimeoutSeconds:     5,
		MaxPages:           10,
		StrictCompliance:   true,
		UserAgent:          "refillerybot/1.0",
	}
}

func TestOrchestrator_DeniedURLNeverReachesLimiter(t *testing.T) {
	h := newHarness(t, testCrawlConfig())

	var mu sync.Mutex
	var acquired []string
	h.orch.client = fetcher.New(h.orch.cond, fetcher.Options{
		UserAgent: "refillerybot/1.0",
		Retry:     resilience.RetryConfig{MaxAttempts: 1},
		Acquire: func(ctx context.Context, domain string) error {
			mu.Lock()
			acquired = append(acquired, domain)
			mu.Unlock()
			return h.orch.limiter.Acquire(ctx, domain)
		},
		Feedback: h.orch.limiter.Feedback,
	})

	manifest, err := h.orch.Run(context.Background(), h.site, Options{Mode: model.ModeFull})
	require.NoError(t, err)

	// A robots-denied URL is dropped before rate admission: no Acquire, no
	// request. Only the listing and the one distinct allowed detail page
	// were admitted and fetched.
	assert.Equal(t, int32(0), h.hits["/private/beta"].Load())
	assert.Len(t, acquired, 2)
	assert.Equal(t, int32(1), h.hits["/listing"].Load())
	assert.Equal(t, int32(1), h.hits["/p/alpha"].Load(), "duplicate listing entries collapse to one fetch")

	assert.Equal(t, model.RunStatusComplete, manifest.Status)
	assert.Equal(t, 2, manifest.PagesFetched)
	assert.Equal(t, 1, manifest.ProductsCount)
	require.Len(t, manifest.Compliance, 1)
	assert.Equal(t, 1, manifest.Compliance[0].BlockedRequests)
	assert.NotEmpty(t, manifest.RobotsSnapshotID)
}

func TestOrchestrator_RetriesUpToMaxRetries(t *testing.T) {
	cfg := testCrawlConfig()
	cfg.MaxRetries = 2
	h := newHarness(t, cfg)

	run := h.newRunContext(t)
	result := h.orch.fetchPage(context.Background(), run, h.srv.URL+"/p/flaky")

	assert.Nil(t, result.doc)
	assert.Equal(t, resilience.Retryable, result.outcome.Kind)
	assert.Equal(t, int32(2), h.hits["/p/flaky"].Load(), "attempts follow the configured max_retries")
}

func TestOrchestrator_ManifestRecordsRobotsDecision(t *testing.T) {
	cfg := testCrawlConfig()
	cfg.StrictCompliance = false
	h := newHarness(t, cfg)

	run := h.newRunContext(t)

	denied := h.orch.fetchPage(context.Background(), run, h.srv.URL+"/private/beta")
	require.NotNil(t, denied.doc, "strict compliance off lets the fetch proceed")
	assert.False(t, denied.page.RobotsAllowed, "audit manifest keeps the real robots verdict")
	assert.Equal(t, int32(1), h.hits["/private/beta"].Load())

	allowed := h.orch.fetchPage(context.Background(), run, h.srv.URL+"/p/alpha")
	require.NotNil(t, allowed.doc)
	assert.True(t, allowed.page.RobotsAllowed)
}

// newRunContext builds the per-run state fetchPage needs, with the robots
// snapshot fetched through the fixture policy.
func (h *harness) newRunContext(t *testing.T) *runContext {
	t.Helper()
	u, err := url.Parse(h.srv.URL)
	require.NoError(t, err)
	snapshot, err := h.orch.policy.Fetch(context.Background(), u.Host)
	require.NoError(t, err)

	return &runContext{
		manifest: &model.RunManifest{RunID: "run-test", Site: h.site},
		adapter:  &stubAdapter{site: h.site, host: u.Host},
		snapshot: snapshot,
		metrics:  monitoring.NewRunMetrics(),
		seen:     newSeenSet(),
		log:      zap.NewNop(),
	}
}
