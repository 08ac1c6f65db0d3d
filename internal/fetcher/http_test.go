package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-labs/refillery/internal/cache"
	"github.com/verte-labs/refillery/internal/resilience"
)

func fastOpts() Options {
	return Options{
		UserAgent: "RefilleryBot/1.0",
		Timeout:   5 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			JitterFraction: 0,
		},
	}
}

func TestFetchPage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RefilleryBot/1.0", r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Accept-Language"))
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Wed, 01 Jul 2026 10:00:00 GMT")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := New(cache.NewConditional(), fastOpts())
	out, manifest := c.FetchPage(context.Background(), srv.URL+"/p/P1.html")

	assert.Equal(t, resilience.Success, out.Kind)
	assert.Equal(t, 200, out.StatusCode)
	assert.Equal(t, []byte("<html>ok</html>"), out.Body)
	assert.Equal(t, `"v1"`, out.ETag)

	assert.Equal(t, 200, manifest.StatusCode)
	assert.Equal(t, int64(15), manifest.ContentLength)
	assert.Equal(t, cache.HashBody(out.Body), manifest.HTMLHash)
	assert.Equal(t, "RefilleryBot/1.0", manifest.UserAgent)
}

func TestFetchPage_AcceptLanguage(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Accept-Language"))
	}))
	defer srv.Close()

	opts := fastOpts()
	opts.AcceptLanguage = "fr-FR,fr;q=0.8"
	c := New(cache.NewConditional(), opts)
	c.FetchPage(context.Background(), srv.URL+"/p/P1.html")
	assert.Equal(t, "fr-FR,fr;q=0.8", got.Load(), "configured accept_language is sent")

	c = New(cache.NewConditional(), fastOpts())
	c.FetchPage(context.Background(), srv.URL+"/p/P1.html")
	assert.Equal(t, "fr-FR,fr;q=0.9,en;q=0.5", got.Load(), "unset falls back to the French default")
}

func TestFetchPage_ConditionalGetReturns304(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	cond := cache.NewConditional()
	c := New(cond, fastOpts())
	url := srv.URL + "/p/P1.html"

	first, _ := c.FetchPage(context.Background(), url)
	require.Equal(t, resilience.Success, first.Kind)
	cond.RecordResponse(url, first.StatusCode, first.ETag, first.LastMod, first.Body, []byte(`{"cached":true}`))

	second, manifest := c.FetchPage(context.Background(), url)
	assert.Equal(t, resilience.NotModified, second.Kind)
	assert.Equal(t, 304, manifest.StatusCode)
	assert.Empty(t, second.Body)

	ext, ok := cond.Extraction(url)
	require.True(t, ok, "304 leaves the cached extraction available")
	assert.JSONEq(t, `{"cached":true}`, string(ext))
}

func TestFetchPage_RetryableStatusExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(cache.NewConditional(), fastOpts())
	out, _ := c.FetchPage(context.Background(), srv.URL)

	assert.Equal(t, resilience.Retryable, out.Kind)
	assert.Equal(t, 503, out.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchPage_FatalOn404(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(cache.NewConditional(), fastOpts())
	out, _ := c.FetchPage(context.Background(), srv.URL)

	assert.Equal(t, resilience.Fatal, out.Kind)
	assert.Equal(t, 404, out.StatusCode)
	assert.Equal(t, int32(1), hits.Load(), "4xx is never retried")
}

func TestFetchPage_AcquireGatesEveryAttempt(t *testing.T) {
	var acquired atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := fastOpts()
	opts.Acquire = func(ctx context.Context, domain string) error {
		acquired.Add(1)
		return nil
	}
	c := New(cache.NewConditional(), opts)
	c.FetchPage(context.Background(), srv.URL)

	assert.Equal(t, int32(2), acquired.Load(), "limiter re-acquired per attempt")
}

func TestFetchPage_AcquireErrorIsFatal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	opts := fastOpts()
	opts.Acquire = func(ctx context.Context, domain string) error {
		return &resilience.DomainBlockedError{Domain: domain, Reason: "rate_limit_storm"}
	}
	c := New(cache.NewConditional(), opts)
	out, _ := c.FetchPage(context.Background(), srv.URL)

	assert.Equal(t, resilience.Fatal, out.Kind)
	assert.True(t, resilience.IsDomainBlocked(out.Err))
	assert.Equal(t, int32(0), hits.Load(), "blocked domain sends no request")
}

func TestFetchPage_FeedbackReceivesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var statuses []int
	opts := fastOpts()
	opts.Retry.MaxAttempts = 1
	opts.Feedback = func(domain string, statusCode int) {
		statuses = append(statuses, statusCode)
	}
	c := New(cache.NewConditional(), opts)
	out, _ := c.FetchPage(context.Background(), srv.URL)

	assert.Equal(t, resilience.Retryable, out.Kind)
	assert.True(t, out.RateLimited())
	assert.Equal(t, []int{429}, statuses)
}

func TestFetchPage_MalformedURL(t *testing.T) {
	c := New(cache.NewConditional(), fastOpts())
	out, _ := c.FetchPage(context.Background(), "http://bad url with spaces")
	assert.Equal(t, resilience.Fatal, out.Kind)
	require.Error(t, out.Err)
}
