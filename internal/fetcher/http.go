package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/cache"
	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/resilience"
)

// maxBodyBytes bounds how much of a page body is read.
const maxBodyBytes = 8 << 20

// AcquireFunc admits a request for a domain. The orchestrator wires this to
// the per-domain rate limiter so the limiter stays the sole suspension
// point even across HTTP-layer retries.
type AcquireFunc func(ctx context.Context, domain string) error

// FeedbackFunc reports a response status for a domain, feeding the adaptive
// limiter's error window.
type FeedbackFunc func(domain string, statusCode int)

// Options configures the page fetcher.
type Options struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	Retry          resilience.RetryConfig
	Acquire        AcquireFunc
	Feedback       FeedbackFunc
}

// Client fetches pages with conditional GET, timeouts, and retry on
// transient failures. It performs no robots or rate decisions of its own;
// those are injected through the Acquire hook.
type Client struct {
	http     *http.Client
	ua       string
	lang     string
	retry    resilience.RetryConfig
	cond     *cache.Conditional
	acquire  AcquireFunc
	feedback FeedbackFunc
}

// New creates a page fetcher backed by the given conditional cache.
func New(cond *cache.Conditional, opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = "refillery/1.0"
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = "fr-FR,fr;q=0.9,en;q=0.5"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		ua:       opts.UserAgent,
		lang:     opts.AcceptLanguage,
		retry:    opts.Retry,
		cond:     cond,
		acquire:  opts.Acquire,
		feedback: opts.Feedback,
	}
}

// UserAgent returns the configured crawler user agent.
func (c *Client) UserAgent() string {
	return c.ua
}

// FetchPage fetches a URL, sending conditional headers when the cache has
// validators for it. The returned manifest records the fetch for audit
// regardless of outcome.
func (c *Client) FetchPage(ctx context.Context, rawURL string) (resilience.Outcome, model.PageManifest) {
	manifest := model.PageManifest{
		URL:       rawURL,
		ScrapeTS:  time.Now().UTC(),
		UserAgent: c.ua,
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return resilience.Outcome{
			Kind: resilience.Fatal,
			Err:  eris.Wrapf(err, "fetcher: parse url %s", rawURL),
		}, manifest
	}
	domain := u.Host

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(domain, "fetch_page")
	}

	out := resilience.DoOutcome(ctx, retry, func(ctx context.Context) resilience.Outcome {
		return c.attempt(ctx, domain, rawURL, &manifest)
	})

	return out, manifest
}

func (c *Client) attempt(ctx context.Context, domain, rawURL string, manifest *model.PageManifest) resilience.Outcome {
	if c.acquire != nil {
		if err := c.acquire(ctx, domain); err != nil {
			return resilience.Outcome{Kind: resilience.Fatal, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return resilience.Outcome{Kind: resilience.Fatal, Err: eris.Wrap(err, "fetcher: create request")}
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept-Language", c.lang)
	if c.cond != nil {
		for k, vals := range c.cond.PrepareRequest(rawURL) {
			for _, v := range vals {
				req.Header.Set(k, v)
			}
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.Outcome{
			Kind: resilience.Retryable,
			Err:  resilience.NewTransientError(eris.Wrapf(err, "fetcher: get %s", rawURL), 0),
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	manifest.StatusCode = resp.StatusCode
	manifest.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000.0

	if c.feedback != nil {
		c.feedback(domain, resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return resilience.Outcome{
			Kind:       resilience.NotModified,
			StatusCode: resp.StatusCode,
		}

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return resilience.Outcome{
				Kind: resilience.Retryable,
				Err:  resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), 0),
			}
		}
		manifest.ContentLength = int64(len(body))
		manifest.HTMLHash = cache.HashBody(body)
		return resilience.Outcome{
			Kind:       resilience.Success,
			StatusCode: resp.StatusCode,
			Body:       body,
			ETag:       resp.Header.Get("ETag"),
			LastMod:    resp.Header.Get("Last-Modified"),
		}

	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		err := eris.Errorf("fetcher: http %d from %s", resp.StatusCode, rawURL)
		if resp.StatusCode == http.StatusTooManyRequests {
			zap.L().Warn("rate limited by upstream",
				zap.String("domain", domain),
				zap.String("url", rawURL),
			)
		}
		return resilience.Outcome{
			Kind:       resilience.Retryable,
			StatusCode: resp.StatusCode,
			Err:        resilience.NewTransientError(err, resp.StatusCode),
		}

	default:
		return resilience.Outcome{
			Kind:       resilience.Fatal,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("fetcher: http %d from %s", resp.StatusCode, rawURL),
		}
	}
}
