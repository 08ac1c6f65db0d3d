package robots

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/resilience"
)

// DefaultTTL is how long a fetched robots snapshot stays valid.
const DefaultTTL = 24 * time.Hour

// DefaultCrawlDelay applies when robots.txt specifies none.
const DefaultCrawlDelay = 1.0 // seconds

// Policy fetches, caches, and answers robots.txt queries per domain.
// Snapshots are immutable once fetched; a malformed or unreachable
// robots.txt yields a deny-all snapshot. Safe for concurrent use.
type Policy struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	snapshot *model.RobotsSnapshot
	data     *robotstxt.RobotsData // nil for deny-all snapshots
	fetched  time.Time
}

// Option configures a Policy.
type Option func(*Policy)

// WithTTL overrides the snapshot TTL.
func WithTTL(ttl time.Duration) Option {
	return func(p *Policy) { p.ttl = ttl }
}

// WithHTTPClient overrides the HTTP client used for the robots fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Policy) { p.client = c }
}

// NewPolicy creates a robots policy for the given crawler user agent.
func NewPolicy(userAgent string, opts ...Option) *Policy {
	p := &Policy{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		ttl:       DefaultTTL,
		entries:   make(map[string]*entry),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Fetch returns the current snapshot for a domain, fetching robots.txt if
// the cache is empty or expired.
func (p *Policy) Fetch(ctx context.Context, domain string) (*model.RobotsSnapshot, error) {
	p.mu.Lock()
	if e, ok := p.entries[domain]; ok && time.Since(e.fetched) < p.ttl {
		snap := e.snapshot
		p.mu.Unlock()
		return snap, nil
	}
	p.mu.Unlock()

	e := p.fetchEntry(ctx, domain)

	p.mu.Lock()
	p.entries[domain] = e
	p.mu.Unlock()

	return e.snapshot, nil
}

func (p *Policy) fetchEntry(ctx context.Context, domain string) *entry {
	log := zap.L().With(zap.String("component", "robots"), zap.String("domain", domain))
	robotsURL := "https://" + domain + "/robots.txt"
	now := time.Now().UTC()

	body, err := resilience.DoVal(ctx, resilience.RetryConfig{MaxAttempts: 2},
		func(ctx context.Context) (fetched, error) {
			return p.download(ctx, robotsURL)
		})
	if err != nil {
		// Fail closed: no readable robots.txt means no crawling.
		log.Warn("robots.txt unreachable, denying domain", zap.Error(err))
		return &entry{
			snapshot: denyAllSnapshot(domain, now),
			fetched:  now,
		}
	}

	data, err := robotstxt.FromBytes(body.raw)
	if err != nil {
		log.Warn("robots.txt malformed, denying domain", zap.Error(err))
		return &entry{
			snapshot: denyAllSnapshot(domain, now),
			fetched:  now,
		}
	}

	snap := &model.RobotsSnapshot{
		ID:           model.RobotsSnapshotID(domain, now, body.raw),
		Domain:       domain,
		FetchedAt:    now,
		ETag:         body.etag,
		LastModified: body.lastMod,
		Raw:          body.raw,
	}
	snap.AllowRules, snap.DisallowRules, snap.CrawlDelay = extractRules(body.raw, p.userAgent)

	log.Info("robots.txt fetched",
		zap.Int("disallow_rules", len(snap.DisallowRules)),
		zap.Float64("crawl_delay", snap.CrawlDelay),
	)

	return &entry{snapshot: snap, data: data, fetched: now}
}

type fetched struct {
	raw     []byte
	etag    string
	lastMod string
}

func (p *Policy) download(ctx context.Context, robotsURL string) (fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return fetched{}, eris.Wrap(err, "robots: create request")
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fetched{}, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("robots: status %d from %s", resp.StatusCode, robotsURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return fetched{}, resilience.NewTransientError(err, resp.StatusCode)
		}
		return fetched{}, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fetched{}, resilience.NewTransientError(eris.Wrap(err, "robots: read body"), 0)
	}

	return fetched{
		raw:     raw,
		etag:    resp.Header.Get("ETag"),
		lastMod: resp.Header.Get("Last-Modified"),
	}, nil
}

// IsAllowed reports whether the policy permits fetching rawURL. Deny-all
// snapshots and unknown domains both answer false.
func (p *Policy) IsAllowed(snapshot *model.RobotsSnapshot, rawURL string) bool {
	if snapshot == nil || snapshot.DenyAll {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	p.mu.Lock()
	e, ok := p.entries[snapshot.Domain]
	p.mu.Unlock()
	if !ok || e.data == nil {
		return false
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return e.data.FindGroup(p.userAgent).Test(path)
}

// CrawlDelay returns the crawl delay for the snapshot, applying the default
// polite delay when robots.txt is silent.
func (p *Policy) CrawlDelay(snapshot *model.RobotsSnapshot) time.Duration {
	delay := DefaultCrawlDelay
	if snapshot != nil && snapshot.CrawlDelay > 0 {
		delay = snapshot.CrawlDelay
	}
	return time.Duration(delay * float64(time.Second))
}

func denyAllSnapshot(domain string, now time.Time) *model.RobotsSnapshot {
	return &model.RobotsSnapshot{
		ID:            model.RobotsSnapshotID(domain, now, nil),
		Domain:        domain,
		FetchedAt:     now,
		DisallowRules: []string{"/"},
		DenyAll:       true,
	}
}

// extractRules pulls the Allow/Disallow/Crawl-delay lines that apply to
// userAgent (falling back to the * group) for the audit snapshot. Decision
// logic goes through the parsed robots data; this is bookkeeping only.
func extractRules(raw []byte, userAgent string) (allow, disallow []string, crawlDelay float64) {
	agentToken := strings.ToLower(userAgent)
	if i := strings.IndexAny(agentToken, "/ "); i > 0 {
		agentToken = agentToken[:i]
	}

	type group struct {
		agents   []string
		allow    []string
		disallow []string
		delay    float64
	}
	var groups []*group
	var cur *group
	lastWasAgent := false

	for line := range strings.Lines(string(raw)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		value = strings.TrimSpace(value)

		switch directive {
		case "user-agent":
			if cur == nil || !lastWasAgent {
				cur = &group{}
				groups = append(groups, cur)
			}
			cur.agents = append(cur.agents, strings.ToLower(value))
			lastWasAgent = true
			continue
		case "allow":
			if cur != nil && value != "" {
				cur.allow = append(cur.allow, value)
			}
		case "disallow":
			if cur != nil && value != "" {
				cur.disallow = append(cur.disallow, value)
			}
		case "crawl-delay":
			if cur != nil {
				if d, err := strconv.ParseFloat(value, 64); err == nil {
					cur.delay = d
				}
			}
		}
		lastWasAgent = false
	}

	// Prefer the group naming our agent; fall back to *.
	var star *group
	for _, g := range groups {
		for _, a := range g.agents {
			if a == agentToken {
				return g.allow, g.disallow, g.delay
			}
			if a == "*" {
				star = g
			}
		}
	}
	if star != nil {
		return star.allow, star.disallow, star.delay
	}
	return nil, nil, 0
}
