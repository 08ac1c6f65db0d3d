package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is the stored conditional-GET state for one normalized URL.
// Entries never expire on their own; only a fresh 200 overwrites one, so
// staleness is bounded by crawl frequency rather than a TTL here.
type Entry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	BodyHash     string    `json:"body_hash"`
	FetchedAt    time.Time `json:"fetched_at"`

	// Extraction is the serialized extraction result from the last 200
	// response, reused verbatim on 304 so no re-parse happens.
	Extraction []byte `json:"extraction,omitempty"`
}

// Conditional stores ETag/Last-Modified state per URL and the extraction
// produced from the last full response. Safe for concurrent use.
type Conditional struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewConditional creates an empty conditional cache.
func NewConditional() *Conditional {
	return &Conditional{entries: make(map[string]Entry)}
}

// NormalizeURL canonicalizes a URL for cache keying and discovery dedup:
// lowercased scheme/host, default ports stripped, fragment dropped, query
// parameters sorted, trailing slash trimmed (except the bare root).
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	if q := u.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

// HashBody returns the hex SHA-256 of a response body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// PrepareRequest returns the conditional headers to attach for a URL, or
// nil when nothing has been cached yet.
func (c *Conditional) PrepareRequest(rawURL string) http.Header {
	key := NormalizeURL(rawURL)

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}

	h := make(http.Header)
	if e.ETag != "" {
		h.Set("If-None-Match", e.ETag)
	}
	if e.LastModified != "" {
		h.Set("If-Modified-Since", e.LastModified)
	}
	if len(h) == 0 {
		return nil
	}
	return h
}

// RecordResponse updates cache state for a response. A 200 overwrites the
// entry with the new validators and extraction; a 304 leaves the stored
// entry untouched. Other statuses are ignored.
func (c *Conditional) RecordResponse(rawURL string, status int, etag, lastModified string, body, extraction []byte) {
	if status != http.StatusOK {
		return
	}
	key := NormalizeURL(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{
		URL:          key,
		ETag:         etag,
		LastModified: lastModified,
		BodyHash:     HashBody(body),
		FetchedAt:    time.Now().UTC(),
		Extraction:   extraction,
	}
}

// Extraction returns the stored extraction payload for a URL. Used by the
// orchestrator on a 304 to skip re-parsing.
func (c *Conditional) Extraction(rawURL string) ([]byte, bool) {
	key := NormalizeURL(rawURL)

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || len(e.Extraction) == 0 {
		return nil, false
	}
	return e.Extraction, true
}

// Get returns the raw entry for a URL.
func (c *Conditional) Get(rawURL string) (Entry, bool) {
	key := NormalizeURL(rawURL)

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return e, ok
}

// Entries snapshots all cache entries, for persistence between runs.
func (c *Conditional) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Restore seeds the cache from persisted entries, normally at run start.
func (c *Conditional) Restore(entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		c.entries[NormalizeURL(e.URL)] = e
	}
}
