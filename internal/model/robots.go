package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RobotsSnapshot is a domain's robots.txt as observed at fetch time.
// Immutable once fetched; re-fetched per run or on TTL expiry. The snapshot
// ID ties every emitted record back to the exact ruleset it was collected
// under.
type RobotsSnapshot struct {
	ID            string    `json:"id"`
	Domain        string    `json:"domain"`
	FetchedAt     time.Time `json:"fetched_at"`
	AllowRules    []string  `json:"allow_rules,omitempty"`
	DisallowRules []string  `json:"disallow_rules"`
	CrawlDelay    float64   `json:"crawl_delay,omitempty"` // seconds; 0 means unspecified
	ETag          string    `json:"etag,omitempty"`
	LastModified  string    `json:"last_modified,omitempty"`

	// DenyAll is set when robots.txt was malformed or unreachable.
	// The policy fails closed, so a DenyAll snapshot blocks the domain.
	DenyAll bool `json:"deny_all,omitempty"`

	// Raw is the fetched robots.txt body, retained for audit.
	Raw []byte `json:"-"`
}

// RobotsSnapshotID derives a stable snapshot identifier from the domain,
// fetch time, and body hash.
func RobotsSnapshotID(domain string, fetchedAt time.Time, body []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte(fetchedAt.UTC().Format(time.RFC3339)))
	h.Write(body)
	return domain + "-" + hex.EncodeToString(h.Sum(nil))[:16]
}
