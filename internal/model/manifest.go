package model

import "time"

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusPartial  RunStatus = "partial"
	RunStatusFailed   RunStatus = "failed"
)

// IntegrityStatus is the verdict of the integrity gate.
type IntegrityStatus string

const (
	IntegrityPass    IntegrityStatus = "PASS"
	IntegrityFail    IntegrityStatus = "FAIL"
	IntegrityUnknown IntegrityStatus = "UNKNOWN"
)

// CrawlMode selects which crawl phase(s) to run.
type CrawlMode string

const (
	ModeDiscovery CrawlMode = "discovery"
	ModeDetails   CrawlMode = "details"
	ModeReviews   CrawlMode = "reviews"
	ModeFull      CrawlMode = "full"
)

// ComplianceManifest is the per-domain compliance record for a run.
// Append-only across runs.
type ComplianceManifest struct {
	RunID               string     `json:"run_id"`
	Domain              string     `json:"domain"`
	RobotsSnapshotID    string     `json:"robots_snapshot_id"`
	RobotsETag          string     `json:"robots_etag,omitempty"`
	AllowPaths          []string   `json:"allow_paths,omitempty"`
	DisallowPaths       []string   `json:"disallow_paths,omitempty"`
	CrawlDelay          float64    `json:"crawl_delay,omitempty"`
	StartTS             time.Time  `json:"start_ts"`
	EndTS               *time.Time `json:"end_ts,omitempty"`
	TotalRequests       int        `json:"total_requests"`
	BlockedRequests     int        `json:"blocked_requests"`
	RateLimitViolations int        `json:"rate_limit_violations"`
	Blocked             bool       `json:"blocked"`
	BlockedReason       string     `json:"blocked_reason,omitempty"`
}

// RunManifest is the append-only audit record for one crawl run.
type RunManifest struct {
	RunID   string    `json:"run_id"`
	Site    Site      `json:"site"`
	Mode    CrawlMode `json:"mode"`
	Started time.Time `json:"started_at"`
	// Finished is nil while the run is in flight.
	Finished *time.Time `json:"finished_at,omitempty"`

	PagesFetched        int `json:"pages_fetched"`
	PagesNotModified    int `json:"pages_not_modified"`
	ProductsCount       int `json:"products_count"`
	ReviewsCount        int `json:"reviews_count"`
	ErrorsCount         int `json:"errors_count"`
	RateLimitViolations int `json:"rate_limit_violations"`

	RobotsSnapshotID string          `json:"robots_snapshot_id,omitempty"`
	RefDataHash      string          `json:"refdata_hash,omitempty"`
	IntegrityStatus  IntegrityStatus `json:"integrity_status"`
	Status           RunStatus       `json:"status"`

	Compliance []ComplianceManifest `json:"compliance_manifests,omitempty"`
}

// PageManifest records one fetched page for forensic audit.
type PageManifest struct {
	URL            string    `json:"url"`
	Site           Site      `json:"site"`
	ScrapeTS       time.Time `json:"scrape_ts"`
	StatusCode     int       `json:"status_code"`
	ContentLength  int64     `json:"content_length,omitempty"`
	HTMLHash       string    `json:"html_hash,omitempty"`
	RobotsAllowed  bool      `json:"robots_allowed"`
	CrawlDelay     float64   `json:"crawl_delay,omitempty"`
	UserAgent      string    `json:"user_agent"`
	ResponseTimeMS float64   `json:"response_time_ms,omitempty"`
}
