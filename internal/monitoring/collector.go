package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/store"
)

// MetricsSnapshot holds a point-in-time view of crawl health.
type MetricsSnapshot struct {
	// Run metrics within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsPartial  int     `json:"runs_partial"`
	RunsFailed   int     `json:"runs_failed"`
	RunFailRate  float64 `json:"run_fail_rate"`

	PagesFetched        int     `json:"pages_fetched"`
	PagesNotModified    int     `json:"pages_not_modified"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	ProductsCount       int     `json:"products_count"`
	ReviewsCount        int     `json:"reviews_count"`
	ErrorsCount         int     `json:"errors_count"`
	RateLimitViolations int     `json:"rate_limit_violations"`

	BlockedDomains []string `json:"blocked_domains,omitempty"`

	IntegrityStatus model.IntegrityStatus `json:"integrity_status"`
	ViolationCount  int                   `json:"violation_count"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of crawl metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		IntegrityStatus: model.IntegrityUnknown,
		LookbackHours:   lookbackHours,
		CollectedAt:     time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	blocked := make(map[string]struct{})
	for _, r := range runs {
		if r.Started.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusPartial:
			snap.RunsPartial++
		case model.RunStatusFailed:
			snap.RunsFailed++
		}
		snap.PagesFetched += r.PagesFetched
		snap.PagesNotModified += r.PagesNotModified
		snap.ProductsCount += r.ProductsCount
		snap.ReviewsCount += r.ReviewsCount
		snap.ErrorsCount += r.ErrorsCount
		snap.RateLimitViolations += r.RateLimitViolations
		for _, cm := range r.Compliance {
			if cm.Blocked {
				blocked[cm.Domain] = struct{}{}
			}
		}
	}

	finished := snap.RunsComplete + snap.RunsPartial + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if total := snap.PagesFetched + snap.PagesNotModified; total > 0 {
		snap.CacheHitRate = float64(snap.PagesNotModified) / float64(total)
	}
	for d := range blocked {
		snap.BlockedDomains = append(snap.BlockedDomains, d)
	}

	report, err := c.store.LatestIntegrityReport(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest integrity report")
	}
	if report != nil {
		snap.IntegrityStatus = report.Status
		snap.ViolationCount = len(report.Violations)
	}

	return snap, nil
}
