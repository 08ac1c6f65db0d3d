// Package classify computes price-percentile thresholds per (site,
// category) bucket and applies the luxury predicate: listed brand tier AND
// price at or above the bucket's p75.
package classify

import (
	"sort"
	"time"

	"github.com/verte-labs/refillery/internal/model"
)

// MinBucketSize is the minimum number of priced products a (site, category)
// bucket needs before thresholds are computed for it.
const MinBucketSize = 5

// FallbackLuxuryFloor is the conservative absolute price floor applied when
// a product's bucket has no thresholds.
const FallbackLuxuryFloor = 100.0

type bucketKey struct {
	site     model.Site
	category string
}

// ComputeStats derives p25/p50/p75/p90 per (site, top-level category) over
// all positively priced products. Deterministic: products are stably sorted
// by price with input order breaking ties, and the percentile estimator is
// linear interpolation at rank q*(n-1), so identical input yields identical
// thresholds across runs.
func ComputeStats(products []*model.Product) []model.PriceStats {
	buckets := make(map[bucketKey][]float64)
	order := make([]bucketKey, 0)

	for _, p := range products {
		if p.PriceValue <= 0 {
			continue
		}
		category := p.TopCategory()
		if category == "" {
			continue
		}
		k := bucketKey{p.Site, category}
		if _, seen := buckets[k]; !seen {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], p.PriceValue)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].site != order[j].site {
			return order[i].site < order[j].site
		}
		return order[i].category < order[j].category
	})

	now := time.Now().UTC()
	var stats []model.PriceStats
	for _, k := range order {
		prices := buckets[k]
		if len(prices) < MinBucketSize {
			continue
		}
		sort.Stable(sort.Float64Slice(prices))
		stats = append(stats, model.PriceStats{
			Site:       k.site,
			Category:   k.category,
			P25:        percentile(prices, 0.25),
			P50:        percentile(prices, 0.50),
			P75:        percentile(prices, 0.75),
			P90:        percentile(prices, 0.90),
			N:          len(prices),
			Currency:   "EUR",
			ComputedTS: now,
		})
	}
	return stats
}

// percentile computes the q-th quantile of sorted values by linear
// interpolation at rank q*(n-1), matching PERCENTILE_CONT semantics.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	rank := q * float64(n-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Thresholds indexes p75 values by bucket for the luxury predicate.
type Thresholds struct {
	p75 map[bucketKey]float64
}

// NewThresholds builds the threshold index from computed stats.
func NewThresholds(stats []model.PriceStats) *Thresholds {
	t := &Thresholds{p75: make(map[bucketKey]float64, len(stats))}
	for _, s := range stats {
		t.p75[bucketKey{s.Site, s.Category}] = s.P75
	}
	return t
}

// P75 returns the bucket's p75 threshold, or (0, false) when the bucket had
// too few products.
func (t *Thresholds) P75(site model.Site, category string) (float64, bool) {
	v, ok := t.p75[bucketKey{site, category}]
	return v, ok
}
