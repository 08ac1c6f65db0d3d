package model

import "time"

// PriceStats holds price percentiles for one (site, top-level category)
// bucket. Derived data: recomputed from the current product population on
// every classification run, never a source of truth.
type PriceStats struct {
	Site     Site    `json:"site"`
	Category string  `json:"category"`
	P25      float64 `json:"p25"`
	P50      float64 `json:"p50"`
	P75      float64 `json:"p75"`
	P90      float64 `json:"p90"`
	N        int     `json:"n"`
	Currency string  `json:"currency"`

	ComputedTS time.Time `json:"computed_ts"`
}
