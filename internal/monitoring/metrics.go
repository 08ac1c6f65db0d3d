// Package monitoring tracks crawl health: in-process run counters, store-
// backed metric snapshots, and webhook alerting on threshold breaches.
package monitoring

import (
	"sort"
	"sync"
)

// RunMetrics accumulates per-run counters. Safe for concurrent use by
// crawl workers.
type RunMetrics struct {
	mu sync.Mutex

	pagesFetched     int
	pagesNotModified int
	products         int
	reviews          int
	errors           int
	denied           int

	// selectorMisses counts extraction-selector failures per field name.
	// Misses degrade records to partial, they never fail the run.
	selectorMisses map[string]int
	extracted      int
}

// NewRunMetrics creates an empty counter set.
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{selectorMisses: make(map[string]int)}
}

func (m *RunMetrics) PageFetched() {
	m.mu.Lock()
	m.pagesFetched++
	m.mu.Unlock()
}

func (m *RunMetrics) PageNotModified() {
	m.mu.Lock()
	m.pagesNotModified++
	m.mu.Unlock()
}

func (m *RunMetrics) ProductExtracted() {
	m.mu.Lock()
	m.products++
	m.extracted++
	m.mu.Unlock()
}

func (m *RunMetrics) ReviewExtracted(n int) {
	m.mu.Lock()
	m.reviews += n
	m.mu.Unlock()
}

func (m *RunMetrics) Error() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func (m *RunMetrics) Denied() {
	m.mu.Lock()
	m.denied++
	m.mu.Unlock()
}

// SelectorMisses records missing-field counts from one extraction.
func (m *RunMetrics) SelectorMisses(fields []string) {
	if len(fields) == 0 {
		return
	}
	m.mu.Lock()
	for _, f := range fields {
		m.selectorMisses[f]++
	}
	m.mu.Unlock()
}

// Totals returns a copy of the current counters.
func (m *RunMetrics) Totals() (pagesFetched, pagesNotModified, products, reviews, errors, denied int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pagesFetched, m.pagesNotModified, m.products, m.reviews, m.errors, m.denied
}

// FieldMissRate is the per-field selector miss rate over extracted records.
type FieldMissRate struct {
	Field string  `json:"field"`
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

// MissRates returns per-field selector miss rates, worst first.
func (m *RunMetrics) MissRates() []FieldMissRate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extracted == 0 || len(m.selectorMisses) == 0 {
		return nil
	}
	rates := make([]FieldMissRate, 0, len(m.selectorMisses))
	for field, count := range m.selectorMisses {
		rates = append(rates, FieldMissRate{
			Field: field,
			Count: count,
			Rate:  float64(count) / float64(m.extracted),
		})
	}
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].Rate != rates[j].Rate {
			return rates[i].Rate > rates[j].Rate
		}
		return rates[i].Field < rates[j].Field
	})
	return rates
}
