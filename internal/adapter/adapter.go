// Package adapter holds the per-retailer extraction logic. Adapters are
// pure functions over already-fetched pages: robots checks, rate limiting,
// and fetching all happen in the orchestrator before an adapter sees HTML.
package adapter

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/verte-labs/refillery/internal/model"
)

// Adapter is the extraction contract for one retailer. Every adapter
// supports discovery and product detail extraction; review support is the
// optional ReviewSource interface.
type Adapter interface {
	// Site returns the retailer identifier (e.g. "sephora").
	Site() model.Site

	// Domain returns the host all of this adapter's URLs live on.
	Domain() string

	// SeedURLs returns the category listing URLs discovery starts from.
	// When refillableOnly is set, the URLs carry the site's refillable
	// facet so discovery enumerates refill candidates directly.
	SeedURLs(refillableOnly bool) []string

	// ExtractRefs pulls product references out of a fetched listing page.
	// Idempotent by URL; the orchestrator deduplicates across pages.
	ExtractRefs(pageURL string, doc *goquery.Document) []model.ProductRef

	// NextPageURL returns the listing URL for the page after pageURL, or
	// "" when pagination is exhausted.
	NextPageURL(pageURL string, doc *goquery.Document) string

	// ExtractProduct builds a Product from a fetched detail page, along
	// with the raw refillable signals found on it. Optional selector
	// misses degrade to zero-valued fields on a partial record; only a
	// page missing the identity fields (id, brand, name, price) fails,
	// with a MissingFieldError.
	ExtractProduct(ref model.ProductRef, doc *goquery.Document, ext *Extractor) (*model.Product, RefillSignals, error)
}

// RefillSignals are the raw refillable indicators an adapter lifted off a
// product page, before the evidence resolver turns them into tagged
// evidence.
type RefillSignals struct {
	Badges []string `json:"badges,omitempty"`
	Facets []string `json:"facets,omitempty"`
	Texts  []string `json:"texts,omitempty"`
}

// ReviewSource is implemented by adapters whose retailer exposes reviews.
type ReviewSource interface {
	// ReviewsURL returns the review listing URL for a product page, page
	// numbers starting at 1. Returns "" when the page is out of range.
	ReviewsURL(ref model.ProductRef, page int) string

	// ExtractReviews pulls reviews for productID out of a fetched review
	// page.
	ExtractReviews(ref model.ProductRef, productID string, doc *goquery.Document, ext *Extractor) []model.Review
}

// Registry maps site names to adapters, preserving registration order.
type Registry struct {
	adapters map[model.Site]Adapter
	order    []model.Site
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.Site]Adapter)}
}

// Register adds an adapter.
func (r *Registry) Register(a Adapter) {
	site := a.Site()
	if _, exists := r.adapters[site]; !exists {
		r.order = append(r.order, site)
	}
	r.adapters[site] = a
}

// Get returns the adapter for a site.
func (r *Registry) Get(site model.Site) (Adapter, error) {
	a, ok := r.adapters[site]
	if !ok {
		return nil, eris.Errorf("adapter: unknown site %q", site)
	}
	return a, nil
}

// All returns all adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, site := range r.order {
		out = append(out, r.adapters[site])
	}
	return out
}

// Sites returns all registered site names in registration order.
func (r *Registry) Sites() []model.Site {
	out := make([]model.Site, len(r.order))
	copy(out, r.order)
	return out
}

// Default returns a registry with the built-in retailer adapters.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewSephora())
	r.Register(NewMarionnaud())
	return r
}
