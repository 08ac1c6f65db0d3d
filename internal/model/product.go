package model

import "time"

// Site identifies a supported retailer.
type Site string

const (
	SiteSephora    Site = "sephora"
	SiteMarionnaud Site = "marionnaud"
	SiteNocibe     Site = "nocibe"
)

// EvidenceKind tags the source of a refillable signal.
type EvidenceKind string

const (
	// EvidenceBadge is a badge image or label on the product page.
	// The strongest independent signal.
	EvidenceBadge EvidenceKind = "badge"
	// EvidenceFacet is a structured filter/facet flag from the listing.
	EvidenceFacet EvidenceKind = "facet"
	// EvidenceText is a keyword match in free-form product text.
	EvidenceText EvidenceKind = "text"
)

// evidenceRank orders kinds for reporting: badge > facet > text.
var evidenceRank = map[EvidenceKind]int{
	EvidenceBadge: 0,
	EvidenceFacet: 1,
	EvidenceText:  2,
}

// EvidenceRank returns the reporting precedence of a kind (lower is stronger).
// Unknown kinds sort last.
func EvidenceRank(k EvidenceKind) int {
	if r, ok := evidenceRank[k]; ok {
		return r
	}
	return len(evidenceRank)
}

// RefillEvidence is one refillable signal with the substring that matched,
// kept per source so the flag stays auditable.
type RefillEvidence struct {
	Kind     EvidenceKind `json:"source_kind"`
	Citation string       `json:"citation_text"`
}

// ProductRef is a discovered product URL awaiting detail fetch. Ephemeral;
// produced by the discovery phase and consumed by the detail phase.
type ProductRef struct {
	Site         Site      `json:"site"`
	URL          string    `json:"url"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Product is one scraped product at one point in time. Immutable once
// written to the validated layer; re-crawls create new versions keyed by
// (ProductID, ScrapeTS).
type Product struct {
	ProductID    string   `json:"product_id"`
	Site         Site     `json:"site"`
	Brand        string   `json:"brand"`
	Line         string   `json:"line,omitempty"`
	Name         string   `json:"name"`
	CategoryPath []string `json:"category_path"`
	PriceValue   float64  `json:"price_value"`
	Currency     string   `json:"currency"`
	Availability string   `json:"availability,omitempty"`

	Size     string  `json:"size,omitempty"`
	SizeMLG  float64 `json:"size_ml_or_g,omitempty"`
	EANGTIN  string  `json:"ean_gtin,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`

	RatingAvg   float64 `json:"rating_avg,omitempty"`
	RatingCount int     `json:"rating_count,omitempty"`

	Breadcrumbs []string `json:"breadcrumbs,omitempty"`

	// Refillable resolution. RefillableFlag true requires RefillEvidence
	// non-empty; the integrity gate rejects the combination otherwise.
	RefillableFlag  bool             `json:"refillable_flag"`
	RefillEvidence  []RefillEvidence `json:"refill_evidence,omitempty"`
	ParentProductID string           `json:"parent_product_id,omitempty"`

	// Luxury classification, set by the price-backstop classifier.
	IsLuxury  bool   `json:"is_luxury"`
	BrandTier string `json:"brand_tier,omitempty"`

	FirstSeenTS time.Time `json:"first_seen_ts,omitempty"`
	LastSeenTS  time.Time `json:"last_seen_ts,omitempty"`

	Provenance

	// IsFixture marks records originating from test fixtures. Fixture rows
	// are quarantined by the integrity gate unless the run allows them.
	IsFixture bool `json:"is_fixture,omitempty"`
}

// TopCategory returns the root category label, or "" when the path is empty.
func (p *Product) TopCategory() string {
	if len(p.CategoryPath) == 0 {
		return ""
	}
	return p.CategoryPath[0]
}
