// Package integrity validates the collected dataset before promotion:
// provenance completeness, the refillable-evidence contract, fixture
// quarantine, numeric bounds, and dataset-level synthetic-data heuristics.
// The gate never repairs records; it reports.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/refdata"
)

// Config controls the gate for one run.
type Config struct {
	// AllowFixtures disables fixture quarantine. Off for production runs.
	AllowFixtures bool
	// AuditSampleSize is the number of validated products sampled for
	// manual spot checks. Zero disables sampling.
	AuditSampleSize int
	// Tiers enables the brand-overlap heuristic when set.
	Tiers *refdata.BrandTiers
}

// DefaultAuditSampleSize is used when the config leaves the sample size unset.
const DefaultAuditSampleSize = 20

// AuditEntry is one sampled product for human review.
type AuditEntry struct {
	ProductID string `json:"product_id"`
	Brand     string `json:"brand"`
	Name      string `json:"name"`
	SourceURL string `json:"source_url"`
}

// Report is the gate's verdict over one dataset.
type Report struct {
	Status          model.IntegrityStatus `json:"status"`
	Violations      []model.Violation     `json:"violations,omitempty"`
	ProductsChecked int                   `json:"products_checked"`
	ReviewsChecked  int                   `json:"reviews_checked"`
	AuditSample     []AuditEntry          `json:"audit_sample,omitempty"`
	CheckedTS       time.Time             `json:"checked_ts"`
}

// Gate runs the integrity checks.
type Gate struct {
	cfg Config
	log *zap.Logger
}

// New builds a gate from config, filling defaults.
func New(cfg Config) *Gate {
	if cfg.AuditSampleSize == 0 {
		cfg.AuditSampleSize = DefaultAuditSampleSize
	}
	return &Gate{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "integrity")),
	}
}

// generatorBrandRe matches placeholder brand names emitted by data
// generators ("Brand_1", "Brand 23").
var generatorBrandRe = regexp.MustCompile(`^[Bb]rand[_ ]?\d+$`)

// Check validates every record plus dataset-level heuristics and returns
// the verdict. PASS requires zero violations. The manifest is optional;
// when present its counters are checked for plausibility against the
// record counts.
func (g *Gate) Check(products []*model.Product, reviews []*model.Review, manifest *model.RunManifest) *Report {
	r := &Report{
		Status:          model.IntegrityPass,
		ProductsChecked: len(products),
		ReviewsChecked:  len(reviews),
		CheckedTS:       time.Now().UTC(),
	}

	for _, p := range products {
		g.checkProduct(r, p)
	}
	for _, rev := range reviews {
		g.checkReview(r, rev)
	}
	g.checkSynthetic(r, products, reviews, manifest)

	if len(r.Violations) > 0 {
		r.Status = model.IntegrityFail
	}
	r.AuditSample = g.sample(products)

	g.log.Info("integrity check complete",
		zap.String("status", string(r.Status)),
		zap.Int("products", r.ProductsChecked),
		zap.Int("reviews", r.ReviewsChecked),
		zap.Int("violations", len(r.Violations)),
	)
	return r
}

func (g *Gate) checkProduct(r *Report, p *model.Product) {
	if missing := p.MissingFields(); len(missing) > 0 {
		r.add(model.ViolationProvenance, p.ProductID, "product",
			fmt.Sprintf("missing provenance fields: %v", missing))
	}
	if p.RefillableFlag && len(p.RefillEvidence) == 0 {
		r.add(model.ViolationEvidence, p.ProductID, "product",
			"refillable_flag set with empty evidence list")
	}
	if p.IsFixture && !g.cfg.AllowFixtures {
		r.add(model.ViolationFixture, p.ProductID, "product",
			"fixture record in production layer")
	}
	if p.PriceValue <= 0 {
		r.add(model.ViolationBounds, p.ProductID, "product",
			fmt.Sprintf("price_value %.2f out of bounds", p.PriceValue))
	}
	if p.RatingAvg != 0 && (p.RatingAvg < 1 || p.RatingAvg > 5) {
		r.add(model.ViolationBounds, p.ProductID, "product",
			fmt.Sprintf("rating_avg %.2f out of bounds", p.RatingAvg))
	}
	if generatorBrandRe.MatchString(p.Brand) {
		r.add(model.ViolationSynthetic, p.ProductID, "product",
			fmt.Sprintf("generator-pattern brand name %q", p.Brand))
	}
}

func (g *Gate) checkReview(r *Report, rev *model.Review) {
	if missing := rev.MissingFields(); len(missing) > 0 {
		r.add(model.ViolationProvenance, rev.ReviewID, "review",
			fmt.Sprintf("missing provenance fields: %v", missing))
	}
	if rev.IsFixture && !g.cfg.AllowFixtures {
		r.add(model.ViolationFixture, rev.ReviewID, "review",
			"fixture record in production layer")
	}
	if !rev.RatingInBounds() {
		r.add(model.ViolationBounds, rev.ReviewID, "review",
			fmt.Sprintf("rating %d out of 1-5", rev.Rating))
	}
}

// checkSynthetic applies dataset-level heuristics that individual-record
// checks cannot see: uniform price gaps, review duplication, per-brand
// price collapse, zero tier overlap, and manifest plausibility.
func (g *Gate) checkSynthetic(r *Report, products []*model.Product, reviews []*model.Review, manifest *model.RunManifest) {
	if gap, ok := uniformPriceGap(products); ok {
		r.add(model.ViolationSynthetic, "", "product",
			fmt.Sprintf("prices form an arithmetic sequence with gap %.2f", gap))
	}

	if ratio, ok := reviewDuplicationRatio(reviews); ok && ratio > 0.10 {
		r.add(model.ViolationSynthetic, "", "review",
			fmt.Sprintf("%.0f%% of review bodies are duplicates", ratio*100))
	}

	for _, brand := range collapsedPriceBrands(products) {
		r.add(model.ViolationSynthetic, "", "product",
			fmt.Sprintf("brand %q has 5+ products at a single price point", brand))
	}

	if g.cfg.Tiers != nil && len(products) >= 20 && tierOverlap(products, g.cfg.Tiers) == 0 {
		r.add(model.ViolationSynthetic, "", "product",
			"no brand in the dataset appears in the luxury tier list")
	}

	if manifest != nil && manifest.Mode == model.ModeFull && manifest.ProductsCount > 0 {
		requests := manifest.PagesFetched + manifest.PagesNotModified
		if requests < 2*manifest.ProductsCount {
			r.add(model.ViolationSynthetic, "", "manifest",
				fmt.Sprintf("%d page fetches cannot account for %d products in a full run",
					requests, manifest.ProductsCount))
		}
	}
}

// uniformPriceGap reports whether 8+ distinct prices form an arithmetic
// sequence. Real catalogs never do.
func uniformPriceGap(products []*model.Product) (float64, bool) {
	seen := make(map[float64]struct{})
	var prices []float64
	for _, p := range products {
		if p.PriceValue <= 0 {
			continue
		}
		if _, dup := seen[p.PriceValue]; dup {
			continue
		}
		seen[p.PriceValue] = struct{}{}
		prices = append(prices, p.PriceValue)
	}
	if len(prices) < 8 {
		return 0, false
	}
	sort.Float64s(prices)
	gap := prices[1] - prices[0]
	for i := 2; i < len(prices); i++ {
		if math.Abs((prices[i]-prices[i-1])-gap) > 0.005 {
			return 0, false
		}
	}
	return gap, true
}

// reviewDuplicationRatio returns the share of reviews whose body text is an
// exact duplicate of an earlier review. Needs at least 10 reviews.
func reviewDuplicationRatio(reviews []*model.Review) (float64, bool) {
	if len(reviews) < 10 {
		return 0, false
	}
	seen := make(map[string]struct{}, len(reviews))
	dups := 0
	for _, rev := range reviews {
		if _, dup := seen[rev.Body]; dup {
			dups++
			continue
		}
		seen[rev.Body] = struct{}{}
	}
	return float64(dups) / float64(len(reviews)), true
}

// collapsedPriceBrands lists brands whose 5+ products all share one price.
func collapsedPriceBrands(products []*model.Product) []string {
	type brandPrices struct {
		count  int
		prices map[float64]struct{}
	}
	byBrand := make(map[string]*brandPrices)
	for _, p := range products {
		if p.PriceValue <= 0 {
			continue
		}
		bp := byBrand[p.Brand]
		if bp == nil {
			bp = &brandPrices{prices: make(map[float64]struct{})}
			byBrand[p.Brand] = bp
		}
		bp.count++
		bp.prices[p.PriceValue] = struct{}{}
	}
	var flagged []string
	for brand, bp := range byBrand {
		if bp.count >= 5 && len(bp.prices) == 1 {
			flagged = append(flagged, brand)
		}
	}
	sort.Strings(flagged)
	return flagged
}

func tierOverlap(products []*model.Product, tiers *refdata.BrandTiers) int {
	n := 0
	for _, p := range products {
		if tiers.Tier(p.Brand) != "" {
			n++
		}
	}
	return n
}

// sample picks a deterministic subset of products for manual audit: records
// are ordered by the hash of their identity so the selection is stable
// across runs yet spread over the dataset.
func (g *Gate) sample(products []*model.Product) []AuditEntry {
	if g.cfg.AuditSampleSize <= 0 || len(products) == 0 {
		return nil
	}
	type keyed struct {
		key string
		p   *model.Product
	}
	ordered := make([]keyed, 0, len(products))
	for _, p := range products {
		h := sha256.Sum256([]byte(p.ProductID + p.ScrapeTS.UTC().Format(time.RFC3339)))
		ordered = append(ordered, keyed{hex.EncodeToString(h[:8]), p})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].key < ordered[j].key })

	n := g.cfg.AuditSampleSize
	if n > len(ordered) {
		n = len(ordered)
	}
	sample := make([]AuditEntry, 0, n)
	for _, k := range ordered[:n] {
		sample = append(sample, AuditEntry{
			ProductID: k.p.ProductID,
			Brand:     k.p.Brand,
			Name:      k.p.Name,
			SourceURL: k.p.SourceURL,
		})
	}
	return sample
}

func (r *Report) add(kind model.ViolationKind, recordID, entity, detail string) {
	r.Violations = append(r.Violations, model.Violation{
		Kind:     kind,
		RecordID: recordID,
		Entity:   entity,
		Detail:   detail,
	})
}
