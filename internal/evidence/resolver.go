// Package evidence turns raw refillable signals into tagged, citable
// evidence and links standalone refill SKUs to their parent products.
package evidence

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/adapter"
	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/refdata"
)

// Default keyword sets for refillable detection, French first since the
// reference storefronts are French.
var (
	DefaultFrenchKeywords = []string{
		"rechargeable", "recharge", "éco-recharge", "eco-recharge",
		"recharges disponibles", "flacon rechargeable",
	}
	DefaultEnglishKeywords = []string{
		"refillable", "refill", "refill pouch", "refill cartridge",
		"refills available",
	}
)

// citationContext bounds how much surrounding text a citation keeps.
const citationContext = 60

// Resolver aggregates badge/facet/text refillable signals per product.
type Resolver struct {
	keywords []string // lowercased, diacritic-folded
}

// NewResolver creates a resolver with the given keyword sets. Empty input
// falls back to the default French and English sets.
func NewResolver(french, english []string) *Resolver {
	if len(french) == 0 {
		french = DefaultFrenchKeywords
	}
	if len(english) == 0 {
		english = DefaultEnglishKeywords
	}

	var folded []string
	for _, k := range append(append([]string{}, french...), english...) {
		folded = append(folded, refdata.NormalizeBrand(k))
	}
	// Longest keywords first so citations point at the most specific match.
	sort.Slice(folded, func(i, j int) bool { return len(folded[i]) > len(folded[j]) })

	return &Resolver{keywords: folded}
}

// Resolve inspects raw signals and produces the evidence set. The
// refillable flag is an OR over all sources: any non-empty evidence set
// flags the product. Evidence is ordered badge > facet > text for
// reporting, each entry carrying the substring that matched.
func (r *Resolver) Resolve(signals adapter.RefillSignals) ([]model.RefillEvidence, bool) {
	var evidence []model.RefillEvidence

	for _, badge := range signals.Badges {
		if cite, ok := r.match(badge); ok {
			evidence = append(evidence, model.RefillEvidence{Kind: model.EvidenceBadge, Citation: cite})
			break
		}
	}
	for _, facet := range signals.Facets {
		if cite, ok := r.match(facet); ok {
			evidence = append(evidence, model.RefillEvidence{Kind: model.EvidenceFacet, Citation: cite})
			break
		}
	}
	for _, text := range signals.Texts {
		if cite, ok := r.match(text); ok {
			evidence = append(evidence, model.RefillEvidence{Kind: model.EvidenceText, Citation: cite})
			break
		}
	}

	sort.SliceStable(evidence, func(i, j int) bool {
		return model.EvidenceRank(evidence[i].Kind) < model.EvidenceRank(evidence[j].Kind)
	})

	return evidence, len(evidence) > 0
}

// Apply resolves signals and writes the result onto the product.
func (r *Resolver) Apply(p *model.Product, signals adapter.RefillSignals) {
	ev, flagged := r.Resolve(signals)
	p.RefillEvidence = ev
	p.RefillableFlag = flagged
}

// match looks for any keyword in text and returns a citation: the matched
// keyword with up to citationContext runes of surrounding text.
func (r *Resolver) match(text string) (string, bool) {
	folded := refdata.NormalizeBrand(text)
	for _, kw := range r.keywords {
		idx := strings.Index(folded, kw)
		if idx < 0 {
			continue
		}
		start := idx - citationContext/2
		if start < 0 {
			start = 0
		}
		end := idx + len(kw) + citationContext/2
		if end > len(folded) {
			end = len(folded)
		}
		return strings.TrimSpace(folded[start:end]), true
	}
	return "", false
}

// refill SKU name markers, folded.
var refillSKUMarkers = []string{"recharge", "eco-recharge", "refill"}

// IsRefillSKU reports whether a product is itself a standalone refill
// (pouch or cartridge) rather than a refillable primary product.
func IsRefillSKU(p *model.Product) bool {
	name := refdata.NormalizeBrand(p.Name)
	for _, m := range refillSKUMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// LinkRefills back-references each refill SKU to its parent product by
// normalized brand plus product-line overlap, preferring a parent in the
// same size family. Unresolved refills keep an empty parent reference and
// are never dropped.
func LinkRefills(products []*model.Product) int {
	log := zap.L().With(zap.String("component", "evidence.linker"))

	type key struct {
		site  model.Site
		brand string
	}
	parents := make(map[key][]*model.Product)
	for _, p := range products {
		if IsRefillSKU(p) {
			continue
		}
		k := key{p.Site, refdata.NormalizeBrand(p.Brand)}
		parents[k] = append(parents[k], p)
	}

	linked := 0
	for _, refill := range products {
		if !IsRefillSKU(refill) {
			continue
		}

		candidates := parents[key{refill.Site, refdata.NormalizeBrand(refill.Brand)}]
		best := bestParent(refill, candidates)
		if best == nil {
			log.Debug("refill SKU unresolved",
				zap.String("product_id", refill.ProductID),
				zap.String("name", refill.Name),
			)
			continue
		}

		refill.ParentProductID = best.ProductID
		linked++
	}
	return linked
}

// bestParent scores candidates by shared line tokens, breaking ties with
// the size-family heuristic (a refill's size matching the parent's
// suggests the same line).
func bestParent(refill *model.Product, candidates []*model.Product) *model.Product {
	refillTokens := lineTokens(refill)
	if len(refillTokens) == 0 {
		return nil
	}

	var best *model.Product
	bestScore := 0.0
	for _, cand := range candidates {
		score := tokenOverlap(refillTokens, lineTokens(cand))
		if score <= 0 {
			continue
		}
		if sameSizeFamily(refill.SizeMLG, cand.SizeMLG) {
			score += 0.25
		}
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}

	// Require a majority of the refill's line tokens to appear in the
	// parent; weaker overlap leaves the SKU unresolved.
	if bestScore < 0.5 {
		return nil
	}
	return best
}

var lineStopwords = map[string]bool{
	"recharge": true, "refill": true, "eco": true, "eco-recharge": true,
	"pour": true, "de": true, "la": true, "le": true, "ml": true, "g": true,
}

func lineTokens(p *model.Product) []string {
	var tokens []string
	for _, t := range strings.Fields(refdata.NormalizeBrand(p.Name)) {
		if lineStopwords[t] || len(t) <= 1 {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	matched := 0
	for _, t := range a {
		if set[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(a))
}

// sameSizeFamily groups sizes into coarse buckets: travel (<30), standard
// (30-99), large (>=100 ml or g).
func sameSizeFamily(a, b float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	return sizeFamily(a) == sizeFamily(b)
}

func sizeFamily(v float64) int {
	switch {
	case v < 30:
		return 0
	case v < 100:
		return 1
	default:
		return 2
	}
}
