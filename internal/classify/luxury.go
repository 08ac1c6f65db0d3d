package classify

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/refdata"
)

// ReportRow explains one product's luxury classification for the
// kept/dropped report.
type ReportRow struct {
	Status    string  `json:"status"` // "kept" or "dropped"
	ProductID string  `json:"product_id"`
	Brand     string  `json:"brand"`
	Name      string  `json:"name"`
	Price     float64 `json:"price_value"`
	Currency  string  `json:"currency"`
	BrandTier string  `json:"brand_tier,omitempty"`
	Category  string  `json:"category"`
	Reason    string  `json:"reason"`
}

// Classify sets BrandTier and IsLuxury on every product and returns the
// kept/dropped report. Idempotent: re-running over an unchanged population
// with the same reference list produces identical assignments.
func Classify(products []*model.Product, tiers *refdata.BrandTiers, thresholds *Thresholds) []ReportRow {
	log := zap.L().With(zap.String("component", "classify"))

	rows := make([]ReportRow, 0, len(products))
	kept := 0

	for _, p := range products {
		p.BrandTier = tiers.Tier(p.Brand)
		p.IsLuxury = false

		row := ReportRow{
			ProductID: p.ProductID,
			Brand:     p.Brand,
			Name:      p.Name,
			Price:     p.PriceValue,
			Currency:  p.Currency,
			BrandTier: p.BrandTier,
			Category:  p.TopCategory(),
		}

		switch {
		case p.BrandTier == "":
			row.Status = "dropped"
			row.Reason = "brand not in luxury tiers"

		case p.PriceValue <= 0:
			row.Status = "dropped"
			row.Reason = "no valid price"

		default:
			threshold, ok := thresholds.P75(p.Site, p.TopCategory())
			if !ok {
				threshold = FallbackLuxuryFloor
			}
			if p.PriceValue >= threshold {
				p.IsLuxury = true
				row.Status = "kept"
				row.Reason = fmt.Sprintf("tier %s brand, price %.2f >= threshold %.2f", p.BrandTier, p.PriceValue, threshold)
				kept++
			} else {
				row.Status = "dropped"
				row.Reason = fmt.Sprintf("price %.2f below category threshold %.2f", p.PriceValue, threshold)
			}
		}

		rows = append(rows, row)
	}

	log.Info("luxury classification complete",
		zap.Int("total", len(products)),
		zap.Int("luxury", kept),
	)
	return rows
}
