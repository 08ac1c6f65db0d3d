package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/refdata"
)

func testTiers(t *testing.T) *refdata.BrandTiers {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"tiers": {
			"1": ["Chanel", "Guerlain"],
			"1.5": ["Chloé"]
		}
	}`), 0o644))
	tiers, err := refdata.LoadBrandTiers(path)
	require.NoError(t, err)
	return tiers
}

func fragranceThresholds(p75 float64) *Thresholds {
	return NewThresholds([]model.PriceStats{
		{Site: model.SiteSephora, Category: "fragrance", P75: p75},
	})
}

func TestClassify_TierAndPriceBothRequired(t *testing.T) {
	tiers := testTiers(t)
	th := fragranceThresholds(140)

	chanel := &model.Product{
		ProductID: "P1", Site: model.SiteSephora, Brand: "Chanel",
		Name: "N°5 Eau de Parfum", CategoryPath: []string{"fragrance"}, PriceValue: 150, Currency: "EUR",
	}
	generic := &model.Product{
		ProductID: "P2", Site: model.SiteSephora, Brand: "GenericCo",
		Name: "Eau Fraîche", CategoryPath: []string{"fragrance"}, PriceValue: 150, Currency: "EUR",
	}

	rows := Classify([]*model.Product{chanel, generic}, tiers, th)
	require.Len(t, rows, 2)

	// Same price, same category: only the listed brand is kept.
	assert.True(t, chanel.IsLuxury)
	assert.Equal(t, "1", chanel.BrandTier)
	assert.Equal(t, "kept", rows[0].Status)

	assert.False(t, generic.IsLuxury)
	assert.Empty(t, generic.BrandTier)
	assert.Equal(t, "dropped", rows[1].Status)
	assert.Equal(t, "brand not in luxury tiers", rows[1].Reason)
}

func TestClassify_TierBrandBelowThresholdDropped(t *testing.T) {
	tiers := testTiers(t)
	th := fragranceThresholds(140)

	p := &model.Product{
		ProductID: "P1", Site: model.SiteSephora, Brand: "Chanel",
		CategoryPath: []string{"fragrance"}, PriceValue: 60,
	}

	rows := Classify([]*model.Product{p}, tiers, th)
	assert.False(t, p.IsLuxury)
	assert.Equal(t, "1", p.BrandTier, "tier is recorded even when the product is dropped")
	assert.Equal(t, "dropped", rows[0].Status)
	assert.Contains(t, rows[0].Reason, "below category threshold")
}

func TestClassify_FallbackFloorWhenBucketMissing(t *testing.T) {
	tiers := testTiers(t)
	th := NewThresholds(nil)

	above := &model.Product{
		ProductID: "P1", Site: model.SiteSephora, Brand: "Guerlain",
		CategoryPath: []string{"fragrance"}, PriceValue: 110,
	}
	below := &model.Product{
		ProductID: "P2", Site: model.SiteSephora, Brand: "Guerlain",
		CategoryPath: []string{"fragrance"}, PriceValue: 95,
	}

	Classify([]*model.Product{above, below}, tiers, th)

	assert.True(t, above.IsLuxury, "fallback floor is %v", FallbackLuxuryFloor)
	assert.False(t, below.IsLuxury)
}

func TestClassify_NoPriceDropped(t *testing.T) {
	tiers := testTiers(t)

	p := &model.Product{
		ProductID: "P1", Site: model.SiteSephora, Brand: "Chloé",
		CategoryPath: []string{"fragrance"},
	}

	rows := Classify([]*model.Product{p}, tiers, fragranceThresholds(140))
	assert.Equal(t, "dropped", rows[0].Status)
	assert.Equal(t, "no valid price", rows[0].Reason)
}

func TestClassify_Idempotent(t *testing.T) {
	tiers := testTiers(t)
	th := fragranceThresholds(100)

	products := []*model.Product{
		{ProductID: "P1", Site: model.SiteSephora, Brand: "Chanel", CategoryPath: []string{"fragrance"}, PriceValue: 150},
		{ProductID: "P2", Site: model.SiteSephora, Brand: "Autre", CategoryPath: []string{"fragrance"}, PriceValue: 150},
		{ProductID: "P3", Site: model.SiteSephora, Brand: "Chloé", CategoryPath: []string{"fragrance"}, PriceValue: 80},
	}

	first := Classify(products, tiers, th)
	second := Classify(products, tiers, th)

	assert.Equal(t, first, second, "re-running over an unchanged population changes nothing")
}
